package store

const schema = `
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    repo TEXT NOT NULL,
    issue_number INTEGER NOT NULL,
    installation_id INTEGER DEFAULT 0,
    plan_version INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    state TEXT NOT NULL DEFAULT 'planning',
    stop_reason TEXT,
    completed BOOLEAN DEFAULT FALSE,
    failed BOOLEAN DEFAULT FALSE,
    paused BOOLEAN DEFAULT FALSE,
    iteration INTEGER NOT NULL DEFAULT 0,
    idle_iterations INTEGER NOT NULL DEFAULT 0,
    last_eval_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(owner, repo, issue_number)
);

CREATE INDEX IF NOT EXISTS idx_agents_repo ON agents(owner, repo);
CREATE INDEX IF NOT EXISTS idx_agents_state ON agents(state);

CREATE TABLE IF NOT EXISTS plan_versions (
    agent_id TEXT NOT NULL REFERENCES agents(id),
    version INTEGER NOT NULL,
    tasks TEXT NOT NULL,
    conflicts TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (agent_id, version)
);

CREATE TABLE IF NOT EXISTS plan_updates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id TEXT NOT NULL REFERENCES agents(id),
    from_version INTEGER NOT NULL,
    to_version INTEGER NOT NULL,
    summary TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_plan_updates_agent ON plan_updates(agent_id);

CREATE TABLE IF NOT EXISTS patch_attempts (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL REFERENCES agents(id),
    iteration INTEGER NOT NULL,
    diff_hash TEXT,
    diff_bytes INTEGER DEFAULT 0,
    files_changed INTEGER DEFAULT 0,
    lines_added INTEGER DEFAULT 0,
    lines_deleted INTEGER DEFAULT 0,
    ok BOOLEAN NOT NULL,
    reasons TEXT,
    applied BOOLEAN NOT NULL DEFAULT FALSE,
    commit_ref TEXT,
    rolled_back BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_patch_attempts_agent ON patch_attempts(agent_id);

CREATE TABLE IF NOT EXISTS reviews (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id TEXT NOT NULL REFERENCES agents(id),
    plan_version INTEGER NOT NULL,
    required_approvers TEXT NOT NULL,
    approved_by TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_reviews_agent ON reviews(agent_id);
`
