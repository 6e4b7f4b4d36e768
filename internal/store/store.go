// Package store provides SQLite-backed persistence for agents, plan
// versions, patch attempts and reviews. Plan versions and patch
// attempts are append-only: historical rows are never mutated.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrAgentNotFound is returned when no agent row matches
	ErrAgentNotFound = errors.New("agent not found")
	// ErrVersionConflict is returned when a plan commit loses the
	// compare-and-swap race on the agent's plan version
	ErrVersionConflict = errors.New("plan version conflict")
)

// Store provides SQLite-backed persistence
type Store struct {
	db *sql.DB
}

// New creates a Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	// Plan commits race across worker goroutines; a single writer
	// keeps SQLite happy.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAgent inserts a new agent row
func (s *Store) CreateAgent(a *domain.Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, owner, repo, issue_number, installation_id, plan_version,
			confidence, state, completed, failed, paused, iteration, idle_iterations,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Ref.Owner, a.Ref.Repo, a.Ref.IssueNumber, a.InstallationID,
		a.PlanVersion, a.Confidence, string(a.State),
		a.Completed, a.Failed, a.Paused, a.Iteration, a.IdleIterations,
		a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetAgent retrieves an agent by id
func (s *Store) GetAgent(id string) (*domain.Agent, error) {
	row := s.db.QueryRow(agentSelect+` WHERE id = ?`, id)
	return scanAgent(row)
}

// GetAgentByRef retrieves an agent by its issue reference
func (s *Store) GetAgentByRef(ref domain.IssueRef) (*domain.Agent, error) {
	row := s.db.QueryRow(agentSelect+` WHERE owner = ? AND repo = ? AND issue_number = ?`,
		ref.Owner, ref.Repo, ref.IssueNumber)
	return scanAgent(row)
}

// UpdateAgent persists the agent's mutable fields
func (s *Store) UpdateAgent(a *domain.Agent) error {
	a.UpdatedAt = time.Now()
	res, err := s.db.Exec(`
		UPDATE agents SET confidence = ?, state = ?, stop_reason = ?, completed = ?,
			failed = ?, paused = ?, iteration = ?, idle_iterations = ?, last_eval_at = ?,
			updated_at = ?
		WHERE id = ?
	`,
		a.Confidence, string(a.State), nullString(string(a.StopReason)),
		a.Completed, a.Failed, a.Paused, a.Iteration, a.IdleIterations,
		a.LastEvalAt, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// SetPaused flips the pause flag without touching iteration state
func (s *Store) SetPaused(id string, paused bool) error {
	res, err := s.db.Exec(`UPDATE agents SET paused = ?, updated_at = ? WHERE id = ?`,
		paused, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// ListActiveAgentsByRepo returns all non-completed, non-failed,
// non-stopped agents on a repository
func (s *Store) ListActiveAgentsByRepo(owner, repo string) ([]*domain.Agent, error) {
	rows, err := s.db.Query(agentSelect+`
		WHERE owner = ? AND repo = ? AND completed = FALSE AND failed = FALSE AND state != ?`,
		owner, repo, string(domain.StateStopped))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListAgents returns every agent, newest first
func (s *Store) ListAgents() ([]*domain.Agent, error) {
	rows, err := s.db.Query(agentSelect + ` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgentRows(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CommitPlanVersion atomically appends a new plan snapshot and advances
// the agent's plan version by exactly one. The transaction re-checks
// the stored version against expectedVersion, giving compare-and-swap
// semantics against two ticks racing to bump the same agent's plan.
func (s *Store) CommitPlanVersion(agentID string, expectedVersion int, tasks []domain.Task, conflicts []domain.Conflict, summary string) (*domain.PlanVersion, error) {
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return nil, err
	}
	conflictsJSON, err := json.Marshal(conflicts)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRow(`SELECT plan_version FROM agents WHERE id = ?`, agentID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	if current != expectedVersion {
		return nil, fmt.Errorf("%w: have %d, expected %d", ErrVersionConflict, current, expectedVersion)
	}

	next := current + 1
	now := time.Now()

	if _, err := tx.Exec(`
		INSERT INTO plan_versions (agent_id, version, tasks, conflicts, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		agentID, next, string(tasksJSON), string(conflictsJSON), now); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE agents SET plan_version = ?, updated_at = ? WHERE id = ?`,
		next, now, agentID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`
		INSERT INTO plan_updates (agent_id, from_version, to_version, summary, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		agentID, current, next, summary, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.PlanVersion{
		AgentID:   agentID,
		Version:   next,
		Tasks:     tasks,
		Conflicts: conflicts,
		CreatedAt: now,
	}, nil
}

// GetPlanVersion retrieves a specific plan snapshot
func (s *Store) GetPlanVersion(agentID string, version int) (*domain.PlanVersion, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, version, tasks, conflicts, created_at
		FROM plan_versions WHERE agent_id = ? AND version = ?`, agentID, version)
	return scanPlan(row)
}

// LatestPlanVersion retrieves the agent's newest plan snapshot
func (s *Store) LatestPlanVersion(agentID string) (*domain.PlanVersion, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, version, tasks, conflicts, created_at
		FROM plan_versions WHERE agent_id = ?
		ORDER BY version DESC LIMIT 1`, agentID)
	return scanPlan(row)
}

// AppendPatchAttempt writes one audit row; rows are never updated
// except to record a later rollback
func (s *Store) AppendPatchAttempt(pa *domain.PatchAttempt) error {
	reasonsJSON, err := json.Marshal(pa.Validation.Reasons)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO patch_attempts (id, agent_id, iteration, diff_hash, diff_bytes,
			files_changed, lines_added, lines_deleted, ok, reasons, applied, commit_ref,
			rolled_back, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pa.ID, pa.AgentID, pa.Iteration, pa.DiffHash,
		pa.Stats.Bytes, pa.Stats.FilesChanged, pa.Stats.Added, pa.Stats.Deleted,
		pa.Validation.OK, string(reasonsJSON), pa.Applied, nullString(pa.CommitRef),
		pa.RolledBack, pa.CreatedAt,
	)
	return err
}

// MarkRolledBack records that an applied attempt's commit was reverted
func (s *Store) MarkRolledBack(attemptID string) error {
	_, err := s.db.Exec(`UPDATE patch_attempts SET rolled_back = TRUE WHERE id = ?`, attemptID)
	return err
}

// ListPatchAttempts returns an agent's attempts, oldest first
func (s *Store) ListPatchAttempts(agentID string) ([]*domain.PatchAttempt, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_id, iteration, diff_hash, diff_bytes, files_changed,
			lines_added, lines_deleted, ok, reasons, applied, commit_ref, rolled_back, created_at
		FROM patch_attempts WHERE agent_id = ? ORDER BY iteration`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*domain.PatchAttempt
	for rows.Next() {
		var pa domain.PatchAttempt
		var reasonsJSON string
		var commitRef sql.NullString
		if err := rows.Scan(&pa.ID, &pa.AgentID, &pa.Iteration, &pa.DiffHash,
			&pa.Stats.Bytes, &pa.Stats.FilesChanged, &pa.Stats.Added, &pa.Stats.Deleted,
			&pa.Validation.OK, &reasonsJSON, &pa.Applied, &commitRef, &pa.RolledBack,
			&pa.CreatedAt); err != nil {
			return nil, err
		}
		if reasonsJSON != "" && reasonsJSON != "null" {
			if err := json.Unmarshal([]byte(reasonsJSON), &pa.Validation.Reasons); err != nil {
				return nil, err
			}
		}
		if commitRef.Valid {
			pa.CommitRef = commitRef.String
		}
		attempts = append(attempts, &pa)
	}
	return attempts, rows.Err()
}

// Review is a pending stakeholder-approval record for a plan version
type Review struct {
	ID                int64
	AgentID           string
	PlanVersion       int
	RequiredApprovers []string
	ApprovedBy        []string
	Status            string
	CreatedAt         time.Time
}

// CreateReview records that a plan version needs stakeholder approval
func (s *Store) CreateReview(agentID string, planVersion int, requiredApprovers []string) (*Review, error) {
	approversJSON, err := json.Marshal(requiredApprovers)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO reviews (agent_id, plan_version, required_approvers, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)`,
		agentID, planVersion, string(approversJSON), now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &Review{
		ID: id, AgentID: agentID, PlanVersion: planVersion,
		RequiredApprovers: requiredApprovers, Status: "pending", CreatedAt: now,
	}, nil
}

// PendingReview returns the agent's open review, or nil
func (s *Store) PendingReview(agentID string) (*Review, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_id, plan_version, required_approvers, approved_by, status, created_at
		FROM reviews WHERE agent_id = ? AND status = 'pending'
		ORDER BY id DESC LIMIT 1`, agentID)

	var r Review
	var approversJSON string
	var approvedJSON sql.NullString
	err := row.Scan(&r.ID, &r.AgentID, &r.PlanVersion, &approversJSON, &approvedJSON, &r.Status, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(approversJSON), &r.RequiredApprovers); err != nil {
		return nil, err
	}
	if approvedJSON.Valid && approvedJSON.String != "" {
		if err := json.Unmarshal([]byte(approvedJSON.String), &r.ApprovedBy); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// ApproveReview records one approver; the review closes once every
// required approver has signed off
func (s *Store) ApproveReview(reviewID int64, approver string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var approversJSON string
	var approvedJSON sql.NullString
	if err := tx.QueryRow(`SELECT required_approvers, approved_by FROM reviews WHERE id = ? AND status = 'pending'`,
		reviewID).Scan(&approversJSON, &approvedJSON); err != nil {
		return err
	}

	var required, approved []string
	if err := json.Unmarshal([]byte(approversJSON), &required); err != nil {
		return err
	}
	if approvedJSON.Valid && approvedJSON.String != "" {
		if err := json.Unmarshal([]byte(approvedJSON.String), &approved); err != nil {
			return err
		}
	}
	for _, a := range approved {
		if a == approver {
			return tx.Commit() // already counted
		}
	}
	approved = append(approved, approver)

	status := "pending"
	if containsAll(approved, required) {
		status = "approved"
	}
	newApproved, err := json.Marshal(approved)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE reviews SET approved_by = ?, status = ? WHERE id = ?`,
		string(newApproved), status, reviewID); err != nil {
		return err
	}
	return tx.Commit()
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

const agentSelect = `
	SELECT id, owner, repo, issue_number, installation_id, plan_version, confidence,
		state, stop_reason, completed, failed, paused, iteration, idle_iterations,
		last_eval_at, created_at, updated_at
	FROM agents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentFrom(sc rowScanner) (*domain.Agent, error) {
	var a domain.Agent
	var stopReason sql.NullString
	var lastEvalAt sql.NullTime
	err := sc.Scan(&a.ID, &a.Ref.Owner, &a.Ref.Repo, &a.Ref.IssueNumber, &a.InstallationID,
		&a.PlanVersion, &a.Confidence, (*string)(&a.State), &stopReason,
		&a.Completed, &a.Failed, &a.Paused, &a.Iteration, &a.IdleIterations,
		&lastEvalAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	if stopReason.Valid {
		a.StopReason = domain.StopReason(stopReason.String)
	}
	if lastEvalAt.Valid {
		t := lastEvalAt.Time
		a.LastEvalAt = &t
	}
	return &a, nil
}

func scanAgent(row *sql.Row) (*domain.Agent, error)       { return scanAgentFrom(row) }
func scanAgentRows(rows *sql.Rows) (*domain.Agent, error) { return scanAgentFrom(rows) }

func scanPlan(row *sql.Row) (*domain.PlanVersion, error) {
	var p domain.PlanVersion
	var tasksJSON string
	var conflictsJSON sql.NullString
	err := row.Scan(&p.AgentID, &p.Version, &tasksJSON, &conflictsJSON, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tasksJSON), &p.Tasks); err != nil {
		return nil, err
	}
	if conflictsJSON.Valid && conflictsJSON.String != "" && conflictsJSON.String != "null" {
		if err := json.Unmarshal([]byte(conflictsJSON.String), &p.Conflicts); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
