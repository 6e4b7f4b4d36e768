package plan

import (
	"github.com/hochfrequenz/issue-autopilot/internal/conflict"
	"github.com/hochfrequenz/issue-autopilot/internal/store"
)

// DependencyResolver extracts manifest dependency versions for an
// agent's working branch. Implemented by the version-control binding;
// a nil resolver disables dependency-conflict detection.
type DependencyResolver func(agentID string) map[string]string

// storeSnapshots adapts the durable store into the conflict detector's
// snapshot source: an agent's footprint is the file set of its latest
// committed plan version.
type storeSnapshots struct {
	store   *store.Store
	resolve DependencyResolver
}

// NewSnapshotSource builds a conflict.SnapshotSource over the store
func NewSnapshotSource(st *store.Store, resolve DependencyResolver) conflict.SnapshotSource {
	return &storeSnapshots{store: st, resolve: resolve}
}

func (s *storeSnapshots) ActiveAgents(owner, repo string) ([]conflict.AgentSnapshot, error) {
	agents, err := s.store.ListActiveAgentsByRepo(owner, repo)
	if err != nil {
		return nil, err
	}

	var snapshots []conflict.AgentSnapshot
	for _, a := range agents {
		snap := conflict.AgentSnapshot{AgentID: a.ID, Ref: a.Ref}
		// A failed read must not make a peer's footprint look empty:
		// the conflict gate would wave overlapping plans through.
		pv, err := s.store.LatestPlanVersion(a.ID)
		if err != nil {
			return nil, err
		}
		if pv != nil {
			snap.Files = pv.FilePaths()
		}
		if s.resolve != nil {
			snap.Dependencies = s.resolve(a.ID)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}
