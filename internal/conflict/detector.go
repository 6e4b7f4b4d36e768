// Package conflict detects overlap between the planned work of
// concurrent agents on the same repository. Conflicts are recomputed
// from current snapshots on every pass and never stored as mutable
// state, so they cannot go stale.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

// AgentSnapshot is the footprint one agent declares: the files its
// tasks touch and the manifest dependency versions it pins
type AgentSnapshot struct {
	AgentID      string
	Ref          domain.IssueRef
	Files        []string
	Dependencies map[string]string
}

// SnapshotSource yields the current snapshots of all non-completed
// agents on a repository
type SnapshotSource interface {
	ActiveAgents(owner, repo string) ([]AgentSnapshot, error)
}

// Detector compares one agent's footprint against every other active
// agent on the same repository. It only reports; resolution is left to
// downstream consumers.
type Detector struct {
	source SnapshotSource
}

// New creates a Detector backed by the given snapshot source
func New(source SnapshotSource) *Detector {
	return &Detector{source: source}
}

// Detect returns all conflicts between the given agent and its peers
func (d *Detector) Detect(agent AgentSnapshot) ([]domain.Conflict, error) {
	peers, err := d.source.ActiveAgents(agent.Ref.Owner, agent.Ref.Repo)
	if err != nil {
		return nil, fmt.Errorf("loading active agents for %s: %w", agent.Ref.RepoKey(), err)
	}

	var conflicts []domain.Conflict
	for _, peer := range peers {
		if peer.AgentID == agent.AgentID {
			continue
		}
		if c := fileOverlap(agent, peer); c != nil {
			conflicts = append(conflicts, *c)
		}
		if c := dependencyMismatch(agent, peer); c != nil {
			conflicts = append(conflicts, *c)
		}
	}
	return conflicts, nil
}

// DetectForTasks runs detection against a proposed task set instead of
// the agent's committed plan, for pre-commit validation of mutations
func (d *Detector) DetectForTasks(agent AgentSnapshot, tasks []domain.Task) ([]domain.Conflict, error) {
	seen := make(map[string]bool)
	var files []string
	for _, t := range tasks {
		for _, f := range t.Files {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	proposed := agent
	proposed.Files = files
	return d.Detect(proposed)
}

func fileOverlap(a, b AgentSnapshot) *domain.Conflict {
	set := make(map[string]bool, len(a.Files))
	for _, f := range a.Files {
		set[f] = true
	}
	var shared []string
	for _, f := range b.Files {
		if set[f] {
			shared = append(shared, f)
		}
	}
	if len(shared) == 0 {
		return nil
	}
	sort.Strings(shared)

	severity := domain.SeverityMedium
	if len(shared) > 3 {
		severity = domain.SeverityHigh
	}

	return &domain.Conflict{
		Type:                domain.ConflictFileOverlap,
		Severity:            severity,
		Description:         fmt.Sprintf("%d file(s) claimed by both %s and %s", len(shared), a.Ref, b.Ref),
		AffectedFiles:       shared,
		ConflictingAgentIDs: []string{a.AgentID, b.AgentID},
		ResolutionOptions: []string{
			"coordinate sequential execution of the overlapping tasks",
			"split tasks so each agent owns a disjoint file set",
			"merge both issues into a single agent workflow",
		},
	}
}

func dependencyMismatch(a, b AgentSnapshot) *domain.Conflict {
	var mismatched []string
	for dep, versionA := range a.Dependencies {
		if versionB, ok := b.Dependencies[dep]; ok && versionA != versionB {
			mismatched = append(mismatched,
				fmt.Sprintf("%s (%s vs %s)", dep, versionA, versionB))
		}
	}
	if len(mismatched) == 0 {
		return nil
	}
	sort.Strings(mismatched)

	return &domain.Conflict{
		Type:                domain.ConflictDependency,
		Severity:            domain.SeverityHigh,
		Description:         "manifest version mismatch: " + strings.Join(mismatched, ", "),
		ConflictingAgentIDs: []string{a.AgentID, b.AgentID},
		ResolutionOptions: []string{
			"align both agents on a single dependency version",
			"coordinate sequential execution so the manifest settles first",
			"merge both issues into a single agent workflow",
		},
	}
}
