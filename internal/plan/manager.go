// Package plan owns the versioned task plan of each agent. Mutations
// are optimistic: a proposed task set is conflict-checked at commit
// time and rejected outright if any high-severity conflict exists, so
// no cross-agent lock is ever held across an external call.
package plan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hochfrequenz/issue-autopilot/internal/config"
	"github.com/hochfrequenz/issue-autopilot/internal/conflict"
	"github.com/hochfrequenz/issue-autopilot/internal/domain"
	"github.com/hochfrequenz/issue-autopilot/internal/prioritize"
	"github.com/hochfrequenz/issue-autopilot/internal/repoctx"
	"github.com/hochfrequenz/issue-autopilot/internal/store"
)

// Generator produces the base task plan for an issue. Implemented by
// the LLM plumbing, which is outside this system.
type Generator interface {
	GenerateBasePlan(ctx context.Context, ref domain.IssueRef) ([]domain.Task, error)
}

// UpdateResult reports the outcome of a plan mutation
type UpdateResult struct {
	Success       bool
	NewVersion    *domain.PlanVersion
	Conflicts     []domain.Conflict
	ReviewPending bool
}

// Manager owns plan versions for all agents
type Manager struct {
	store       *store.Store
	detector    *conflict.Detector
	generator   Generator
	prioritizer *prioritize.Prioritizer
	contexts    *repoctx.Cache
	rules       *OwnershipRules
	review      config.ReviewConfig
}

// NewManager creates a plan Manager
func NewManager(st *store.Store, det *conflict.Detector, gen Generator, contexts *repoctx.Cache, rules *OwnershipRules, review config.ReviewConfig) *Manager {
	return &Manager{
		store:       st,
		detector:    det,
		generator:   gen,
		prioritizer: prioritize.New(),
		contexts:    contexts,
		rules:       rules,
		review:      review,
	}
}

// EnsurePlan returns the agent's current plan, generating and
// committing version 1 if the agent has none yet.
// Generation pipeline: base plan -> adapt for detected conflicts ->
// optimize against repository activity.
func (m *Manager) EnsurePlan(ctx context.Context, agent *domain.Agent) (*domain.PlanVersion, error) {
	if pv, err := m.store.LatestPlanVersion(agent.ID); err != nil {
		return nil, err
	} else if pv != nil {
		return pv, nil
	}

	tasks, err := m.generator.GenerateBasePlan(ctx, agent.Ref)
	if err != nil {
		return nil, fmt.Errorf("generating base plan for %s: %w", agent.Ref, err)
	}
	now := time.Now()
	for i := range tasks {
		if tasks[i].Status == "" {
			tasks[i].Status = domain.TaskPending
		}
		tasks[i].CreatedAt = now
		tasks[i].UpdatedAt = now
	}

	conflicts, err := m.detector.DetectForTasks(m.snapshotOf(agent), tasks)
	if err != nil {
		return nil, err
	}
	tasks = adaptForConflicts(tasks, conflicts)
	tasks = m.optimizeForActivity(agent.Ref, tasks)

	result, err := m.commit(agent, tasks, conflicts, "initial plan")
	if err != nil {
		return nil, fmt.Errorf("committing initial plan for %s: %w", agent.Ref, err)
	}
	return result.NewVersion, nil
}

// Mutation describes a proposed change to an agent's plan
type Mutation struct {
	// Replace, when set, becomes the complete new task set.
	Replace []domain.Task
	// Append adds tasks to the current set (used by the evaluator).
	Append []domain.Task
	// Summary goes into the plan update log.
	Summary string
}

// UpdatePlan applies a mutation. The proposed task set is re-checked
// for conflicts; any file overlap with another active agent, or any
// high-severity conflict of another type, rejects the mutation and the
// plan version does not advance.
func (m *Manager) UpdatePlan(ctx context.Context, agent *domain.Agent, mut Mutation) (UpdateResult, error) {
	tasks := mut.Replace
	if tasks == nil {
		current, err := m.store.LatestPlanVersion(agent.ID)
		if err != nil {
			return UpdateResult{}, err
		}
		if current != nil {
			tasks = append(tasks, current.Tasks...)
		}
		tasks = append(tasks, mut.Append...)
	}

	conflicts, err := m.detector.DetectForTasks(m.snapshotOf(agent), tasks)
	if err != nil {
		return UpdateResult{}, err
	}
	if blocksMutation(conflicts) {
		return UpdateResult{Success: false, Conflicts: conflicts}, nil
	}

	return m.commit(agent, tasks, conflicts, mut.Summary)
}

// RecordTaskStatus commits a new plan version with updated statuses
// for the given tasks. Status-only changes never alter the agent's
// file footprint, so they bypass the conflict gate that guards task-set
// mutations.
func (m *Manager) RecordTaskStatus(agent *domain.Agent, taskIDs []string, status domain.TaskStatus, summary string) (*domain.PlanVersion, error) {
	current, err := m.store.LatestPlanVersion(agent.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("agent %s has no plan", agent.ID)
	}

	ids := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		ids[id] = true
	}
	tasks := make([]domain.Task, len(current.Tasks))
	copy(tasks, current.Tasks)
	now := time.Now()
	for i := range tasks {
		if ids[tasks[i].ID] {
			tasks[i].Status = status
			tasks[i].UpdatedAt = now
		}
	}

	pv, err := m.store.CommitPlanVersion(agent.ID, agent.PlanVersion, tasks, current.Conflicts, summary)
	if err != nil {
		return nil, err
	}
	agent.PlanVersion = pv.Version
	return pv, nil
}

// ReviewRequired reports whether the agent has an unapproved pending
// review blocking further execution
func (m *Manager) ReviewRequired(agentID string) (bool, error) {
	r, err := m.store.PendingReview(agentID)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}

// commit writes a new plan version. A CommitPlanVersion failure,
// including a lost compare-and-swap (store.ErrVersionConflict), is
// surfaced to the caller so a version race is never mistaken for a
// conflict rejection.
func (m *Manager) commit(agent *domain.Agent, tasks []domain.Task, conflicts []domain.Conflict, summary string) (UpdateResult, error) {
	pv, err := m.store.CommitPlanVersion(agent.ID, agent.PlanVersion, tasks, conflicts, summary)
	if err != nil {
		return UpdateResult{Success: false, Conflicts: conflicts}, err
	}
	agent.PlanVersion = pv.Version

	result := UpdateResult{Success: true, NewVersion: pv, Conflicts: conflicts}
	if m.needsReview(agent, pv) {
		approvers := m.rules.RequiredApprovers(pv.FilePaths())
		if len(approvers) == 0 {
			approvers = []string{"maintainer"}
		}
		if _, err := m.store.CreateReview(agent.ID, pv.Version, approvers); err == nil {
			result.ReviewPending = true
		}
	}
	return result, nil
}

// needsReview triggers the stakeholder gate on elevated risk, large
// plans, or plans touching a critical manifest file
func (m *Manager) needsReview(agent *domain.Agent, pv *domain.PlanVersion) bool {
	if len(pv.Tasks) > m.review.MaxTasksWithoutReview {
		return true
	}
	for _, p := range pv.FilePaths() {
		for _, manifest := range m.review.CriticalManifests {
			if p == manifest || pathBase(p) == manifest {
				return true
			}
		}
	}
	risk := m.prioritizer.Prioritize(pv.Tasks, m.projectContext(agent.Ref)).Risk
	return risk.OverallRiskLevel.Rank() >= domain.RiskHigh.Rank()
}

func (m *Manager) snapshotOf(agent *domain.Agent) conflict.AgentSnapshot {
	return conflict.AgentSnapshot{AgentID: agent.ID, Ref: agent.Ref}
}

func (m *Manager) projectContext(ref domain.IssueRef) *domain.ProjectContext {
	if m.contexts == nil {
		return nil
	}
	return m.contexts.Get(ref.Owner, ref.Repo)
}

// optimizeForActivity nudges ordering when the repository is busy:
// under heavy recent commit/PR volume, smaller tasks go first so the
// agent's branches stay short-lived and merge cleanly.
func (m *Manager) optimizeForActivity(ref domain.IssueRef, tasks []domain.Task) []domain.Task {
	pctx := m.projectContext(ref)
	if pctx == nil || pctx.RecentCommits+pctx.RecentPRs < 20 {
		return tasks
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return len(tasks[i].Files) < len(tasks[j].Files)
	})
	return tasks
}

// adaptForConflicts pushes tasks touching conflicted files to the back
// of the plan so non-contended work proceeds first
func adaptForConflicts(tasks []domain.Task, conflicts []domain.Conflict) []domain.Task {
	if len(conflicts) == 0 {
		return tasks
	}
	contended := make(map[string]bool)
	for _, c := range conflicts {
		for _, f := range c.AffectedFiles {
			contended[f] = true
		}
	}
	if len(contended) == 0 {
		return tasks
	}

	var clear, contendedTasks []domain.Task
	for _, t := range tasks {
		touches := false
		for _, f := range t.Files {
			if contended[f] {
				touches = true
				break
			}
		}
		if touches {
			contendedTasks = append(contendedTasks, t)
		} else {
			clear = append(clear, t)
		}
	}
	return append(clear, contendedTasks...)
}

// blocksMutation decides whether detected conflicts veto a task-set
// mutation. Claiming a file another active agent already claims always
// blocks, whatever the overlap's graded severity; other conflict types
// block at high severity and above.
func blocksMutation(conflicts []domain.Conflict) bool {
	for _, c := range conflicts {
		if c.Type == domain.ConflictFileOverlap {
			return true
		}
		if c.Severity == domain.SeverityHigh || c.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

func pathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
