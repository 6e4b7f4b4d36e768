package domain

import "time"

// PlanVersion is an immutable snapshot of an agent's plan.
// A new version is persisted on every accepted mutation; old versions
// are retained for audit and never mutated.
type PlanVersion struct {
	AgentID   string
	Version   int
	Tasks     []Task
	Conflicts []Conflict
	CreatedAt time.Time
}

// TaskByID returns the task with the given id, or nil
func (p *PlanVersion) TaskByID(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// FilePaths returns the union of all file paths claimed by the plan's tasks
func (p *PlanVersion) FilePaths() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, t := range p.Tasks {
		for _, f := range t.Files {
			if !seen[f] {
				seen[f] = true
				paths = append(paths, f)
			}
		}
	}
	return paths
}

// Conflict is a detected overlap between two agents' planned work.
// Conflicts are recomputed from current agent/task snapshots on every
// detection pass, never persisted as mutable state.
type Conflict struct {
	Type                ConflictType
	Severity            Severity
	Description         string
	AffectedFiles       []string
	ConflictingAgentIDs []string
	ResolutionOptions   []string
}

// RiskFactor is one structural contributor to global risk.
// Severity is graded 0-10.
type RiskFactor struct {
	Name        string
	Severity    float64
	Description string
}

// RiskAssessment is the derived, recompute-on-read global risk view
type RiskAssessment struct {
	OverallRiskLevel        RiskLevel
	RiskFactors             []RiskFactor
	ParallelExecutionSafety bool
	RollbackComplexity      RollbackComplexity
}

// Normalized maps the overall risk level onto [0,1] for batch sizing
func (r RiskAssessment) Normalized() float64 {
	return float64(r.OverallRiskLevel.Rank()) / 3.0
}

// Recommendation is prioritizer advice surfaced to stakeholders
type Recommendation struct {
	Type    string
	Message string
	TaskIDs []string
}
