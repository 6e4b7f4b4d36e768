package controller

import (
	"context"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

// PatchGenerator produces a candidate change for a task batch. The
// actual synthesis (LLM plumbing) lives outside this system; the loop
// only decides when to request a patch and what to do with the result.
type PatchGenerator interface {
	GeneratePatch(ctx context.Context, batch []domain.Task, ref domain.IssueRef) (*domain.Patch, bool, error)
}

// Evaluation is the external evaluator's completeness verdict
type Evaluation struct {
	CoverageScore   float64
	Rationale       string
	NewTasks        []domain.Task
	StopRecommended bool
}

// Evaluator scores how completely the agent has resolved its issue
type Evaluator interface {
	Evaluate(ctx context.Context, agent *domain.Agent, completedTaskIDs []string) (Evaluation, error)
}
