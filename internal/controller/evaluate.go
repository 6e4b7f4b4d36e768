package controller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
	"github.com/hochfrequenz/issue-autopilot/internal/plan"
)

// EvaluateTick asks the external evaluator how completely the agent has
// resolved its issue and folds the verdict back into the plan. Low
// coverage with sufficient confidence expands the plan with the
// evaluator's proposed tasks; a stop recommendation terminates the
// agent.
func (c *Controller) EvaluateTick(ctx context.Context, ref domain.IssueRef) (TickResult, error) {
	cfg := c.config()

	agent, err := c.store.GetAgentByRef(ref)
	if err != nil {
		return TickResult{}, err
	}
	if agent.Paused || agent.State == domain.StateStopped {
		return TickResult{Outcome: OutcomeSkipped, Agent: agent}, nil
	}

	pv, err := c.store.LatestPlanVersion(agent.ID)
	if err != nil {
		return TickResult{}, err
	}
	if pv == nil {
		return TickResult{Outcome: OutcomeSkipped, Agent: agent}, nil
	}

	agent.State = domain.StateEvaluating
	now := time.Now()
	agent.LastEvalAt = &now

	var completed []string
	for i := range pv.Tasks {
		if pv.Tasks[i].Status == domain.TaskCompleted {
			completed = append(completed, pv.Tasks[i].ID)
		}
	}

	eval, err := c.evaluator.Evaluate(ctx, agent, completed)
	if err != nil {
		// Evaluator trouble counts as a failed iteration, not a crash.
		agent.AdjustConfidence(-cfg.Adaptive.ConfidenceDecreaseOnFail)
		agent.IdleIterations++
		agent.State = domain.StateExecuting
		if uerr := c.store.UpdateAgent(agent); uerr != nil {
			return TickResult{}, uerr
		}
		return TickResult{Outcome: OutcomeNoop, Agent: agent}, nil
	}

	if eval.StopRecommended {
		reason := domain.StopStalled
		if eval.CoverageScore >= cfg.Eval.CoverageThreshold {
			reason = domain.StopCompleted
		}
		return c.stop(agent, pv, reason)
	}

	if eval.CoverageScore < cfg.Eval.CoverageThreshold &&
		agent.Confidence >= cfg.Eval.ConfidenceGate && len(eval.NewTasks) > 0 {
		add := eval.NewTasks
		if len(add) > cfg.Eval.MaxNewTasksPerEval {
			add = add[:cfg.Eval.MaxNewTasksPerEval]
		}
		summary := fmt.Sprintf("evaluation added %d task(s): %s", len(add), eval.Rationale)
		res, err := c.plans.UpdatePlan(ctx, agent, plan.Mutation{Append: add, Summary: summary})
		if err != nil {
			log.Printf("expanding plan for %s: %v", agent.Ref, err)
		} else if !res.Success {
			log.Printf("plan expansion for %s rejected: %d conflict(s)", agent.Ref, len(res.Conflicts))
		}
	}

	agent.State = domain.StateExecuting
	if err := c.store.UpdateAgent(agent); err != nil {
		return TickResult{}, err
	}
	return TickResult{Outcome: OutcomeNoop, Agent: agent}, nil
}

// EvalDue returns the refs of agents quiet for at least idleSecs that
// are still running, for the periodic evaluation sweep
func (c *Controller) EvalDue(idleSecs int) ([]domain.IssueRef, error) {
	agents, err := c.store.ListAgents()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-time.Duration(idleSecs) * time.Second)
	var due []domain.IssueRef
	for _, a := range agents {
		if !a.Active() || a.Paused {
			continue
		}
		last := a.UpdatedAt
		if a.LastEvalAt != nil && a.LastEvalAt.After(last) {
			last = *a.LastEvalAt
		}
		if last.Before(cutoff) {
			due = append(due, a.Ref)
		}
	}
	return due, nil
}
