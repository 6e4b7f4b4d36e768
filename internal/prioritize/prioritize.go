// Package prioritize scores tasks, orders them for execution and
// aggregates plan-wide risk. Prioritization never fails: missing
// context degrades to neutral defaults instead of blocking the loop.
package prioritize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

// Result is the full output of one prioritization pass
type Result struct {
	Tasks           []domain.Task
	ExecutionOrder  []string
	Risk            domain.RiskAssessment
	Recommendations []domain.Recommendation
}

// Prioritizer computes task scores and execution order
type Prioritizer struct {
	now func() time.Time
}

// New creates a Prioritizer
func New() *Prioritizer {
	return &Prioritizer{now: time.Now}
}

// Prioritize scores every task, derives a dependency-respecting
// execution order with priority as the tie-break, and assesses global
// risk for the whole task set.
func (p *Prioritizer) Prioritize(tasks []domain.Task, ctx *domain.ProjectContext) Result {
	now := p.now()

	// dependents: task -> tasks that depend on it (teacher's depGraph).
	dependents := make(map[string][]string)
	byID := make(map[string]*domain.Task, len(tasks))
	scored := make([]domain.Task, len(tasks))
	copy(scored, tasks)
	for i := range scored {
		byID[scored[i].ID] = &scored[i]
	}
	for i := range scored {
		for _, dep := range scored[i].DependsOn {
			dependents[dep] = append(dependents[dep], scored[i].ID)
		}
	}

	for i := range scored {
		t := &scored[i]
		gap := skillGapFor(t, ctx)

		t.Impact = scoreImpact(t)
		t.Urgency = scoreUrgency(t, ctx, len(dependents[t.ID]), now)
		t.Complexity = scoreComplexity(t, gap)
		t.TechnicalDebt = scoreTechnicalDebt(t, ctx)
		t.BusinessValue = scoreBusinessValue(t, t.TechnicalDebt)
		t.RiskLevel = classifyRisk(t)
		t.Priority = combinePriority(t)
		t.EstimatedHours = estimateEffort(t, gap)
		t.DependencyLevel = domain.ClampScore(
			15*float64(len(t.DependsOn)) + 10*float64(len(dependents[t.ID])))
	}

	order, cycleMembers := executionOrder(scored, dependents)

	var recs []domain.Recommendation
	if len(cycleMembers) > 0 {
		// Back-edges are dropped rather than erroring; surface the
		// cycle so somebody fixes the plan.
		recs = append(recs, domain.Recommendation{
			Type:    "dependency_cycle",
			Message: fmt.Sprintf("dependency cycle broken by dropping a back-edge among: %s", strings.Join(cycleMembers, ", ")),
			TaskIDs: cycleMembers,
		})
	}

	risk := assessGlobalRisk(scored, ctx)
	recs = append(recs, riskRecommendations(scored, risk)...)

	return Result{
		Tasks:           scored,
		ExecutionOrder:  order,
		Risk:            risk,
		Recommendations: recs,
	}
}

// executionOrder runs Kahn's algorithm, always picking the
// highest-priority ready task next. When no task is ready but tasks
// remain, a cycle exists: the highest-priority remaining task is forced
// ready, which drops the back-edge into it.
func executionOrder(tasks []domain.Task, dependents map[string][]string) ([]string, []string) {
	inDegree := make(map[string]int, len(tasks))
	known := make(map[string]bool, len(tasks))
	priority := make(map[string]float64, len(tasks))
	for i := range tasks {
		known[tasks[i].ID] = true
		priority[tasks[i].ID] = tasks[i].Priority
	}
	for i := range tasks {
		for _, dep := range tasks[i].DependsOn {
			if known[dep] {
				inDegree[tasks[i].ID]++
			}
		}
	}

	var ready []string
	for i := range tasks {
		if inDegree[tasks[i].ID] == 0 {
			ready = append(ready, tasks[i].ID)
		}
	}

	var order []string
	var cycleMembers []string
	visited := make(map[string]bool, len(tasks))

	for len(order) < len(tasks) {
		if len(ready) == 0 {
			// Cycle: force the best remaining task ready.
			var best string
			for i := range tasks {
				id := tasks[i].ID
				if visited[id] {
					continue
				}
				if best == "" || priority[id] > priority[best] {
					best = id
				}
			}
			cycleMembers = append(cycleMembers, best)
			ready = append(ready, best)
		}

		sort.Slice(ready, func(i, j int) bool {
			if priority[ready[i]] != priority[ready[j]] {
				return priority[ready[i]] > priority[ready[j]]
			}
			return ready[i] < ready[j]
		})

		id := ready[0]
		ready = ready[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)

		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 && !visited[next] {
				ready = append(ready, next)
			}
		}
	}

	return order, cycleMembers
}

// assessGlobalRisk collects structural risk factors across the task set
func assessGlobalRisk(tasks []domain.Task, ctx *domain.ProjectContext) domain.RiskAssessment {
	var factors []domain.RiskFactor

	highRisk := 0
	complexDeps := 0
	claims := make(map[string]int)
	migration := false
	maxFiles := 0
	for i := range tasks {
		t := &tasks[i]
		if t.RiskLevel == domain.RiskHigh || t.RiskLevel == domain.RiskCritical {
			highRisk++
		}
		if t.DependencyLevel > 70 {
			complexDeps++
		}
		for _, f := range t.Files {
			claims[f]++
		}
		if containsAnyKeyword(taskText(t), "schema", "migration") {
			migration = true
		}
		if len(t.Files) > maxFiles {
			maxFiles = len(t.Files)
		}
	}

	if n := len(tasks); n > 0 && float64(highRisk)/float64(n) > 0.3 {
		factors = append(factors, domain.RiskFactor{
			Name:        "high_risk_concentration",
			Severity:    8,
			Description: fmt.Sprintf("%d of %d tasks are high or critical risk", highRisk, n),
		})
	}
	if ctx != nil && ctx.WorkloadPercent > 90 {
		factors = append(factors, domain.RiskFactor{
			Name:        "team_over_capacity",
			Severity:    7,
			Description: fmt.Sprintf("team workload at %.0f%%", ctx.WorkloadPercent),
		})
	}
	if ctx != nil && ctx.TechnicalDebtRatio > 60 {
		factors = append(factors, domain.RiskFactor{
			Name:        "elevated_technical_debt",
			Severity:    5,
			Description: fmt.Sprintf("project debt ratio at %.0f%%", ctx.TechnicalDebtRatio),
		})
	}
	if complexDeps > 0 {
		factors = append(factors, domain.RiskFactor{
			Name:        "complex_dependencies",
			Severity:    6,
			Description: fmt.Sprintf("%d tasks with heavy dependency entanglement", complexDeps),
		})
	}

	overall := domain.RiskLow
	if len(factors) > 0 {
		var maxSev, sum float64
		for _, f := range factors {
			if f.Severity > maxSev {
				maxSev = f.Severity
			}
			sum += f.Severity
		}
		mean := sum / float64(len(factors))
		switch {
		case maxSev >= 8:
			overall = domain.RiskCritical
		case mean >= 6:
			overall = domain.RiskHigh
		case mean >= 4:
			overall = domain.RiskMedium
		}
	}

	parallelSafe := true
	for _, n := range claims {
		if n > 1 {
			parallelSafe = false
			break
		}
	}

	rollback := domain.RollbackSimple
	switch {
	case migration || maxFiles > 15:
		rollback = domain.RollbackComplex
	case maxFiles > 5 || highRisk > 0:
		rollback = domain.RollbackModerate
	}

	return domain.RiskAssessment{
		OverallRiskLevel:        overall,
		RiskFactors:             factors,
		ParallelExecutionSafety: parallelSafe,
		RollbackComplexity:      rollback,
	}
}

func riskRecommendations(tasks []domain.Task, risk domain.RiskAssessment) []domain.Recommendation {
	var recs []domain.Recommendation

	var critical []string
	for i := range tasks {
		if tasks[i].RiskLevel == domain.RiskCritical {
			critical = append(critical, tasks[i].ID)
		}
	}
	if len(critical) > 0 {
		recs = append(recs, domain.Recommendation{
			Type:    "critical_tasks",
			Message: "schedule critical-risk tasks early and alone in their batch",
			TaskIDs: critical,
		})
	}
	if !risk.ParallelExecutionSafety {
		recs = append(recs, domain.Recommendation{
			Type:    "serialize_execution",
			Message: "multiple tasks claim the same file; execute them sequentially",
		})
	}
	return recs
}
