package prioritize

import (
	"math"
	"testing"
	"time"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newFixed() *Prioritizer {
	p := New()
	p.now = fixedNow
	return p
}

func indexOf(order []string, id string) int {
	for i, o := range order {
		if o == id {
			return i
		}
	}
	return -1
}

func TestPrioritize_ScoresWithinBounds(t *testing.T) {
	tasks := []domain.Task{
		{ID: "t1", Title: "Fix auth token refresh", Files: []string{"internal/auth/token.go"},
			Labels: []string{"security", "critical"}},
		{ID: "t2", Title: "Refactor invoice schema migration",
			Description: "database migration with refactor",
			Files:       []string{"db/migrate.sql", "core/invoice.go"}},
		{ID: "t3", Title: "Update docs"},
	}

	result := newFixed().Prioritize(tasks, nil)

	for _, task := range result.Tasks {
		if task.Priority < 0 || task.Priority > 100 {
			t.Errorf("task %s priority %v out of [0,100]", task.ID, task.Priority)
		}
		for name, v := range map[string]float64{
			"impact": task.Impact, "urgency": task.Urgency,
			"complexity": task.Complexity, "businessValue": task.BusinessValue,
		} {
			if v < 0 || v > 100 {
				t.Errorf("task %s %s %v out of [0,100]", task.ID, name, v)
			}
		}
		if task.TechnicalDebt < -50 || task.TechnicalDebt > 100 {
			t.Errorf("task %s technicalDebt %v out of [-50,100]", task.ID, task.TechnicalDebt)
		}
	}
}

func TestPrioritize_RiskPenaltyLowersPriority(t *testing.T) {
	// Same shape, one labeled security so it classifies at higher risk.
	base := domain.Task{ID: "low", Title: "small fix", Files: []string{"pkg/util.go"}}
	risky := base
	risky.ID = "risky"
	risky.Labels = []string{"security"}

	result := newFixed().Prioritize([]domain.Task{base, risky}, nil)

	var lowTask, riskyTask domain.Task
	for _, task := range result.Tasks {
		if task.ID == "low" {
			lowTask = task
		} else {
			riskyTask = task
		}
	}
	if riskyTask.RiskLevel == domain.RiskLow {
		t.Fatalf("security task classified low risk")
	}
	// Security raises impact (+25), urgency unchanged, but the risk
	// penalty must still leave its score distinct from the plain task.
	penalty := map[domain.RiskLevel]float64{
		domain.RiskMedium: 5, domain.RiskHigh: 15, domain.RiskCritical: 30,
	}[riskyTask.RiskLevel]
	expected := riskyTask.Impact*0.25 + riskyTask.Urgency*0.25 + riskyTask.BusinessValue*0.20 -
		riskyTask.Complexity*0.15 - riskyTask.TechnicalDebt*0.10 - penalty
	if expected < 0 {
		expected = 0
	}
	if expected > 100 {
		expected = 100
	}
	if math.Abs(riskyTask.Priority-expected) > 1e-9 {
		t.Errorf("priority = %v, want weighted combination %v", riskyTask.Priority, expected)
	}
	_ = lowTask
}

func TestPrioritize_OrderRespectsDependencies(t *testing.T) {
	tasks := []domain.Task{
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "a"},
		{ID: "solo", Labels: []string{"critical"}},
	}

	result := newFixed().Prioritize(tasks, nil)

	if len(result.ExecutionOrder) != 4 {
		t.Fatalf("order length = %d, want 4", len(result.ExecutionOrder))
	}
	if indexOf(result.ExecutionOrder, "a") > indexOf(result.ExecutionOrder, "b") {
		t.Errorf("a must precede b: %v", result.ExecutionOrder)
	}
	if indexOf(result.ExecutionOrder, "b") > indexOf(result.ExecutionOrder, "c") {
		t.Errorf("b must precede c: %v", result.ExecutionOrder)
	}
}

func TestPrioritize_CycleBrokenWithRecommendation(t *testing.T) {
	tasks := []domain.Task{
		{ID: "x", DependsOn: []string{"y"}},
		{ID: "y", DependsOn: []string{"x"}},
	}

	result := newFixed().Prioritize(tasks, nil)

	if len(result.ExecutionOrder) != 2 {
		t.Fatalf("cycle must not lose tasks: order = %v", result.ExecutionOrder)
	}
	found := false
	for _, rec := range result.Recommendations {
		if rec.Type == "dependency_cycle" {
			found = true
		}
	}
	if !found {
		t.Error("expected a dependency_cycle recommendation")
	}
}

func TestPrioritize_UnknownDependencyIgnored(t *testing.T) {
	tasks := []domain.Task{{ID: "a", DependsOn: []string{"ghost"}}}
	result := newFixed().Prioritize(tasks, nil)
	if len(result.ExecutionOrder) != 1 || result.ExecutionOrder[0] != "a" {
		t.Errorf("order = %v, dependency on unknown task must not block", result.ExecutionOrder)
	}
	if len(result.Recommendations) != 0 {
		t.Errorf("unexpected recommendations: %v", result.Recommendations)
	}
}

func TestScoreUrgency_DeadlineProximity(t *testing.T) {
	now := fixedNow()
	task := domain.Task{ID: "t1", Title: "plain"}

	near := &domain.ProjectContext{Deadlines: map[string]time.Time{"t1": now.Add(3 * 24 * time.Hour)}}
	mid := &domain.ProjectContext{Deadlines: map[string]time.Time{"t1": now.Add(20 * 24 * time.Hour)}}
	far := &domain.ProjectContext{Deadlines: map[string]time.Time{"t1": now.Add(90 * 24 * time.Hour)}}

	un := scoreUrgency(&task, near, 0, now)
	um := scoreUrgency(&task, mid, 0, now)
	uf := scoreUrgency(&task, far, 0, now)

	if !(un > um && um > uf) {
		t.Errorf("urgency should fall with deadline distance: %v, %v, %v", un, um, uf)
	}
	if un-uf != 30 {
		t.Errorf("near-deadline bonus = %v, want 30", un-uf)
	}
}

func TestEstimateEffort(t *testing.T) {
	task := domain.Task{
		ID: "t1", Title: "plain work",
		Files:     []string{"a.go", "b.go"},
		DependsOn: []string{"dep1"},
	}
	// No skill keywords match, so the gap reads neutral 0.5.
	gap := skillGapFor(&task, nil)
	if gap != 0.5 {
		t.Fatalf("skill gap = %v, want neutral 0.5", gap)
	}

	task.Complexity = 60
	got := estimateEffort(&task, gap)
	want := (60.0/100)*40*1.5 + 2*1 + 0.5*2
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("estimateEffort() = %v, want %v", got, want)
	}
}

func TestAssessGlobalRisk_ParallelSafety(t *testing.T) {
	disjoint := []domain.Task{
		{ID: "a", Files: []string{"a.go"}},
		{ID: "b", Files: []string{"b.go"}},
	}
	risk := assessGlobalRisk(disjoint, nil)
	if !risk.ParallelExecutionSafety {
		t.Error("disjoint file sets should be parallel safe")
	}

	overlapping := []domain.Task{
		{ID: "a", Files: []string{"shared.go"}},
		{ID: "b", Files: []string{"shared.go"}},
	}
	risk = assessGlobalRisk(overlapping, nil)
	if risk.ParallelExecutionSafety {
		t.Error("shared file claims should not be parallel safe")
	}
}

func TestAssessGlobalRisk_RollbackComplexity(t *testing.T) {
	migration := []domain.Task{{ID: "m", Title: "run schema migration"}}
	if got := assessGlobalRisk(migration, nil).RollbackComplexity; got != domain.RollbackComplex {
		t.Errorf("RollbackComplexity = %s, want complex for migrations", got)
	}

	many := make([]string, 16)
	for i := range many {
		many[i] = "f" + string(rune('a'+i)) + ".go"
	}
	wide := []domain.Task{{ID: "w", Files: many}}
	if got := assessGlobalRisk(wide, nil).RollbackComplexity; got != domain.RollbackComplex {
		t.Errorf("RollbackComplexity = %s, want complex for >15 files", got)
	}

	small := []domain.Task{{ID: "s", Files: []string{"a.go"}}}
	if got := assessGlobalRisk(small, nil).RollbackComplexity; got != domain.RollbackSimple {
		t.Errorf("RollbackComplexity = %s, want simple", got)
	}
}

func TestAssessGlobalRisk_TeamOverCapacity(t *testing.T) {
	tasks := []domain.Task{{ID: "a"}}
	ctx := &domain.ProjectContext{WorkloadPercent: 95}
	risk := assessGlobalRisk(tasks, ctx)

	found := false
	for _, f := range risk.RiskFactors {
		if f.Name == "team_over_capacity" {
			found = true
			if f.Severity != 7 {
				t.Errorf("severity = %v, want 7", f.Severity)
			}
		}
	}
	if !found {
		t.Error("expected team_over_capacity factor at 95% workload")
	}
}

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		name string
		task domain.Task
		want domain.RiskLevel
	}{
		{"high impact and complexity", domain.Task{Impact: 85, Complexity: 85}, domain.RiskCritical},
		{"security with moderate complexity", domain.Task{Labels: []string{"security"}, Complexity: 55}, domain.RiskHigh},
		{"database keyword", domain.Task{Title: "tune database index", Impact: 40, Complexity: 40}, domain.RiskMedium},
		{"plain", domain.Task{Impact: 40, Complexity: 40}, domain.RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyRisk(&tt.task); got != tt.want {
				t.Errorf("classifyRisk() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNormalizedRisk(t *testing.T) {
	tests := []struct {
		level domain.RiskLevel
		want  float64
	}{
		{domain.RiskLow, 0}, {domain.RiskMedium, 1.0 / 3}, {domain.RiskHigh, 2.0 / 3}, {domain.RiskCritical, 1},
	}
	for _, tt := range tests {
		ra := domain.RiskAssessment{OverallRiskLevel: tt.level}
		if got := ra.Normalized(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Normalized(%s) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
