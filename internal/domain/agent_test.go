package domain

import (
	"testing"
	"time"
)

func TestParseIssueRef(t *testing.T) {
	ref, err := ParseIssueRef("acme/billing#42")
	if err != nil {
		t.Fatalf("ParseIssueRef() error = %v", err)
	}
	if ref.Owner != "acme" || ref.Repo != "billing" || ref.IssueNumber != 42 {
		t.Errorf("ParseIssueRef() = %+v", ref)
	}
	if got := ref.String(); got != "acme/billing#42" {
		t.Errorf("String() = %q, want %q", got, "acme/billing#42")
	}
	if got := ref.RepoKey(); got != "acme/billing" {
		t.Errorf("RepoKey() = %q, want %q", got, "acme/billing")
	}
}

func TestParseIssueRef_Invalid(t *testing.T) {
	for _, s := range []string{"", "acme/billing", "acme#42", "acme/billing#", "a/b#x"} {
		if _, err := ParseIssueRef(s); err == nil {
			t.Errorf("ParseIssueRef(%q) expected error", s)
		}
	}
}

func TestAdjustConfidence_Clamps(t *testing.T) {
	a := &Agent{Confidence: 0.95}
	a.AdjustConfidence(0.2)
	if a.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", a.Confidence)
	}
	a.Confidence = 0.05
	a.AdjustConfidence(-0.2)
	if a.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", a.Confidence)
	}
}

func TestAgentActive(t *testing.T) {
	a := &Agent{State: StateExecuting}
	if !a.Active() {
		t.Error("executing agent should be active")
	}
	a.Completed = true
	if a.Active() {
		t.Error("completed agent should not be active")
	}
	b := &Agent{State: StateStopped}
	if b.Active() {
		t.Error("stopped agent should not be active")
	}
}

func TestTaskIsReady(t *testing.T) {
	task := &Task{ID: "t2", Status: TaskPending, DependsOn: []string{"t1"}}
	if task.IsReady(map[string]bool{}) {
		t.Error("task with unmet dependency should not be ready")
	}
	if !task.IsReady(map[string]bool{"t1": true}) {
		t.Error("task with met dependency should be ready")
	}
	task.Status = TaskCompleted
	if task.IsReady(map[string]bool{"t1": true}) {
		t.Error("completed task should not be ready")
	}
}

func TestPatchStats(t *testing.T) {
	p := &Patch{
		Diff: []byte("--- a\n+++ b\n"),
		Files: []FileStat{
			{Path: "a.go", Added: 10, Deleted: 2},
			{Path: "b.go", Added: 5, Deleted: 3},
		},
	}
	s := p.Stats()
	if s.Bytes != len(p.Diff) {
		t.Errorf("Bytes = %d, want %d", s.Bytes, len(p.Diff))
	}
	if s.FilesChanged != 2 || s.Added != 15 || s.Deleted != 5 {
		t.Errorf("Stats() = %+v", s)
	}
	if s.TotalChanged() != 20 {
		t.Errorf("TotalChanged() = %d, want 20", s.TotalChanged())
	}
}

func TestPatchHash_Deterministic(t *testing.T) {
	a := &Patch{Diff: []byte("same")}
	b := &Patch{Diff: []byte("same")}
	if a.Hash() != b.Hash() {
		t.Error("identical diffs should hash equal")
	}
	c := &Patch{Diff: []byte("other")}
	if a.Hash() == c.Hash() {
		t.Error("different diffs should hash differently")
	}
}

func TestRiskLevelRank(t *testing.T) {
	order := []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("Rank(%s) should exceed Rank(%s)", order[i], order[i-1])
		}
	}
}

func TestNearestDeadline(t *testing.T) {
	var nilCtx *ProjectContext
	if _, ok := nilCtx.NearestDeadline("t1"); ok {
		t.Error("nil context should report no deadline")
	}

	soon := time.Now().Add(24 * time.Hour)
	later := time.Now().Add(72 * time.Hour)
	ctx := &ProjectContext{Deadlines: map[string]time.Time{"t1": later, "": soon}}

	d, ok := ctx.NearestDeadline("t1")
	if !ok || !d.Equal(soon) {
		t.Errorf("NearestDeadline() = %v, %t; want project-wide %v", d, ok, soon)
	}
	d, ok = ctx.NearestDeadline("t2")
	if !ok || !d.Equal(soon) {
		t.Errorf("NearestDeadline() for unkeyed task = %v, %t", d, ok)
	}
}

func TestSkillFor_Default(t *testing.T) {
	var nilCtx *ProjectContext
	if got := nilCtx.SkillFor("database"); got != 0.5 {
		t.Errorf("SkillFor() on nil context = %v, want 0.5", got)
	}
	ctx := &ProjectContext{TeamSkills: map[string]float64{"auth": 0.9}}
	if got := ctx.SkillFor("auth"); got != 0.9 {
		t.Errorf("SkillFor(auth) = %v, want 0.9", got)
	}
	if got := ctx.SkillFor("frontend"); got != 0.5 {
		t.Errorf("SkillFor(unknown) = %v, want 0.5", got)
	}
}
