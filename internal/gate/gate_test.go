package gate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hochfrequenz/issue-autopilot/internal/config"
	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

func defaultGate() *Gate {
	cfg := config.Default()
	return New(cfg.Diff, cfg.Security)
}

func patchOfSize(bytes int) *domain.Patch {
	return &domain.Patch{
		Diff:  make([]byte, bytes),
		Files: []domain.FileStat{{Path: "a.go", Added: 10, Deleted: 2, LinesAfter: 100}},
	}
}

func TestValidate_OversizedDiff(t *testing.T) {
	g := defaultGate()

	v := g.Validate(patchOfSize(70000), false, nil)
	if v.OK {
		t.Fatal("70000-byte diff must fail against a 64000-byte limit")
	}
	found := false
	for _, r := range v.Reasons {
		if strings.Contains(r, "64000") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons should name the size limit: %v", v.Reasons)
	}

	if v := g.Validate(patchOfSize(64000), false, nil); !v.OK {
		t.Errorf("diff at the limit should pass, got %v", v.Reasons)
	}
}

func TestValidate_DeleteRatio(t *testing.T) {
	g := defaultGate()
	p := &domain.Patch{
		Diff:  []byte("diff"),
		Files: []domain.FileStat{{Path: "a.go", Added: 10, Deleted: 90, LinesAfter: 50}},
	}

	if v := g.Validate(p, false, nil); v.OK {
		t.Error("deletion ratio 0.9 must fail against limit 0.45")
	}
	// A batch independently assessed low risk relaxes the rule.
	if v := g.Validate(p, true, nil); !v.OK {
		t.Errorf("low-risk batch should bypass the delete-ratio rule, got %v", v.Reasons)
	}
}

func TestValidate_TooManyFiles(t *testing.T) {
	g := defaultGate()
	var files []domain.FileStat
	for i := 0; i < 21; i++ {
		files = append(files, domain.FileStat{Path: "f.go", Added: 1})
	}
	v := g.Validate(&domain.Patch{Diff: []byte("d"), Files: files}, false, nil)
	if v.OK {
		t.Error("21 files must fail against a 20-file limit")
	}
}

func TestValidate_LargeFileOnlyFlags(t *testing.T) {
	g := defaultGate()
	p := &domain.Patch{
		Diff:  []byte("diff"),
		Files: []domain.FileStat{{Path: "big.go", Added: 10, LinesAfter: 1500}},
	}
	v := g.Validate(p, false, nil)
	if !v.OK {
		t.Errorf("large file must not fail validation, got %v", v.Reasons)
	}
	found := false
	for _, r := range v.Reasons {
		if strings.Contains(r, "secondary review") {
			found = true
		}
	}
	if !found {
		t.Errorf("large file should be flagged for secondary review: %v", v.Reasons)
	}
}

func TestValidate_SecurityFindings(t *testing.T) {
	g := defaultGate()
	p := patchOfSize(100)

	high := func(n int) []domain.Finding {
		var fs []domain.Finding
		for i := 0; i < n; i++ {
			fs = append(fs, domain.Finding{Severity: domain.SeverityHigh, Rule: "G101"})
		}
		return fs
	}

	if v := g.Validate(p, false, high(6)); v.OK {
		t.Error("6 high-severity findings must fail against limit 5")
	}
	v := g.Validate(p, false, high(3))
	if !v.OK {
		t.Errorf("3 high-severity findings should pass, got %v", v.Reasons)
	}
	warned := false
	for _, r := range v.Reasons {
		if strings.Contains(r, "allowed with warnings") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("within-limit findings should warn: %v", v.Reasons)
	}

	critical := []domain.Finding{{Severity: domain.SeverityCritical, Rule: "G501"}}
	if v := g.Validate(p, false, critical); v.OK {
		t.Error("any critical finding must fail")
	}
}

func TestSetPolicy_HotSwap(t *testing.T) {
	g := defaultGate()
	p := patchOfSize(30000)
	if v := g.Validate(p, false, nil); !v.OK {
		t.Fatalf("30000 bytes should pass the default limit")
	}

	diff := config.Default().Diff
	diff.MaxBytes = 10000
	g.SetPolicy(diff, config.Default().Security)

	if v := g.Validate(p, false, nil); v.OK {
		t.Error("30000 bytes must fail after the limit drops to 10000")
	}
}

func TestBuildAttempt_AppliedImpliesOK(t *testing.T) {
	p := patchOfSize(100)
	failed := domain.Validation{OK: false, Reasons: []string{"too big"}}

	pa := BuildAttempt("agent-1", 3, p, failed, true, "abc123")
	if pa.Applied {
		t.Error("attempt must not be applied when validation failed")
	}
	if pa.CommitRef != "" {
		t.Errorf("CommitRef = %q, want empty on failed validation", pa.CommitRef)
	}
	if pa.DiffHash != p.Hash() {
		t.Errorf("DiffHash = %q, want %q", pa.DiffHash, p.Hash())
	}

	ok := domain.Validation{OK: true}
	pa = BuildAttempt("agent-1", 4, p, ok, true, "abc123")
	if !pa.Applied || pa.CommitRef != "abc123" {
		t.Errorf("applied attempt lost its state: %+v", pa)
	}
}

func TestBuildAttempt_NilPatch(t *testing.T) {
	pa := BuildAttempt("agent-1", 1, nil, domain.Validation{OK: true, Reasons: []string{"no changes"}}, false, "")
	if pa.DiffHash != "" || pa.Stats.Bytes != 0 {
		t.Errorf("nil patch should yield empty stats: %+v", pa)
	}
	if pa.ID == "" {
		t.Error("attempt must carry an id")
	}
}

type fakeApplier struct {
	reverted  []string
	revertErr error
}

func (f *fakeApplier) Apply(ctx context.Context, p *domain.Patch) (string, error) { return "c1", nil }
func (f *fakeApplier) Revert(ctx context.Context, ref string) error {
	if f.revertErr != nil {
		return f.revertErr
	}
	f.reverted = append(f.reverted, ref)
	return nil
}

type fakeLog struct {
	rolledBack []string
}

func (f *fakeLog) AppendPatchAttempt(pa *domain.PatchAttempt) error { return nil }
func (f *fakeLog) MarkRolledBack(id string) error {
	f.rolledBack = append(f.rolledBack, id)
	return nil
}

func TestRollback(t *testing.T) {
	applier := &fakeApplier{}
	logStore := &fakeLog{}

	attempt := &domain.PatchAttempt{ID: "pa-1", Applied: true, CommitRef: "c1"}
	if err := Rollback(context.Background(), applier, logStore, attempt); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if len(applier.reverted) != 1 || applier.reverted[0] != "c1" {
		t.Errorf("reverted = %v", applier.reverted)
	}
	if len(logStore.rolledBack) != 1 || logStore.rolledBack[0] != "pa-1" {
		t.Errorf("rolledBack = %v", logStore.rolledBack)
	}
}

func TestRollback_NeverApplied(t *testing.T) {
	attempt := &domain.PatchAttempt{ID: "pa-1", Applied: false}
	err := Rollback(context.Background(), &fakeApplier{}, &fakeLog{}, attempt)
	if err == nil {
		t.Error("rolling back an unapplied attempt must error")
	}
}

func TestRollback_RevertFailure(t *testing.T) {
	applier := &fakeApplier{revertErr: errors.New("remote rejected")}
	logStore := &fakeLog{}
	attempt := &domain.PatchAttempt{ID: "pa-1", Applied: true, CommitRef: "c1"}

	if err := Rollback(context.Background(), applier, logStore, attempt); err == nil {
		t.Error("revert failure must propagate")
	}
	if len(logStore.rolledBack) != 0 {
		t.Error("rollback must not be recorded when revert failed")
	}
}
