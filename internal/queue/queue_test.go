package queue

import (
	"testing"

	"github.com/hochfrequenz/issue-autopilot/internal/config"
	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

func testPool() *Pool {
	cfg := config.Default()
	return New(nil, cfg.Queue, cfg.Eval)
}

func TestStageString(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
	}{
		{StagePlan, "plan"},
		{StageExec, "execute"},
		{StageEval, "evaluate"},
		{Stage(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.stage.String(); got != tt.want {
			t.Errorf("Stage(%d).String() = %q, want %q", tt.stage, got, tt.want)
		}
	}
}

func TestLockFor_SameIssueSameLock(t *testing.T) {
	p := testPool()
	ref := domain.IssueRef{Owner: "acme", Repo: "billing", IssueNumber: 7}
	other := domain.IssueRef{Owner: "acme", Repo: "billing", IssueNumber: 8}

	if p.lockFor(ref) != p.lockFor(ref) {
		t.Error("the same issue must map to the same lock")
	}
	if p.lockFor(ref) == p.lockFor(other) {
		t.Error("different issues must not share a lock")
	}
}

func TestChannelFor_Routing(t *testing.T) {
	p := testPool()
	if p.channelFor(StagePlan) != p.planCh {
		t.Error("plan jobs must route to the plan channel")
	}
	if p.channelFor(StageExec) != p.execCh {
		t.Error("exec jobs must route to the exec channel")
	}
	if p.channelFor(StageEval) != p.evalCh {
		t.Error("eval jobs must route to the eval channel")
	}
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	p := testPool()
	p.planCh = make(chan Job, 1)
	ref := domain.IssueRef{Owner: "acme", Repo: "billing", IssueNumber: 7}

	p.SubmitIssue(ref)
	p.SubmitIssue(ref) // channel full, must not block

	if len(p.planCh) != 1 {
		t.Errorf("queued jobs = %d, want 1", len(p.planCh))
	}
}

func TestEnqueueLater_ZeroDelayIsImmediate(t *testing.T) {
	p := testPool()
	job := Job{Stage: StageExec, Ref: domain.IssueRef{Owner: "a", Repo: "b", IssueNumber: 1}}

	p.enqueueLater(job, 0)
	select {
	case got := <-p.execCh:
		if got != job {
			t.Errorf("dequeued %v, want %v", got, job)
		}
	default:
		t.Error("zero-delay enqueue must be synchronous")
	}
}

func TestMax1(t *testing.T) {
	if max1(0) != 1 || max1(-3) != 1 || max1(4) != 4 {
		t.Error("max1 must floor worker counts at 1")
	}
}
