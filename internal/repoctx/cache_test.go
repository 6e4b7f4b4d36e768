package repoctx

import (
	"errors"
	"testing"
	"time"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

func countingFetcher(calls *int) Fetcher {
	return func(owner, repo string) (*domain.ProjectContext, error) {
		*calls++
		return &domain.ProjectContext{WorkloadPercent: 50}, nil
	}
}

func TestGet_CachesWithinTTL(t *testing.T) {
	calls := 0
	c := New(5*time.Minute, countingFetcher(&calls))

	first := c.Get("acme", "billing")
	second := c.Get("acme", "billing")
	if first == nil || second == nil {
		t.Fatal("Get() returned nil with a working fetcher")
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 within the TTL", calls)
	}
}

func TestGet_RefetchesAfterTTL(t *testing.T) {
	calls := 0
	c := New(5*time.Minute, countingFetcher(&calls))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	c.Get("acme", "billing")

	c.now = func() time.Time { return base.Add(6 * time.Minute) }
	c.Get("acme", "billing")
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2 after expiry", calls)
	}
}

func TestGet_SeparateKeysPerRepo(t *testing.T) {
	calls := 0
	c := New(5*time.Minute, countingFetcher(&calls))

	c.Get("acme", "billing")
	c.Get("acme", "frontend")
	if calls != 2 {
		t.Errorf("fetch calls = %d, want one per repository", calls)
	}
}

func TestGet_OverrideWins(t *testing.T) {
	calls := 0
	c := New(5*time.Minute, countingFetcher(&calls))

	pinned := &domain.ProjectContext{WorkloadPercent: 99}
	c.Override("acme", "billing", pinned)

	if got := c.Get("acme", "billing"); got != pinned {
		t.Errorf("Get() = %+v, want the pinned context", got)
	}
	if calls != 0 {
		t.Error("override must bypass the fetcher")
	}

	c.ClearOverride("acme", "billing")
	if got := c.Get("acme", "billing"); got == pinned {
		t.Error("cleared override still served")
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 after clearing the override", calls)
	}
}

func TestGet_NilFetcher(t *testing.T) {
	c := New(5*time.Minute, nil)
	if got := c.Get("acme", "billing"); got != nil {
		t.Errorf("Get() = %+v, want nil without a fetcher", got)
	}
}

func TestGet_FetchErrorYieldsNil(t *testing.T) {
	c := New(5*time.Minute, func(owner, repo string) (*domain.ProjectContext, error) {
		return nil, errors.New("api unavailable")
	})
	if got := c.Get("acme", "billing"); got != nil {
		t.Errorf("Get() = %+v, want nil on fetch error", got)
	}
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	calls := 0
	c := New(time.Hour, countingFetcher(&calls))

	c.Get("acme", "billing")
	c.Invalidate("acme", "billing")
	c.Get("acme", "billing")
	if calls != 2 {
		t.Errorf("fetch calls = %d, want 2 after invalidation", calls)
	}
}
