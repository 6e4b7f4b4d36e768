// Package repoctx caches per-repository project context (team signals,
// activity volume) with a bounded lifetime. Entries expire after the
// configured TTL; explicit overrides bypass the cache entirely.
package repoctx

import (
	"sync"
	"time"

	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

// Fetcher loads fresh project context for a repository. Implemented by
// the version-control binding; may be nil, in which case lookups
// degrade to no context.
type Fetcher func(owner, repo string) (*domain.ProjectContext, error)

type entry struct {
	ctx       *domain.ProjectContext
	fetchedAt time.Time
}

// Cache is a time-bounded (owner, repo) keyed context cache
type Cache struct {
	ttl   time.Duration
	fetch Fetcher

	entries   map[string]entry
	overrides map[string]*domain.ProjectContext
	mu        sync.Mutex

	now func() time.Time
}

// New creates a Cache with the given TTL and fetcher
func New(ttl time.Duration, fetch Fetcher) *Cache {
	return &Cache{
		ttl:       ttl,
		fetch:     fetch,
		entries:   make(map[string]entry),
		overrides: make(map[string]*domain.ProjectContext),
		now:       time.Now,
	}
}

// Get returns the project context for a repository. Overrides win over
// cached entries; expired entries are refetched; a failed or missing
// fetch yields nil, which downstream scoring treats as neutral.
func (c *Cache) Get(owner, repo string) *domain.ProjectContext {
	key := owner + "/" + repo

	c.mu.Lock()
	if override, ok := c.overrides[key]; ok {
		c.mu.Unlock()
		return override
	}
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.ctx
	}
	c.mu.Unlock()

	if c.fetch == nil {
		return nil
	}
	ctx, err := c.fetch(owner, repo)
	if err != nil {
		return nil
	}

	c.mu.Lock()
	c.entries[key] = entry{ctx: ctx, fetchedAt: c.now()}
	c.mu.Unlock()
	return ctx
}

// Override pins an explicit context for a repository, bypassing the
// cache until cleared
func (c *Cache) Override(owner, repo string, ctx *domain.ProjectContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[owner+"/"+repo] = ctx
}

// ClearOverride removes a pinned context
func (c *Cache) ClearOverride(owner, repo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, owner+"/"+repo)
}

// Invalidate drops the cached entry for a repository
func (c *Cache) Invalidate(owner, repo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, owner+"/"+repo)
}
