// Package gate decides whether a generated patch is safe to apply and
// keeps the append-only PatchAttempt audit trail. Every execution tick
// logs exactly one attempt row, pass or fail; the trail feeds
// confidence updates and rollback decisions.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/issue-autopilot/internal/config"
	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

// SecurityScanner reports findings for the files a patch touches.
// Implemented by the static-analysis binding; only severities matter
// here.
type SecurityScanner interface {
	Scan(ctx context.Context, paths []string) ([]domain.Finding, error)
}

// Applier is the version-control binding that lands or reverts a patch
type Applier interface {
	Apply(ctx context.Context, patch *domain.Patch) (commitRef string, err error)
	Revert(ctx context.Context, commitRef string) error
}

// AttemptLog persists audit rows
type AttemptLog interface {
	AppendPatchAttempt(pa *domain.PatchAttempt) error
	MarkRolledBack(attemptID string) error
}

// Gate validates patches against policy thresholds
type Gate struct {
	mu       sync.RWMutex
	diff     config.DiffConfig
	security config.SecurityConfig
}

// New creates a Gate with the given policy
func New(diff config.DiffConfig, security config.SecurityConfig) *Gate {
	return &Gate{diff: diff, security: security}
}

// SetPolicy swaps thresholds atomically (config hot reload)
func (g *Gate) SetPolicy(diff config.DiffConfig, security config.SecurityConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.diff = diff
	g.security = security
}

// Validate checks a patch against every policy rule. All size and
// security checks must pass for OK; the large-file check only annotates
// a secondary-review reason. lowRiskBatch relaxes the delete-ratio rule
// for batches independently flagged low risk.
func (g *Gate) Validate(patch *domain.Patch, lowRiskBatch bool, findings []domain.Finding) domain.Validation {
	g.mu.RLock()
	diff, security := g.diff, g.security
	g.mu.RUnlock()

	v := domain.Validation{OK: true}
	stats := patch.Stats()

	if stats.Bytes > diff.MaxBytes {
		v.OK = false
		v.Reasons = append(v.Reasons,
			fmt.Sprintf("diff size %d bytes exceeds limit of %d bytes", stats.Bytes, diff.MaxBytes))
	}

	if total := stats.TotalChanged(); total > 0 && !lowRiskBatch {
		ratio := float64(stats.Deleted) / float64(total)
		if ratio > diff.MaxDeletesRatio {
			v.OK = false
			v.Reasons = append(v.Reasons,
				fmt.Sprintf("deletion ratio %.2f exceeds limit of %.2f", ratio, diff.MaxDeletesRatio))
		}
	}

	if stats.FilesChanged > diff.MaxTotalFilesPerIter {
		v.OK = false
		v.Reasons = append(v.Reasons,
			fmt.Sprintf("%d files changed exceeds per-iteration limit of %d",
				stats.FilesChanged, diff.MaxTotalFilesPerIter))
	}

	for _, f := range patch.Files {
		if f.LinesAfter > diff.LargeFileLineThreshold {
			// Recorded, not failed: flags the file for secondary review.
			v.Reasons = append(v.Reasons,
				fmt.Sprintf("secondary review required: %s grows to %d lines (threshold %d)",
					f.Path, f.LinesAfter, diff.LargeFileLineThreshold))
		}
	}

	var criticalCount, highCount int
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityCritical:
			criticalCount++
		case domain.SeverityHigh:
			highCount++
		}
	}
	switch {
	case criticalCount > 0:
		v.OK = false
		v.Reasons = append(v.Reasons,
			fmt.Sprintf("security block: %d critical finding(s)", criticalCount))
	case highCount > security.MaxHighSeverityIssues:
		v.OK = false
		v.Reasons = append(v.Reasons,
			fmt.Sprintf("security block: %d high-severity findings exceed limit of %d",
				highCount, security.MaxHighSeverityIssues))
	case highCount > 0:
		v.Reasons = append(v.Reasons,
			fmt.Sprintf("allowed with warnings: %d high-severity finding(s) within limit of %d",
				highCount, security.MaxHighSeverityIssues))
	}

	return v
}

// BuildAttempt assembles the audit row for one tick. Applied is forced
// false when validation failed, so the applied-implies-ok invariant
// holds by construction.
func BuildAttempt(agentID string, iteration int, patch *domain.Patch, v domain.Validation, applied bool, commitRef string) *domain.PatchAttempt {
	if !v.OK {
		applied = false
		commitRef = ""
	}
	var hash string
	var stats domain.DiffStats
	if patch != nil {
		hash = patch.Hash()
		stats = patch.Stats()
	}
	return &domain.PatchAttempt{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Iteration:  iteration,
		DiffHash:   hash,
		Stats:      stats,
		Validation: v,
		Applied:    applied,
		CommitRef:  commitRef,
		CreatedAt:  time.Now(),
	}
}

// Rollback reverts an applied attempt's commit after a post-apply
// security violation and records the outcome. This is a distinct
// recovery path from normal validation rejection.
func Rollback(ctx context.Context, applier Applier, log AttemptLog, attempt *domain.PatchAttempt) error {
	if !attempt.Applied || attempt.CommitRef == "" {
		return fmt.Errorf("attempt %s was never applied, nothing to roll back", attempt.ID)
	}
	if err := applier.Revert(ctx, attempt.CommitRef); err != nil {
		return fmt.Errorf("reverting commit %s: %w", attempt.CommitRef, err)
	}
	if err := log.MarkRolledBack(attempt.ID); err != nil {
		return fmt.Errorf("recording rollback of attempt %s: %w", attempt.ID, err)
	}
	return nil
}
