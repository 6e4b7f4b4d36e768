package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Patch is a proposed change for a batch of tasks, produced by an
// external generator and validated before being applied
type Patch struct {
	Diff    []byte
	TaskIDs []string
	Files   []FileStat
}

// FileStat describes the per-file shape of a diff
type FileStat struct {
	Path       string
	Added      int
	Deleted    int
	LinesAfter int // line count of the file after the change
}

// Stats aggregates the diff into the numbers the validation gate needs
func (p *Patch) Stats() DiffStats {
	var s DiffStats
	s.Bytes = len(p.Diff)
	s.FilesChanged = len(p.Files)
	for _, f := range p.Files {
		s.Added += f.Added
		s.Deleted += f.Deleted
	}
	return s
}

// Hash returns the hex sha256 of the diff body
func (p *Patch) Hash() string {
	sum := sha256.Sum256(p.Diff)
	return hex.EncodeToString(sum[:])
}

// DiffStats holds aggregate diff measurements
type DiffStats struct {
	Bytes        int
	FilesChanged int
	Added        int
	Deleted      int
}

// TotalChanged returns added plus deleted lines
func (s DiffStats) TotalChanged() int {
	return s.Added + s.Deleted
}

// Validation is the gate's verdict on a patch
type Validation struct {
	OK      bool
	Reasons []string
}

// PatchAttempt is one append-only audit row, written once per execution
// tick regardless of outcome. Invariant: Applied implies Validation.OK.
type PatchAttempt struct {
	ID         string
	AgentID    string
	Iteration  int
	DiffHash   string
	Stats      DiffStats
	Validation Validation
	Applied    bool
	CommitRef  string
	RolledBack bool
	CreatedAt  time.Time
}

// Finding is a security-scanner result consumed by the validation gate
type Finding struct {
	Severity Severity
	File     string
	Line     int
	Rule     string
}
