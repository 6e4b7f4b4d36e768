package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var issueRefRegex = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)#(\d+)$`)

// IssueRef identifies the unit of work an agent is bound to
type IssueRef struct {
	Owner       string
	Repo        string
	IssueNumber int
}

// ParseIssueRef parses a string like "acme/billing#42" into an IssueRef
func ParseIssueRef(s string) (IssueRef, error) {
	matches := issueRefRegex.FindStringSubmatch(s)
	if matches == nil {
		return IssueRef{}, fmt.Errorf("invalid issue ref: %q (expected owner/repo#number)", s)
	}
	num, _ := strconv.Atoi(matches[3]) // regex guarantees digits
	return IssueRef{Owner: matches[1], Repo: matches[2], IssueNumber: num}, nil
}

// String returns the canonical owner/repo#number form
func (r IssueRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.IssueNumber)
}

// RepoKey returns the owner/repo part, used to scope conflict detection
func (r IssueRef) RepoKey() string {
	return r.Owner + "/" + r.Repo
}

// Agent is the autonomous execution context for one issue.
// Created on first plan request, mutated every iteration, never deleted.
type Agent struct {
	ID             string
	Ref            IssueRef
	InstallationID int64

	PlanVersion    int
	Confidence     float64 // in [0,1]
	State          AgentState
	StopReason     StopReason
	Completed      bool
	Failed         bool
	Paused         bool
	Iteration      int
	IdleIterations int
	LastEvalAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the agent still participates in conflict detection
func (a *Agent) Active() bool {
	return !a.Completed && !a.Failed && a.State != StateStopped
}

// AdjustConfidence applies a delta and clamps the result to [0,1]
func (a *Agent) AdjustConfidence(delta float64) {
	a.Confidence = Clamp01(a.Confidence + delta)
}

// Clamp01 clamps v to [0,1]
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampScore clamps v to the [0,100] scoring range
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
