// Package controller runs the adaptive iteration loop for each agent:
// plan, prioritize, request a patch, validate, apply, record, decide
// whether to continue. Each agent's ticks are strictly sequential; no
// cross-agent lock is held while waiting on an external collaborator.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/issue-autopilot/internal/config"
	"github.com/hochfrequenz/issue-autopilot/internal/domain"
	"github.com/hochfrequenz/issue-autopilot/internal/gate"
	"github.com/hochfrequenz/issue-autopilot/internal/notify"
	"github.com/hochfrequenz/issue-autopilot/internal/plan"
	"github.com/hochfrequenz/issue-autopilot/internal/prioritize"
	"github.com/hochfrequenz/issue-autopilot/internal/repoctx"
	"github.com/hochfrequenz/issue-autopilot/internal/store"
)

// agentNamespace is a fixed UUID namespace for deterministic agent ids:
// the same issue always maps to the same agent.
var agentNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// AgentID returns the deterministic id for an issue reference
func AgentID(ref domain.IssueRef) string {
	return uuid.NewSHA1(agentNamespace, []byte(ref.String())).String()
}

// TickOutcome summarizes what one execution tick did
type TickOutcome string

const (
	OutcomeApplied  TickOutcome = "applied"
	OutcomeRejected TickOutcome = "rejected"
	OutcomeNoop     TickOutcome = "noop"
	OutcomeSkipped  TickOutcome = "skipped"
	OutcomeStopped  TickOutcome = "stopped"
)

// TickResult reports one execution tick
type TickResult struct {
	Outcome    TickOutcome
	Agent      *domain.Agent
	Attempt    *domain.PatchAttempt
	StopReason domain.StopReason
}

// Deps contains the controller's collaborators
type Deps struct {
	Store     *store.Store
	Plans     *plan.Manager
	Gate      *gate.Gate
	Generator PatchGenerator
	Evaluator Evaluator
	Scanner   gate.SecurityScanner
	Applier   gate.Applier
	Notifier  notify.Notifier
	Contexts  *repoctx.Cache
}

// Controller drives the iteration loop for all agents
type Controller struct {
	store       *store.Store
	plans       *plan.Manager
	gate        *gate.Gate
	generator   PatchGenerator
	evaluator   Evaluator
	scanner     gate.SecurityScanner
	applier     gate.Applier
	notifier    notify.Notifier
	contexts    *repoctx.Cache
	prioritizer *prioritize.Prioritizer

	mu  sync.RWMutex
	cfg *config.Config
}

// New creates a Controller
func New(deps Deps, cfg *config.Config) *Controller {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Controller{
		store:       deps.Store,
		plans:       deps.Plans,
		gate:        deps.Gate,
		generator:   deps.Generator,
		evaluator:   deps.Evaluator,
		scanner:     deps.Scanner,
		applier:     deps.Applier,
		notifier:    notifier,
		contexts:    deps.Contexts,
		prioritizer: prioritize.New(),
		cfg:         cfg,
	}
}

// SetConfig swaps policy thresholds atomically (config hot reload)
func (c *Controller) SetConfig(cfg *config.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.gate.SetPolicy(cfg.Diff, cfg.Security)
}

func (c *Controller) config() *config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// EnsureAgent returns the agent for an issue, creating it in the
// planning state on first contact
func (c *Controller) EnsureAgent(ref domain.IssueRef) (*domain.Agent, error) {
	agent, err := c.store.GetAgentByRef(ref)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, store.ErrAgentNotFound) {
		return nil, err
	}

	now := time.Now()
	agent = &domain.Agent{
		ID:        AgentID(ref),
		Ref:       ref,
		State:     domain.StatePlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateAgent(agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// PlanTick makes sure the agent exists and has a committed plan
func (c *Controller) PlanTick(ctx context.Context, ref domain.IssueRef) error {
	agent, err := c.EnsureAgent(ref)
	if err != nil {
		return err
	}
	if _, err := c.plans.EnsurePlan(ctx, agent); err != nil {
		return err
	}
	if agent.State == domain.StatePlanning {
		agent.State = domain.StateExecuting
		return c.store.UpdateAgent(agent)
	}
	return nil
}

// ExecuteTick runs one iteration of the loop for an issue
func (c *Controller) ExecuteTick(ctx context.Context, ref domain.IssueRef) (TickResult, error) {
	cfg := c.config()

	agent, err := c.EnsureAgent(ref)
	if err != nil {
		return TickResult{}, err
	}
	if agent.Paused || agent.State == domain.StateStopped {
		return TickResult{Outcome: OutcomeSkipped, Agent: agent}, nil
	}

	pv, err := c.plans.EnsurePlan(ctx, agent)
	if err != nil {
		return TickResult{}, err
	}
	if agent.State == domain.StatePlanning {
		agent.State = domain.StateExecuting
	}

	// A pending stakeholder review blocks execution until approved.
	if pending, err := c.plans.ReviewRequired(agent.ID); err != nil {
		return TickResult{}, err
	} else if pending {
		return TickResult{Outcome: OutcomeSkipped, Agent: agent}, c.store.UpdateAgent(agent)
	}

	pctx := c.projectContext(ref)
	result := c.prioritizer.Prioritize(pv.Tasks, pctx)
	normRisk := result.Risk.Normalized()

	agent.Iteration++

	batch := c.selectBatch(cfg, agent, result)
	if len(batch) == 0 {
		if countByStatus(pv.Tasks)[domain.TaskPending] == 0 {
			// Nothing left to do: the plan is exhausted.
			return c.stop(agent, pv, domain.StopCompleted)
		}
		return c.noopTick(cfg, agent, pv, normRisk, "no ready tasks")
	}

	outcome, attempt := c.attemptPatch(ctx, cfg, agent, batch)
	if attempt != nil {
		if err := c.store.AppendPatchAttempt(attempt); err != nil {
			log.Printf("recording patch attempt for %s: %v", agent.Ref, err)
		}
	}

	switch outcome {
	case OutcomeApplied:
		ids := make([]string, len(batch))
		for i, t := range batch {
			ids[i] = t.ID
		}
		if newPV, err := c.plans.RecordTaskStatus(agent, ids,
			domain.TaskCompleted, fmt.Sprintf("iteration %d applied %d task(s)", agent.Iteration, len(ids))); err == nil {
			pv = newPV
		} else {
			log.Printf("recording task completion for %s: %v", agent.Ref, err)
		}
		agent.AdjustConfidence(cfg.Adaptive.ConfidenceIncreasePerSuccess)
		agent.IdleIterations = 0
	case OutcomeRejected:
		agent.AdjustConfidence(-cfg.Adaptive.ConfidenceDecreaseOnFail)
		agent.IdleIterations++
	case OutcomeNoop:
		agent.IdleIterations++
	}

	if res, stopped := c.checkTermination(cfg, agent, pv, normRisk); stopped {
		res.Attempt = attempt
		res.Outcome = OutcomeStopped
		return res, nil
	}

	agent.State = domain.StateExecuting
	if err := c.store.UpdateAgent(agent); err != nil {
		return TickResult{}, err
	}
	return TickResult{Outcome: outcome, Agent: agent, Attempt: attempt}, nil
}

// attemptPatch generates, scans and validates a patch for the batch,
// applying it when the gate passes. Collaborator errors are converted
// to failed iterations, never propagated as a crash.
func (c *Controller) attemptPatch(ctx context.Context, cfg *config.Config, agent *domain.Agent, batch []domain.Task) (TickOutcome, *domain.PatchAttempt) {
	patch, noChanges, err := c.generator.GeneratePatch(ctx, batch, agent.Ref)
	if err != nil {
		v := domain.Validation{OK: false, Reasons: []string{fmt.Sprintf("patch generator error: %v", err)}}
		return OutcomeRejected, gate.BuildAttempt(agent.ID, agent.Iteration, nil, v, false, "")
	}
	if noChanges || patch == nil || len(patch.Diff) == 0 {
		v := domain.Validation{OK: true, Reasons: []string{"generator reported no changes"}}
		return OutcomeNoop, gate.BuildAttempt(agent.ID, agent.Iteration, nil, v, false, "")
	}

	var paths []string
	for _, f := range patch.Files {
		paths = append(paths, f.Path)
	}
	findings, err := c.scanner.Scan(ctx, paths)
	if err != nil {
		v := domain.Validation{OK: false, Reasons: []string{fmt.Sprintf("security scanner error: %v", err)}}
		return OutcomeRejected, gate.BuildAttempt(agent.ID, agent.Iteration, patch, v, false, "")
	}

	verdict := c.gate.Validate(patch, allLowRisk(batch), findings)
	if !verdict.OK {
		c.notifyRejection(agent, verdict)
		return OutcomeRejected, gate.BuildAttempt(agent.ID, agent.Iteration, patch, verdict, false, "")
	}

	commitRef, err := c.applier.Apply(ctx, patch)
	if err != nil {
		v := domain.Validation{OK: false, Reasons: []string{fmt.Sprintf("apply error: %v", err)}}
		return OutcomeRejected, gate.BuildAttempt(agent.ID, agent.Iteration, patch, v, false, "")
	}
	return OutcomeApplied, gate.BuildAttempt(agent.ID, agent.Iteration, patch, verdict, true, commitRef)
}

// selectBatch picks the next tasks from the execution order whose
// dependencies are satisfied. exploitationBias splits the batch between
// the highest-priority ready tasks (exploit) and tasks drawn from the
// back of the ready list (explore).
func (c *Controller) selectBatch(cfg *config.Config, agent *domain.Agent, result prioritize.Result) []domain.Task {
	size := batchSize(cfg.Adaptive, agent.Confidence, result.Risk.Normalized())

	byID := make(map[string]*domain.Task, len(result.Tasks))
	completed := make(map[string]bool)
	for i := range result.Tasks {
		t := &result.Tasks[i]
		byID[t.ID] = t
		if t.Status == domain.TaskCompleted {
			completed[t.ID] = true
		}
	}

	var ready []*domain.Task
	for _, id := range result.ExecutionOrder {
		t := byID[id]
		if t == nil || !t.IsReady(completed) {
			continue
		}
		ready = append(ready, t)
	}
	if len(ready) == 0 {
		return nil
	}
	if size > len(ready) {
		size = len(ready)
	}

	// At least one exploit pick so the exploration loop always has a
	// batch tail to compare against, even at bias 0.
	exploit := int(math.Ceil(float64(size) * domain.Clamp01(cfg.Adaptive.ExploitationBias)))
	if exploit < 1 {
		exploit = 1
	}
	if exploit > size {
		exploit = size
	}

	var batch []domain.Task
	for i := 0; i < exploit; i++ {
		batch = append(batch, *ready[i])
	}
	// Exploration: pull from the tail of the ready list.
	for i := 0; len(batch) < size; i++ {
		candidate := ready[len(ready)-1-i]
		if candidate.ID == batch[len(batch)-1].ID || containsTask(batch, candidate.ID) {
			break
		}
		batch = append(batch, *candidate)
	}
	return batch
}

// batchSize implements the adaptive sizing formula:
// clamp(round(confidence * maxBatch * (1 - riskWeight * normRisk)), min, max)
func batchSize(cfg config.AdaptiveConfig, confidence, normRisk float64) int {
	raw := confidence * float64(cfg.MaxBatch) * (1 - cfg.DynamicRiskWeight*normRisk)
	size := int(math.Round(raw))
	if size < cfg.MinBatch {
		size = cfg.MinBatch
	}
	if size > cfg.MaxBatch {
		size = cfg.MaxBatch
	}
	return size
}

func (c *Controller) noopTick(cfg *config.Config, agent *domain.Agent, pv *domain.PlanVersion, normRisk float64, reason string) (TickResult, error) {
	v := domain.Validation{OK: true, Reasons: []string{reason}}
	attempt := gate.BuildAttempt(agent.ID, agent.Iteration, nil, v, false, "")
	if err := c.store.AppendPatchAttempt(attempt); err != nil {
		log.Printf("recording no-op attempt for %s: %v", agent.Ref, err)
	}
	agent.IdleIterations++

	if res, stopped := c.checkTermination(cfg, agent, pv, normRisk); stopped {
		res.Attempt = attempt
		res.Outcome = OutcomeStopped
		return res, nil
	}
	if err := c.store.UpdateAgent(agent); err != nil {
		return TickResult{}, err
	}
	return TickResult{Outcome: OutcomeNoop, Agent: agent, Attempt: attempt}, nil
}

// checkTermination applies the three stop rules after every tick:
// confidence reached, stalled on idle iterations, or escalated on risk.
func (c *Controller) checkTermination(cfg *config.Config, agent *domain.Agent, pv *domain.PlanVersion, normRisk float64) (TickResult, bool) {
	switch {
	case agent.Confidence >= cfg.Termination.RequiredConfidence:
		res, _ := c.stop(agent, pv, domain.StopCompleted)
		return res, true
	case agent.IdleIterations >= cfg.Termination.MaxIdleIterations:
		res, _ := c.stop(agent, pv, domain.StopStalled)
		return res, true
	case normRisk > cfg.Risk.EscalateThreshold:
		// Stop pending stakeholder input rather than continue unattended.
		res, _ := c.stop(agent, pv, domain.StopEscalated)
		return res, true
	}
	return TickResult{}, false
}

func (c *Controller) stop(agent *domain.Agent, pv *domain.PlanVersion, reason domain.StopReason) (TickResult, error) {
	agent.State = domain.StateStopped
	agent.StopReason = reason
	switch reason {
	case domain.StopCompleted:
		agent.Completed = true
	case domain.StopStalled:
		agent.Failed = true
	}
	if err := c.store.UpdateAgent(agent); err != nil {
		return TickResult{}, err
	}

	c.notifyStop(agent, pv)
	return TickResult{Outcome: OutcomeStopped, Agent: agent, StopReason: reason}, nil
}

// Pause stops scheduling new ticks for the agent. In-flight external
// calls complete and their attempts are still logged.
func (c *Controller) Pause(ref domain.IssueRef) error {
	agent, err := c.store.GetAgentByRef(ref)
	if err != nil {
		return err
	}
	return c.store.SetPaused(agent.ID, true)
}

// Resume re-enables scheduling for a paused agent
func (c *Controller) Resume(ref domain.IssueRef) error {
	agent, err := c.store.GetAgentByRef(ref)
	if err != nil {
		return err
	}
	return c.store.SetPaused(agent.ID, false)
}

func (c *Controller) projectContext(ref domain.IssueRef) *domain.ProjectContext {
	if c.contexts == nil {
		return nil
	}
	return c.contexts.Get(ref.Owner, ref.Repo)
}

func (c *Controller) notifyStop(agent *domain.Agent, pv *domain.PlanVersion) {
	report := &notify.Report{
		AgentID:    agent.ID,
		Ref:        agent.Ref,
		Iteration:  agent.Iteration,
		Confidence: agent.Confidence,
		StopReason: agent.StopReason,
	}
	if pv != nil {
		report.TaskCounts = countByStatus(pv.Tasks)
	}
	n := notify.Notification{
		Title:   fmt.Sprintf("agent stopped: %s", agent.Ref),
		Message: fmt.Sprintf("reason: %s, final confidence %.2f", agent.StopReason, agent.Confidence),
		Type:    notify.NotifyInfo,
		Report:  report,
	}
	if agent.StopReason == domain.StopCompleted {
		n.Type = notify.NotifySuccess
	}
	if err := c.notifier.Send(n); err != nil {
		log.Printf("notify failed for %s: %v", agent.Ref, err)
	}
}

func (c *Controller) notifyRejection(agent *domain.Agent, v domain.Validation) {
	n := notify.Notification{
		Title:   fmt.Sprintf("patch rejected: %s", agent.Ref),
		Message: fmt.Sprintf("reasons: %v", v.Reasons),
		Type:    notify.NotifyWarning,
		Report: &notify.Report{
			AgentID:    agent.ID,
			Ref:        agent.Ref,
			Iteration:  agent.Iteration,
			Confidence: agent.Confidence,
		},
	}
	if err := c.notifier.Send(n); err != nil {
		log.Printf("notify failed for %s: %v", agent.Ref, err)
	}
}

func countByStatus(tasks []domain.Task) map[domain.TaskStatus]int {
	counts := make(map[domain.TaskStatus]int)
	for i := range tasks {
		status := tasks[i].Status
		if status == "" {
			status = domain.TaskPending
		}
		counts[status]++
	}
	return counts
}

func allLowRisk(batch []domain.Task) bool {
	for i := range batch {
		if batch[i].RiskLevel != domain.RiskLow {
			return false
		}
	}
	return true
}

func containsTask(batch []domain.Task, id string) bool {
	for i := range batch {
		if batch[i].ID == id {
			return true
		}
	}
	return false
}
