// Package queue schedules controller ticks across worker pools. Each
// stage (plan, execute, evaluate) has its own pool; ticks for the same
// agent are serialized through a per-issue lock so an agent never runs
// two ticks concurrently, while different agents proceed in parallel.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/issue-autopilot/internal/config"
	"github.com/hochfrequenz/issue-autopilot/internal/controller"
	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

// Stage identifies a tick kind
type Stage int

const (
	StagePlan Stage = iota
	StageExec
	StageEval
)

// Job is one scheduled tick for one issue
type Job struct {
	Stage Stage
	Ref   domain.IssueRef
}

// Pool runs controller ticks on stage worker pools
type Pool struct {
	ctrl *controller.Controller
	cfg  config.QueueConfig
	eval config.EvalConfig

	planCh chan Job
	execCh chan Job
	evalCh chan Job

	// tickDelay paces consecutive execution ticks of the same agent
	tickDelay time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	cron *cron.Cron
}

// New creates a Pool
func New(ctrl *controller.Controller, queueCfg config.QueueConfig, evalCfg config.EvalConfig) *Pool {
	return &Pool{
		ctrl:      ctrl,
		cfg:       queueCfg,
		eval:      evalCfg,
		planCh:    make(chan Job, 256),
		execCh:    make(chan Job, 1024),
		evalCh:    make(chan Job, 256),
		tickDelay: time.Second,
		locks:     make(map[string]*sync.Mutex),
	}
}

// SubmitIssue starts (or resumes) the loop for an issue by enqueueing
// a planning tick
func (p *Pool) SubmitIssue(ref domain.IssueRef) {
	p.enqueue(Job{Stage: StagePlan, Ref: ref})
}

// Run starts the workers and the evaluation sweep and blocks until the
// context is cancelled
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < max1(p.cfg.PlanWorkers); i++ {
		g.Go(func() error { return p.work(ctx, p.planCh) })
	}
	for i := 0; i < max1(p.cfg.ExecWorkers); i++ {
		g.Go(func() error { return p.work(ctx, p.execCh) })
	}
	for i := 0; i < max1(p.cfg.EvalWorkers); i++ {
		g.Go(func() error { return p.work(ctx, p.evalCh) })
	}

	p.cron = cron.New()
	if _, err := p.cron.AddFunc(p.eval.Cron, p.evalSweep); err != nil {
		return err
	}
	p.cron.Start()
	defer p.cron.Stop()

	return g.Wait()
}

func (p *Pool) work(ctx context.Context, ch chan Job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-ch:
			p.runJob(ctx, job)
		}
	}
}

func (p *Pool) runJob(ctx context.Context, job Job) {
	lock := p.lockFor(job.Ref)
	lock.Lock()
	defer lock.Unlock()

	switch job.Stage {
	case StagePlan:
		if err := p.ctrl.PlanTick(ctx, job.Ref); err != nil {
			log.Printf("plan tick for %s: %v", job.Ref, err)
			return
		}
		p.enqueue(Job{Stage: StageExec, Ref: job.Ref})

	case StageExec:
		res, err := p.ctrl.ExecuteTick(ctx, job.Ref)
		if err != nil {
			log.Printf("execute tick for %s: %v", job.Ref, err)
			return
		}
		switch res.Outcome {
		case controller.OutcomeApplied, controller.OutcomeRejected, controller.OutcomeNoop:
			p.enqueueLater(Job{Stage: StageExec, Ref: job.Ref}, p.tickDelay)
		}

	case StageEval:
		res, err := p.ctrl.EvaluateTick(ctx, job.Ref)
		if err != nil {
			log.Printf("evaluate tick for %s: %v", job.Ref, err)
			return
		}
		if res.Outcome != controller.OutcomeStopped && res.Outcome != controller.OutcomeSkipped {
			p.enqueueLater(Job{Stage: StageExec, Ref: job.Ref}, p.tickDelay)
		}
	}
}

// evalSweep enqueues an evaluation tick for every agent that has been
// quiet long enough
func (p *Pool) evalSweep() {
	refs, err := p.ctrl.EvalDue(p.eval.IdleSecs)
	if err != nil {
		log.Printf("evaluation sweep: %v", err)
		return
	}
	for _, ref := range refs {
		p.enqueue(Job{Stage: StageEval, Ref: ref})
	}
}

func (p *Pool) enqueue(job Job) {
	ch := p.channelFor(job.Stage)
	select {
	case ch <- job:
	default:
		log.Printf("queue full, dropping %v tick for %s", job.Stage, job.Ref)
	}
}

func (p *Pool) enqueueLater(job Job, delay time.Duration) {
	if delay <= 0 {
		p.enqueue(job)
		return
	}
	time.AfterFunc(delay, func() { p.enqueue(job) })
}

func (p *Pool) channelFor(stage Stage) chan Job {
	switch stage {
	case StagePlan:
		return p.planCh
	case StageEval:
		return p.evalCh
	default:
		return p.execCh
	}
}

func (p *Pool) lockFor(ref domain.IssueRef) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := ref.String()
	if l, ok := p.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.locks[key] = l
	return l
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// String returns a readable stage name for logs
func (s Stage) String() string {
	switch s {
	case StagePlan:
		return "plan"
	case StageExec:
		return "execute"
	case StageEval:
		return "evaluate"
	default:
		return "unknown"
	}
}
