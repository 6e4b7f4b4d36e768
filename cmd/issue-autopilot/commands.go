package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/issue-autopilot/internal/config"
	"github.com/hochfrequenz/issue-autopilot/internal/conflict"
	"github.com/hochfrequenz/issue-autopilot/internal/controller"
	"github.com/hochfrequenz/issue-autopilot/internal/domain"
	"github.com/hochfrequenz/issue-autopilot/internal/extern"
	"github.com/hochfrequenz/issue-autopilot/internal/gate"
	"github.com/hochfrequenz/issue-autopilot/internal/notify"
	"github.com/hochfrequenz/issue-autopilot/internal/plan"
	"github.com/hochfrequenz/issue-autopilot/internal/queue"
	"github.com/hochfrequenz/issue-autopilot/internal/repoctx"
	"github.com/hochfrequenz/issue-autopilot/internal/store"
)

var approveAs string

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent worker pools",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	enqueueCmd := &cobra.Command{
		Use:   "enqueue OWNER/REPO#NUMBER",
		Short: "Queue an issue for autonomous resolution",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnqueue,
	}
	rootCmd.AddCommand(enqueueCmd)

	statusCmd := &cobra.Command{
		Use:   "status [OWNER/REPO#NUMBER]",
		Short: "Show agent status",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	attemptsCmd := &cobra.Command{
		Use:   "attempts OWNER/REPO#NUMBER",
		Short: "Show the patch attempt trail for an issue",
		Args:  cobra.ExactArgs(1),
		RunE:  runAttempts,
	}
	rootCmd.AddCommand(attemptsCmd)

	pauseCmd := &cobra.Command{
		Use:   "pause OWNER/REPO#NUMBER",
		Short: "Pause an agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runPause,
	}
	rootCmd.AddCommand(pauseCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume OWNER/REPO#NUMBER",
		Short: "Resume a paused agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	rootCmd.AddCommand(resumeCmd)

	approveCmd := &cobra.Command{
		Use:   "approve OWNER/REPO#NUMBER",
		Short: "Approve a pending plan review",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprove,
	}
	approveCmd.Flags().StringVar(&approveAs, "as", "", "approver name")
	approveCmd.MarkFlagRequired("as")
	rootCmd.AddCommand(approveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if dir := cfg.General.DatabasePath; dir != ":memory:" {
		os.MkdirAll(dirOf(dir), 0o755)
	}
	return store.New(cfg.General.DatabasePath)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func buildController(cfg *config.Config, st *store.Store) (*controller.Controller, error) {
	rules, err := plan.LoadOwnershipRules(cfg.General.OwnersPath)
	if err != nil {
		return nil, fmt.Errorf("loading ownership rules: %w", err)
	}

	var fetch repoctx.Fetcher
	if cfg.Commands.ContextFetcher != "" {
		fetch = (&extern.ContextCommand{Command: cfg.Commands.ContextFetcher}).Fetch
	}
	contexts := repoctx.New(time.Duration(cfg.General.ContextTTLSecs)*time.Second, fetch)

	detector := conflict.New(plan.NewSnapshotSource(st, nil))
	generator := &extern.PlanCommand{Command: cfg.Commands.PlanGenerator}
	plans := plan.NewManager(st, detector, generator, contexts, rules, cfg.Review)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notifications.SlackWebhook != "" {
		notifier = notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)
	}

	deps := controller.Deps{
		Store:     st,
		Plans:     plans,
		Gate:      gate.New(cfg.Diff, cfg.Security),
		Generator: &extern.PatchCommand{Command: cfg.Commands.PatchGenerator},
		Evaluator: &extern.EvalCommand{Command: cfg.Commands.Evaluator},
		Scanner:   &extern.ScanCommand{Command: cfg.Commands.Scanner},
		Applier:   &extern.ApplyCommand{Command: cfg.Commands.Applier},
		Notifier:  notifier,
		Contexts:  contexts,
	}
	return controller.New(deps, cfg), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for name, command := range map[string]string{
		"commands.plan_generator":  cfg.Commands.PlanGenerator,
		"commands.patch_generator": cfg.Commands.PatchGenerator,
		"commands.evaluator":       cfg.Commands.Evaluator,
		"commands.applier":         cfg.Commands.Applier,
	} {
		if command == "" {
			return fmt.Errorf("%s must be configured to serve", name)
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctrl, err := buildController(cfg, st)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	watcher, err := config.NewWatcher(path, ctrl.SetConfig)
	if err == nil {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	pool := queue.New(ctrl, cfg.Queue, cfg.Eval)

	// Resume agents that were mid-loop when the last process exited.
	agents, err := st.ListAgents()
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.Active() && !a.Paused {
			pool.SubmitIssue(a.Ref)
		}
	}

	fmt.Printf("issue-autopilot serving (%d plan, %d exec, %d eval workers)\n",
		cfg.Queue.PlanWorkers, cfg.Queue.ExecWorkers, cfg.Queue.EvalWorkers)

	if err := pool.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ref, err := domain.ParseIssueRef(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctrl, err := buildController(cfg, st)
	if err != nil {
		return err
	}
	agent, err := ctrl.EnsureAgent(ref)
	if err != nil {
		return err
	}

	fmt.Printf("agent %s tracking %s (state %s, plan v%d)\n",
		agent.ID, agent.Ref, agent.State, agent.PlanVersion)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var agents []*domain.Agent
	if len(args) == 1 {
		ref, err := domain.ParseIssueRef(args[0])
		if err != nil {
			return err
		}
		a, err := st.GetAgentByRef(ref)
		if err != nil {
			return err
		}
		agents = []*domain.Agent{a}
	} else {
		agents, err = st.ListAgents()
		if err != nil {
			return err
		}
	}

	if len(agents) == 0 {
		fmt.Println("no agents")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tSTATE\tCONF\tITER\tIDLE\tPLAN\tSTOP")
	for _, a := range agents {
		state := string(a.State)
		if a.Paused {
			state += " (paused)"
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d\tv%d\t%s\n",
			a.Ref, state, a.Confidence, a.Iteration, a.IdleIterations,
			a.PlanVersion, a.StopReason)
	}
	return w.Flush()
}

func runAttempts(cmd *cobra.Command, args []string) error {
	ref, err := domain.ParseIssueRef(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	agent, err := st.GetAgentByRef(ref)
	if err != nil {
		return err
	}
	attempts, err := st.ListPatchAttempts(agent.ID)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Println("no attempts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITER\tOK\tAPPLIED\tBYTES\tFILES\tCOMMIT\tREASONS")
	for _, pa := range attempts {
		reasons := ""
		if len(pa.Validation.Reasons) > 0 {
			reasons = pa.Validation.Reasons[0]
		}
		commit := pa.CommitRef
		if pa.RolledBack {
			commit += " (rolled back)"
		}
		fmt.Fprintf(w, "%d\t%t\t%t\t%d\t%d\t%s\t%s\n",
			pa.Iteration, pa.Validation.OK, pa.Applied,
			pa.Stats.Bytes, pa.Stats.FilesChanged, commit, reasons)
	}
	return w.Flush()
}

func runPause(cmd *cobra.Command, args []string) error { return setPaused(args[0], true) }

func runResume(cmd *cobra.Command, args []string) error { return setPaused(args[0], false) }

func setPaused(refStr string, paused bool) error {
	ref, err := domain.ParseIssueRef(refStr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	agent, err := st.GetAgentByRef(ref)
	if err != nil {
		return err
	}
	if err := st.SetPaused(agent.ID, paused); err != nil {
		return err
	}
	verb := "paused"
	if !paused {
		verb = "resumed"
	}
	fmt.Printf("%s %s\n", verb, ref)
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	ref, err := domain.ParseIssueRef(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	agent, err := st.GetAgentByRef(ref)
	if err != nil {
		return err
	}
	review, err := st.PendingReview(agent.ID)
	if err != nil {
		return err
	}
	if review == nil {
		fmt.Println("no pending review")
		return nil
	}
	if err := st.ApproveReview(review.ID, approveAs); err != nil {
		return err
	}
	fmt.Printf("approved review for plan v%d as %s\n", review.PlanVersion, approveAs)
	return nil
}
