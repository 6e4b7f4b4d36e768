// Package extern binds the external collaborators (plan generation,
// patch synthesis, evaluation, security scanning, patch application,
// repository context) to configured commands. Each call runs the
// command once with a JSON request on stdin and parses a JSON response
// from stdout.
package extern

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hochfrequenz/issue-autopilot/internal/controller"
	"github.com/hochfrequenz/issue-autopilot/internal/domain"
)

// run executes command with req marshalled to stdin and unmarshals
// stdout into resp
func run(ctx context.Context, command string, req, resp any) error {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return fmt.Errorf("empty command")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", parts[0], err, msg)
		}
		return fmt.Errorf("%s: %w", parts[0], err)
	}
	return json.Unmarshal(stdout.Bytes(), resp)
}

// PlanCommand implements plan.Generator via an external command
type PlanCommand struct {
	Command string
}

func (p *PlanCommand) GenerateBasePlan(ctx context.Context, ref domain.IssueRef) ([]domain.Task, error) {
	req := struct {
		Ref string `json:"ref"`
	}{Ref: ref.String()}
	var resp struct {
		Tasks []domain.Task `json:"tasks"`
	}
	if err := run(ctx, p.Command, req, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// PatchCommand implements controller.PatchGenerator via an external command
type PatchCommand struct {
	Command string
}

func (p *PatchCommand) GeneratePatch(ctx context.Context, batch []domain.Task, ref domain.IssueRef) (*domain.Patch, bool, error) {
	req := struct {
		Ref   string        `json:"ref"`
		Tasks []domain.Task `json:"tasks"`
	}{Ref: ref.String(), Tasks: batch}
	var resp struct {
		NoChanges bool              `json:"no_changes"`
		Diff      string            `json:"diff"`
		Files     []domain.FileStat `json:"files"`
		TaskIDs   []string          `json:"task_ids"`
	}
	if err := run(ctx, p.Command, req, &resp); err != nil {
		return nil, false, err
	}
	if resp.NoChanges {
		return nil, true, nil
	}
	return &domain.Patch{Diff: []byte(resp.Diff), Files: resp.Files, TaskIDs: resp.TaskIDs}, false, nil
}

// EvalCommand implements controller.Evaluator via an external command
type EvalCommand struct {
	Command string
}

func (e *EvalCommand) Evaluate(ctx context.Context, agent *domain.Agent, completedTaskIDs []string) (controller.Evaluation, error) {
	req := struct {
		Ref              string   `json:"ref"`
		AgentID          string   `json:"agent_id"`
		Iteration        int      `json:"iteration"`
		Confidence       float64  `json:"confidence"`
		CompletedTaskIDs []string `json:"completed_task_ids"`
	}{
		Ref:              agent.Ref.String(),
		AgentID:          agent.ID,
		Iteration:        agent.Iteration,
		Confidence:       agent.Confidence,
		CompletedTaskIDs: completedTaskIDs,
	}
	var resp struct {
		CoverageScore   float64       `json:"coverage_score"`
		Rationale       string        `json:"rationale"`
		NewTasks        []domain.Task `json:"new_tasks"`
		StopRecommended bool          `json:"stop_recommended"`
	}
	if err := run(ctx, e.Command, req, &resp); err != nil {
		return controller.Evaluation{}, err
	}
	return controller.Evaluation{
		CoverageScore:   resp.CoverageScore,
		Rationale:       resp.Rationale,
		NewTasks:        resp.NewTasks,
		StopRecommended: resp.StopRecommended,
	}, nil
}

// ScanCommand implements gate.SecurityScanner via an external command.
// An empty command disables scanning and reports no findings.
type ScanCommand struct {
	Command string
}

func (s *ScanCommand) Scan(ctx context.Context, paths []string) ([]domain.Finding, error) {
	if s.Command == "" {
		return nil, nil
	}
	req := struct {
		Paths []string `json:"paths"`
	}{Paths: paths}
	var resp struct {
		Findings []domain.Finding `json:"findings"`
	}
	if err := run(ctx, s.Command, req, &resp); err != nil {
		return nil, err
	}
	return resp.Findings, nil
}

// ApplyCommand implements gate.Applier via an external command
type ApplyCommand struct {
	Command string
}

func (a *ApplyCommand) Apply(ctx context.Context, patch *domain.Patch) (string, error) {
	req := struct {
		Action string   `json:"action"`
		Diff   string   `json:"diff"`
		Tasks  []string `json:"task_ids"`
	}{Action: "apply", Diff: string(patch.Diff), Tasks: patch.TaskIDs}
	var resp struct {
		CommitRef string `json:"commit_ref"`
	}
	if err := run(ctx, a.Command, req, &resp); err != nil {
		return "", err
	}
	if resp.CommitRef == "" {
		return "", fmt.Errorf("applier returned no commit ref")
	}
	return resp.CommitRef, nil
}

func (a *ApplyCommand) Revert(ctx context.Context, commitRef string) error {
	req := struct {
		Action    string `json:"action"`
		CommitRef string `json:"commit_ref"`
	}{Action: "revert", CommitRef: commitRef}
	var resp struct{}
	return run(ctx, a.Command, req, &resp)
}

// ContextCommand fetches project context for the repoctx cache
type ContextCommand struct {
	Command string
}

func (c *ContextCommand) Fetch(owner, repo string) (*domain.ProjectContext, error) {
	if c.Command == "" {
		return nil, nil
	}
	req := struct {
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
	}{Owner: owner, Repo: repo}
	var resp domain.ProjectContext
	if err := run(context.Background(), c.Command, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
