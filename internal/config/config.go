package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration. Every numeric policy
// constant used by the core loop lives here; no algorithm hardcodes a
// threshold.
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Adaptive      AdaptiveConfig      `toml:"adaptive"`
	Termination   TerminationConfig   `toml:"termination"`
	Diff          DiffConfig          `toml:"diff"`
	Security      SecurityConfig      `toml:"security"`
	Risk          RiskConfig          `toml:"risk"`
	Eval          EvalConfig          `toml:"eval"`
	Review        ReviewConfig        `toml:"review"`
	Queue         QueueConfig         `toml:"queue"`
	Commands      CommandsConfig      `toml:"commands"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath   string `toml:"database_path"`
	OwnersPath     string `toml:"owners_path"`
	ContextTTLSecs int    `toml:"context_ttl_secs"`
}

// AdaptiveConfig tunes batch sizing and confidence adaptation
type AdaptiveConfig struct {
	MinBatch                    int     `toml:"min_batch"`
	MaxBatch                    int     `toml:"max_batch"`
	DynamicRiskWeight           float64 `toml:"dynamic_risk_weight"`
	ExploitationBias            float64 `toml:"exploitation_bias"`
	ConfidenceIncreasePerSuccess float64 `toml:"confidence_increase_per_success"`
	ConfidenceDecreaseOnFail    float64 `toml:"confidence_decrease_on_fail"`
}

// TerminationConfig decides when the loop stops
type TerminationConfig struct {
	RequiredConfidence float64 `toml:"required_confidence"`
	MaxIdleIterations  int     `toml:"max_idle_iterations"`
}

// DiffConfig bounds what a single patch may change
type DiffConfig struct {
	MaxBytes               int     `toml:"max_bytes"`
	MaxDeletesRatio        float64 `toml:"max_deletes_ratio"`
	MaxTotalFilesPerIter   int     `toml:"max_total_files_per_iter"`
	LargeFileLineThreshold int     `toml:"large_file_line_threshold"`
}

// SecurityConfig bounds tolerated scanner findings
type SecurityConfig struct {
	MaxHighSeverityIssues int `toml:"max_high_severity_issues"`
}

// RiskConfig controls risk-driven escalation
type RiskConfig struct {
	// EscalateThreshold is compared against the normalized global risk
	// in [0,1]; above it the agent stops pending stakeholder input.
	EscalateThreshold float64 `toml:"escalate_threshold"`
}

// EvalConfig controls the periodic evaluation tick
type EvalConfig struct {
	// Cron is the cadence of the evaluation sweep.
	Cron string `toml:"cron"`
	// IdleSecs is how long an agent must have been quiet before the
	// sweep evaluates it.
	IdleSecs           int     `toml:"idle_secs"`
	MaxNewTasksPerEval int     `toml:"max_new_tasks_per_eval"`
	ConfidenceGate     float64 `toml:"confidence_gate"`
	CoverageThreshold  float64 `toml:"coverage_threshold"`
}

// ReviewConfig controls the stakeholder-review gate
type ReviewConfig struct {
	MaxTasksWithoutReview int      `toml:"max_tasks_without_review"`
	CriticalManifests     []string `toml:"critical_manifests"`
}

// QueueConfig sizes the stage worker pools
type QueueConfig struct {
	PlanWorkers int `toml:"plan_workers"`
	ExecWorkers int `toml:"exec_workers"`
	EvalWorkers int `toml:"eval_workers"`
}

// CommandsConfig binds external collaborators to commands that speak
// JSON over stdin/stdout. PlanGenerator, PatchGenerator, Evaluator and
// Applier are required to serve; Scanner and ContextFetcher are
// optional.
type CommandsConfig struct {
	PlanGenerator  string `toml:"plan_generator"`
	PatchGenerator string `toml:"patch_generator"`
	Evaluator      string `toml:"evaluator"`
	Scanner        string `toml:"scanner"`
	Applier        string `toml:"applier"`
	ContextFetcher string `toml:"context_fetcher"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with the documented defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:   filepath.Join(home, ".issue-autopilot", "autopilot.db"),
			OwnersPath:     "owners.yaml",
			ContextTTLSecs: 300,
		},
		Adaptive: AdaptiveConfig{
			MinBatch:                    1,
			MaxBatch:                    12,
			DynamicRiskWeight:           0.5,
			ExploitationBias:            0.7,
			ConfidenceIncreasePerSuccess: 0.07,
			ConfidenceDecreaseOnFail:    0.10,
		},
		Termination: TerminationConfig{
			RequiredConfidence: 0.94,
			MaxIdleIterations:  4,
		},
		Diff: DiffConfig{
			MaxBytes:               64000,
			MaxDeletesRatio:        0.45,
			MaxTotalFilesPerIter:   20,
			LargeFileLineThreshold: 1000,
		},
		Security: SecurityConfig{
			MaxHighSeverityIssues: 5,
		},
		Risk: RiskConfig{
			EscalateThreshold: 0.9,
		},
		Eval: EvalConfig{
			Cron:               "*/10 * * * *",
			IdleSecs:           600,
			MaxNewTasksPerEval: 5,
			ConfidenceGate:     0.5,
			CoverageThreshold:  0.8,
		},
		Review: ReviewConfig{
			MaxTasksWithoutReview: 10,
			CriticalManifests:     []string{"go.mod", "package.json", "requirements.txt", "Cargo.toml"},
		},
		Queue: QueueConfig{
			PlanWorkers: 2,
			ExecWorkers: 4,
			EvalWorkers: 1,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.OwnersPath = ExpandPath(cfg.General.OwnersPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the loop cannot run with
func (c *Config) Validate() error {
	if c.Adaptive.MinBatch < 1 {
		return fmt.Errorf("adaptive.min_batch must be >= 1, got %d", c.Adaptive.MinBatch)
	}
	if c.Adaptive.MaxBatch < c.Adaptive.MinBatch {
		return fmt.Errorf("adaptive.max_batch (%d) must be >= min_batch (%d)",
			c.Adaptive.MaxBatch, c.Adaptive.MinBatch)
	}
	if c.Termination.RequiredConfidence <= 0 || c.Termination.RequiredConfidence > 1 {
		return fmt.Errorf("termination.required_confidence must be in (0,1], got %g",
			c.Termination.RequiredConfidence)
	}
	if c.Diff.MaxDeletesRatio < 0 || c.Diff.MaxDeletesRatio > 1 {
		return fmt.Errorf("diff.max_deletes_ratio must be in [0,1], got %g", c.Diff.MaxDeletesRatio)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "issue-autopilot", "config.toml")
}
