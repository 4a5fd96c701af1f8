package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds the service settings bound from flags and COHACKER_ env vars.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	ClaudeAPIKey     string
	ClaudeModel      string
	ClaudeMaxRetries int
	MaxTokens        int

	StageTimeoutSeconds int
	RunTimeoutSeconds   int
	BatchConcurrency    int
	MaxBatch            int

	DatabaseURL     string
	DBMaxConns      int
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for every stage call")
	fs.IntVar(&c.ClaudeMaxRetries, "claude-max-retries", 2, "retries the Claude client makes on transient failures (0..10)")
	fs.IntVar(&c.MaxTokens, "max-tokens", 1024, "max output tokens per stage call (64..8192)")
	fs.IntVar(&c.StageTimeoutSeconds, "stage-timeout-seconds", 30, "deadline for a single stage call (1..300)")
	fs.IntVar(&c.RunTimeoutSeconds, "run-timeout-seconds", 120, "deadline for a whole triage run (1..600)")
	fs.IntVar(&c.BatchConcurrency, "batch-concurrency", 4, "max concurrent runs within one batch request (1..64)")
	fs.IntVar(&c.MaxBatch, "max-batch", 32, "max requests accepted in one batch call (1..1000)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "max PostgreSQL pool connections (1..100)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for vulnerability notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.ClaudeMaxRetries < 0 || c.ClaudeMaxRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid CLAUDE_MAX_RETRIES %d (must be 0..10)", c.ClaudeMaxRetries))
	}
	if c.MaxTokens < 64 || c.MaxTokens > 8192 {
		errs = append(errs, fmt.Errorf("invalid MAX_TOKENS %d (must be 64..8192)", c.MaxTokens))
	}

	// Stage calls nest inside the run deadline
	if c.StageTimeoutSeconds <= 0 || c.StageTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid STAGE_TIMEOUT_SECONDS %d (must be 1..300)", c.StageTimeoutSeconds))
	}
	if c.RunTimeoutSeconds <= 0 || c.RunTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid RUN_TIMEOUT_SECONDS %d (must be 1..600)", c.RunTimeoutSeconds))
	}
	if c.RunTimeoutSeconds < c.StageTimeoutSeconds {
		errs = append(errs, fmt.Errorf("RUN_TIMEOUT_SECONDS %d must be at least STAGE_TIMEOUT_SECONDS %d", c.RunTimeoutSeconds, c.StageTimeoutSeconds))
	}

	if c.BatchConcurrency <= 0 || c.BatchConcurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid BATCH_CONCURRENCY %d (must be 1..64)", c.BatchConcurrency))
	}
	if c.MaxBatch <= 0 || c.MaxBatch > 1000 {
		errs = append(errs, fmt.Errorf("invalid MAX_BATCH %d (must be 1..1000)", c.MaxBatch))
	}

	if c.DatabaseURL != "" && (c.DBMaxConns <= 0 || c.DBMaxConns > 100) {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..100)", c.DBMaxConns))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
