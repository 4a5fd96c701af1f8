// Cohacker-eval runs a labelled set of C/C++ lines through the triage graph
// against Claude and reports where the verdicts differ from expectations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/cohacker/internal/classifier"
	"github.com/linnemanlabs/cohacker/internal/llm/claude"
	"github.com/linnemanlabs/cohacker/internal/triage"
)

const appName = "cohacker"
const component = "eval"

// errMismatch is returned when at least one case failed.
var errMismatch = errors.New("evaluation failed")

type evalConfig struct {
	CasesPath           string
	Filter              string
	Concurrency         int
	Verbose             bool
	ClaudeAPIKey        string
	ClaudeModel         string
	ClaudeMaxRetries    int
	StageTimeoutSeconds int
}

func (c *evalConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.CasesPath, "cases", "cmd/cohacker-eval/testdata/cases.yaml", "YAML file with labelled cases")
	fs.StringVar(&c.Filter, "filter", "", "only run cases whose label contains this text")
	fs.IntVar(&c.Concurrency, "concurrency", 4, "cases evaluated in parallel (1..32)")
	fs.BoolVar(&c.Verbose, "v", false, "print suggested fixes and errors after the table")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", claude.DefaultModel, "Claude model used for every stage call")
	fs.IntVar(&c.ClaudeMaxRetries, "claude-max-retries", 2, "retries the Claude client makes on transient failures")
	fs.IntVar(&c.StageTimeoutSeconds, "stage-timeout-seconds", 60, "deadline for a single stage call")
}

func (c *evalConfig) Validate() error {
	var errs []error
	if c.CasesPath == "" {
		errs = append(errs, errors.New("-cases is required"))
	}
	if c.Concurrency < 1 || c.Concurrency > 32 {
		errs = append(errs, fmt.Errorf("invalid -concurrency %d (must be 1..32)", c.Concurrency))
	}
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.StageTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid -stage-timeout-seconds %d", c.StageTimeoutSeconds))
	}
	return errors.Join(errs...)
}

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, errMismatch) {
			fmt.Fprintln(os.Stderr, "fatal error:", err)
		}
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component

	var (
		evalCfg evalConfig
		logCfg  log.Config
	)
	evalCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg.FillFromEnv(flag.CommandLine, "COHACKER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(evalCfg.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", component)

	cases, err := loadCases(evalCfg.CasesPath)
	if err != nil {
		return err
	}
	cases = filterCases(cases, evalCfg.Filter)
	if len(cases) == 0 {
		return fmt.Errorf("no cases match filter %q", evalCfg.Filter)
	}

	stageTimeout := time.Duration(evalCfg.StageTimeoutSeconds) * time.Second
	provider := claude.New(evalCfg.ClaudeAPIKey, evalCfg.ClaudeModel, claude.Options{
		MaxRetries:     evalCfg.ClaudeMaxRetries,
		RequestTimeout: stageTimeout,
	})
	engine := triage.NewEngine(classifier.New(provider, L, classifier.Options{}), L, triage.EngineHooks{}, stageTimeout)

	L.Info(ctx, "running evaluation", "cases", len(cases), "model", evalCfg.ClaudeModel, "concurrency", evalCfg.Concurrency)

	results := evaluate(ctx, engine, cases, evalCfg.Concurrency)
	if failed := report(os.Stdout, results, evalCfg.Verbose); failed > 0 {
		return errMismatch
	}
	return nil
}
