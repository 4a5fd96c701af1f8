package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/cohacker/internal/triage"
)

// DefaultMaxTokens caps the model output per stage call.
const DefaultMaxTokens = 1024

// Options tunes an Invoker.
type Options struct {
	MaxTokens int

	// OnUsage, when set, receives token usage for every successful call.
	OnUsage func(stage triage.StageID, in, out int)

	// CallTimeout bounds the snippet calls. Graph stages are bounded by the engine.
	CallTimeout time.Duration
}

// Invoker is a triage.StageInvoker backed by an LLM Provider. Each stage call
// is a single request that forces one tool call whose input schema is the
// stage's output schema.
type Invoker struct {
	provider    Provider
	logger      log.Logger
	maxTokens   int
	onUsage     func(stage triage.StageID, in, out int)
	callTimeout time.Duration
}

var _ triage.StageInvoker = (*Invoker)(nil)

// New creates an Invoker over provider.
func New(provider Provider, logger log.Logger, opts Options) *Invoker {
	if provider == nil {
		panic(xerrors.New("classifier provider is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Invoker{
		provider:    provider,
		logger:      logger,
		maxTokens:   opts.MaxTokens,
		onUsage:     opts.OnUsage,
		callTimeout: opts.CallTimeout,
	}
}

// Invoke performs one stage call.
func (c *Invoker) Invoke(ctx context.Context, stage triage.StageID, in triage.StageInput) (*triage.StageResult, error) {
	tool, ok := toolFor(stage)
	if !ok {
		return nil, triage.NewStageError(triage.KindGraphInvariantViolation, stage, fmt.Errorf("no tool schema for stage %q", stage))
	}
	prompt, err := buildPrompt(stage, in)
	if err != nil {
		return nil, triage.NewStageError(triage.KindGraphInvariantViolation, stage, err)
	}

	resp, err := c.send(ctx, stage, &Request{
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Prompt:    prompt,
		Tool:      tool,
	})
	if err != nil {
		return nil, err
	}
	if resp.ToolName != tool.Name || len(resp.Input) == 0 {
		return nil, triage.SchemaViolation(stage, "expected a %s tool call, got stop_reason %q", tool.Name, resp.StopReason)
	}

	return decode(stage, resp.Input)
}

// decode maps the tool input into a StageResult. Field presence is kept so the
// engine can reject missing values.
func decode(stage triage.StageID, raw json.RawMessage) (*triage.StageResult, error) {
	switch stage {
	case triage.StageVulnerable, triage.StageSuggestUpgrade:
		var p fixPayload
		if err := unmarshalStrict(raw, &p); err != nil {
			return nil, triage.SchemaViolation(stage, "decode fix: %w", err)
		}
		return &triage.StageResult{Fix: &triage.FixResult{
			IsVulnerable:  p.IsVulnerable,
			Vulnerability: p.Vulnerability,
			SuggestedFix:  p.SuggestedFix,
		}}, nil

	default:
		var p classification
		if err := unmarshalStrict(raw, &p); err != nil {
			return nil, triage.SchemaViolation(stage, "decode classification: %w", err)
		}
		return &triage.StageResult{
			Confidence:    p.Confidence,
			UnsafePattern: p.Unsafe,
			Category:      triage.Category(p.Category),
		}, nil
	}
}

// unmarshalStrict decodes a single JSON object and rejects trailing data.
func unmarshalStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after tool input")
	}
	return nil
}

// providerError maps a Provider failure to a stage error kind. The context
// decides between Timeout and Canceled when it has ended.
func providerError(ctx context.Context, stage triage.StageID, err error) error {
	var se *triage.StageError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return triage.NewStageError(triage.KindTimeout, stage, withCause(err, context.DeadlineExceeded))
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return triage.NewStageError(triage.KindCanceled, stage, withCause(err, context.Canceled))
	}
	return triage.NewStageError(triage.KindUnavailable, stage, err)
}

func withCause(err, ctxErr error) error {
	if errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("%w: %w", ctxErr, err)
}
