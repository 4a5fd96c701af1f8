package triage

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/cohacker/internal/triage")

// DefaultStageTimeout bounds a single stage call when the engine is built without one.
const DefaultStageTimeout = 30 * time.Second

// EngineHooks are optional callbacks fired during Run. Nil fields are skipped.
type EngineHooks struct {
	OnStageCall func(stage StageID, duration float64, kind ErrorKind)
	OnComplete  func(e *CompleteEvent)
}

// CompleteEvent summarises a finished run for metrics.
type CompleteEvent struct {
	Status     Status
	Terminal   StageID
	Verdict    string
	ErrorKind  ErrorKind
	Duration   float64
	StageCalls int
}

// RunResult is the outcome of Engine.Run plus the route the run took.
type RunResult struct {
	Outcome     *Outcome
	Terminal    StageID
	Path        []StageID
	StageCalls  int
	CompletedAt time.Time
	Duration    float64
}

// Engine drives a request through the triage graph. It holds no per-run
// state and is safe for concurrent use.
type Engine struct {
	invoker      StageInvoker
	logger       log.Logger
	hooks        EngineHooks
	stageTimeout time.Duration

	// next is the transition policy; tests replace it to exercise the hop bound.
	next func(from StageID, s *State) (StageID, error)
}

// NewEngine creates a new triage engine. A non-positive stageTimeout selects DefaultStageTimeout.
func NewEngine(invoker StageInvoker, logger log.Logger, hooks EngineHooks, stageTimeout time.Duration) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if stageTimeout <= 0 {
		stageTimeout = DefaultStageTimeout
	}
	return &Engine{
		invoker:      invoker,
		logger:       logger,
		hooks:        hooks,
		stageTimeout: stageTimeout,
		next:         Next,
	}
}

// Run executes the triage graph for req. Exactly one terminal stage runs on
// success; any stage failure aborts the run and is returned untransformed.
func (e *Engine) Run(ctx context.Context, id string, req *Request) (*RunResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "triage.run", trace.WithAttributes(
		attribute.String("cohacker.triage.id", id),
		attribute.Int("cohacker.request.line_bytes", len(req.Line)),
		attribute.Int("cohacker.request.scope_bytes", len(req.Scope)),
		attribute.Int("cohacker.request.file_bytes", len(req.File)),
	))
	defer span.End()

	L := e.logger.With("triage_id", id)

	state := NewState(*req)
	calls, err := e.drive(ctx, L, id, state)
	duration := time.Since(start).Seconds()

	ev := &CompleteEvent{
		Duration:   duration,
		StageCalls: calls,
	}

	if err != nil {
		ev.Status = StatusFailed
		ev.ErrorKind = KindOf(err)
		e.fireComplete(ev)

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("cohacker.triage.error_kind", string(ev.ErrorKind)))

		L.Error(ctx, err, "triage aborted",
			"kind", ev.ErrorKind,
			"path", state.Path,
			"stage_calls", calls,
			"duration", duration,
		)
		return nil, err
	}

	terminal := state.Path[len(state.Path)-1]
	ev.Status = StatusComplete
	ev.Terminal = terminal
	ev.Verdict = state.Output.Verdict()
	e.fireComplete(ev)

	span.SetAttributes(
		attribute.String("cohacker.triage.terminal", string(terminal)),
		attribute.String("cohacker.triage.verdict", ev.Verdict),
		attribute.Int("cohacker.triage.stage_calls", calls),
	)

	L.Info(ctx, "triage complete",
		"terminal", terminal,
		"verdict", ev.Verdict,
		"path", state.Path,
		"stage_calls", calls,
		"duration", duration,
	)

	return &RunResult{
		Outcome:     state.Output,
		Terminal:    terminal,
		Path:        state.Path,
		StageCalls:  calls,
		CompletedAt: time.Now(),
		Duration:    duration,
	}, nil
}

// drive walks the graph from the initial stage until a terminal stage has
// produced output. It returns the number of external stage calls made.
func (e *Engine) drive(ctx context.Context, L log.Logger, id string, state *State) (int, error) {
	stage := StageInitial
	hops := 0
	calls := 0

	for {
		if err := ctx.Err(); err != nil {
			return calls, classifyStageErr(ctx, stage, err)
		}

		if !IsTerminal(stage) {
			hops++
			if hops > MaxNonTerminalHops {
				return calls, NewStageError(KindGraphInvariantViolation, stage,
					fmt.Errorf("exceeded %d non-terminal hops (path %v)", MaxNonTerminalHops, state.Path))
			}
		}
		state.Path = append(state.Path, stage)

		if !invokesExternal(stage) {
			state.Output = safeOutcome()
			return calls, nil
		}

		calls++
		res, err := e.invokeStage(ctx, L, id, stage, state)
		if err != nil {
			return calls, err
		}

		if IsTerminal(stage) {
			state.Output = buildFixOutcome(res.Fix)
			return calls, nil
		}

		apply(stage, state, res)

		next, err := e.next(stage, state)
		if err != nil {
			return calls, err
		}

		L.Info(ctx, "stage transition",
			"from", stage,
			"to", next,
			"category", state.Category,
			"confidence", confidenceValue(state.Confidence),
			"unsafe_pattern", state.UnsafePattern,
		)
		stage = next
	}
}

// invokeStage performs one bounded StageInvoker call and validates the result.
func (e *Engine) invokeStage(ctx context.Context, L log.Logger, id string, stage StageID, state *State) (*StageResult, error) {
	ctx, span := tracer.Start(ctx, "triage.stage", trace.WithAttributes(
		attribute.String("cohacker.triage.id", id),
		attribute.String("cohacker.stage", string(stage)),
		attribute.Int("cohacker.stage.seq", len(state.Path)-1),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()

	in := InputFor(stage, state)

	callStart := time.Now()
	res, err := e.invoker.Invoke(callCtx, stage, in)
	elapsed := time.Since(callStart).Seconds()

	if err == nil {
		err = ValidateResult(stage, res)
	} else {
		err = classifyStageErr(callCtx, stage, err)
	}

	var kind ErrorKind
	if err != nil {
		kind = KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("cohacker.stage.error_kind", string(kind)))
	}

	if e.hooks.OnStageCall != nil {
		e.hooks.OnStageCall(stage, elapsed, kind)
	}

	if err != nil {
		L.Warn(ctx, "stage call failed", "stage", stage, "kind", kind, "duration", elapsed)
		return nil, err
	}

	span.SetAttributes(attribute.String("cohacker.stage.category", string(res.Category)))
	L.Info(ctx, "stage call complete", "stage", stage, "duration", elapsed)

	return res, nil
}

func (e *Engine) fireComplete(ev *CompleteEvent) {
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(ev)
	}
}

func confidenceValue(c *float64) any {
	if c == nil {
		return nil
	}
	return *c
}
