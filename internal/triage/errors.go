package triage

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a triage run aborted.
type ErrorKind string

const (
	// KindSchemaViolation means a stage returned a result that does not match its output schema.
	KindSchemaViolation ErrorKind = "schema_violation"

	// KindUnavailable means a stage call could not complete.
	KindUnavailable ErrorKind = "unavailable"

	// KindTimeout means a stage call exceeded its time bound.
	KindTimeout ErrorKind = "timeout"

	// KindCanceled means the caller canceled the run.
	KindCanceled ErrorKind = "canceled"

	// KindGraphInvariantViolation means the run left the graph topology. Always a defect.
	KindGraphInvariantViolation ErrorKind = "graph_invariant_violation"
)

// StageError is the error returned by a StageInvoker or the Engine when a run aborts.
type StageError struct {
	Kind  ErrorKind
	Stage StageID
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stage %s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a StageError of the given kind.
func NewStageError(kind ErrorKind, stage StageID, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// SchemaViolation is shorthand for a schema violation with a formatted cause.
func SchemaViolation(stage StageID, format string, args ...any) *StageError {
	return NewStageError(KindSchemaViolation, stage, fmt.Errorf(format, args...))
}

// KindOf returns the ErrorKind carried by err, or "" when err is not a StageError.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// classifyStageErr normalizes an error returned from a stage call. Context
// errors win over whatever the invoker reported so a deadline is always a
// Timeout and a cancellation is always Canceled.
func classifyStageErr(ctx context.Context, stage StageID, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) && (se.Kind == KindTimeout || se.Kind == KindCanceled) {
		return withStage(se, stage)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return NewStageError(KindTimeout, stage, joinCtxErr(err, context.DeadlineExceeded))
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return NewStageError(KindCanceled, stage, joinCtxErr(err, context.Canceled))
	}

	if se != nil {
		return withStage(se, stage)
	}
	return NewStageError(KindUnavailable, stage, err)
}

func withStage(se *StageError, stage StageID) *StageError {
	out := *se
	if out.Stage == "" {
		out.Stage = stage
	}
	if out.Kind == "" {
		out.Kind = KindUnavailable
	}
	return &out
}

func joinCtxErr(err, ctxErr error) error {
	switch {
	case err == nil:
		return ctxErr
	case errors.Is(err, ctxErr):
		return err
	}
	return fmt.Errorf("%w: %w", ctxErr, err)
}
