package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const modulePath = "github.com/linnemanlabs/cohacker/"

// queryState is stashed in the context between TraceQueryStart and TraceQueryEnd.
type queryState struct {
	sql     string
	args    []any
	start   time.Time
	caller  string
	handler string
}

// queryTracer wraps another pgx.QueryTracer (otelpgx) with a structured log
// line, per-request stats and the metrics observer.
type queryTracer struct {
	inner          pgx.QueryTracer
	logMinDuration time.Duration
}

func newQueryTracer(inner pgx.QueryTracer, logMinDuration time.Duration) *queryTracer {
	return &queryTracer{inner: inner, logMinDuration: logMinDuration}
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	caller, handler := findDBCallerAndHandler()

	// inner span first so the attributes below land on it
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := make([]attribute.KeyValue, 0, 3)
		if caller != "" {
			attrs = append(attrs, attribute.String("db.caller", caller))
		}
		if handler != "" {
			attrs = append(attrs, attribute.String("db.handler", handler))
		}
		if id := triageIDFromContext(ctx); id != "" {
			attrs = append(attrs, attribute.String("cohacker.triage.id", id))
		}
		span.SetAttributes(attrs...)
	}

	return context.WithValue(ctx, queryStateKey, &queryState{
		sql:     data.SQL,
		args:    data.Args,
		start:   time.Now(),
		caller:  caller,
		handler: handler,
	})
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, _ := ctx.Value(queryStateKey).(*queryState)
	if qs == nil {
		qs = &queryState{}
	}

	var dur time.Duration
	if !qs.start.IsZero() {
		dur = time.Since(qs.start)
	}

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	if obs := getQueryObserver(); obs != nil && dur > 0 {
		obs.ObserveQuery(ctx, queryMethod(ctx), queryRoute(ctx), queryOutcome(data.Err), dur)
	}

	if data.Err == nil && dur < t.logMinDuration {
		return
	}

	fields := []any{
		"db.statement", qs.sql,
		"db.args", qs.args,
		"db.duration", dur.Seconds(),
	}

	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if op, _, _ := strings.Cut(tag, " "); op != "" {
			fields = append(fields, "db.operation.name", strings.ToUpper(op))
		}
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}
	if qs.handler != "" {
		fields = append(fields, "db.handler", qs.handler)
	}
	if id := triageIDFromContext(ctx); id != "" {
		fields = append(fields, "triage_id", id)
	}

	L := log.FromContext(ctx)
	if data.Err == nil {
		L.Info(ctx, "db query", fields...)
		return
	}

	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
	}
	L.Error(ctx, data.Err, "db query failed", fields...)
}

func queryMethod(ctx context.Context) string {
	if m := httpMethodFromContext(ctx); m != "" {
		return m
	}
	// triage runs persist after the request context is detached
	if triageIDFromContext(ctx) != "" {
		return "TRIAGE"
	}
	return "UNKNOWN"
}

func queryRoute(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

func queryOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// findDBCallerAndHandler walks the stack for the first application frame
// issuing the query (caller) and the next frame outside this package (handler).
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function

		switch {
		case fn == "":
		case strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/pgx/v5"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.Contains(fn, "queryTracer).TraceQuery"):
		case caller == "":
			caller = shortenFuncName(fn)
		case strings.HasPrefix(fn, modulePath+"internal/postgres."):
		default:
			return caller, shortenFuncName(fn)
		}

		if !more {
			return caller, handler
		}
	}
}

// shortenFuncName drops the import path and package name, keeping receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if _, rest, ok := strings.Cut(fn, "."); ok && rest != "" {
		return rest
	}
	return fn
}
