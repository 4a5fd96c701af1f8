package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/cohacker/internal/triage/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Put", "(*Store).Put"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	count, total, errs := s.Snapshot()
	if count != 3 {
		t.Errorf("QueryCount = %d, want 3", count)
	}
	if total != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", total)
	}
	if errs != 1 {
		t.Errorf("ErrorCount = %d, want 1", errs)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok || got == nil {
		t.Fatal("expected stats in context")
	}

	got.AddQuery(time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}

	if _, ok := ReqDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestContextTags(t *testing.T) {
	t.Parallel()

	ctx := WithHTTPMethod(context.Background(), "POST")
	ctx = WithTriageID(ctx, "01J0000000000000000000000")
	if got := httpMethodFromContext(ctx); got != "POST" {
		t.Errorf("method = %q, want POST", got)
	}
	if got := triageIDFromContext(ctx); got != "01J0000000000000000000000" {
		t.Errorf("triage id = %q", got)
	}

	empty := WithTriageID(WithHTTPMethod(context.Background(), ""), "")
	if httpMethodFromContext(empty) != "" || triageIDFromContext(empty) != "" {
		t.Error("empty values must not be stored")
	}
}

func TestQueryMethod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"http", WithHTTPMethod(context.Background(), "GET"), "GET"},
		{"triage run", WithTriageID(context.Background(), "t-1"), "TRIAGE"},
		{"bare", context.Background(), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := queryMethod(tt.ctx); got != tt.want {
			t.Errorf("%s: queryMethod = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// Not parallel: the query observer is process-wide.
func TestQueryTracer_StatsAndObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	type observed struct {
		method, route, outcome string
	}
	var got []observed
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, method, route, outcome string, _ time.Duration) {
		got = append(got, observed{method, route, outcome})
	}))

	tr := newQueryTracer(nil, time.Hour)
	ctx := NewReqDBStatsContext(WithTriageID(context.Background(), "t-1"))

	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	qctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT broken"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: errors.New("syntax error")})

	stats, _ := ReqDBStatsFromContext(ctx)
	count, _, errs := stats.Snapshot()
	if count != 2 || errs != 1 {
		t.Errorf("stats = %d queries / %d errors, want 2/1", count, errs)
	}

	want := []observed{{"TRIAGE", "unknown", "ok"}, {"TRIAGE", "unknown", "error"}}
	if len(got) != len(want) {
		t.Fatalf("observations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observation %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// Not parallel: the query observer is process-wide.
func TestSetQueryObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	}))

	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "GET", "/test", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if got := getQueryObserver(); got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
