// Package codeapi exposes the triage service over HTTP.
package codeapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/cohacker/internal/postgres"
	"github.com/linnemanlabs/cohacker/internal/triage"
)

const (
	// DefaultMaxBatch caps the number of requests in one batch call.
	DefaultMaxBatch = 32

	defaultListLimit = 20
	maxListLimit     = 200

	// TriageIDHeader carries the run ID on inline_assistant responses.
	TriageIDHeader = "X-Triage-Id"
)

// TriageService defines the business operations codeapi needs.
type TriageService interface {
	Analyze(ctx context.Context, req *triage.Request) (*triage.Record, error)
	AnalyzeBatch(ctx context.Context, reqs []triage.Request) []triage.BatchItem
	Get(ctx context.Context, id string) (*triage.Record, bool, error)
	List(ctx context.Context, limit int) ([]*triage.Record, error)
}

// Options tunes request limits and optional features.
type Options struct {
	MaxBatch int

	// Snippets serves /analyze and /ask_ai. Those routes are not registered when nil.
	Snippets SnippetService
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      TriageService
	snippets SnippetService
	maxBatch int
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, opts Options) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	return &API{
		logger:   logger,
		svc:      svc,
		snippets: opts.Snippets,
		maxBatch: opts.MaxBatch,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(a.dbStats)

		r.Post("/inline_assistant", a.handleInlineAssistant)
		r.Post("/inline_assistant/batch", a.handleInlineAssistantBatch)
		r.Get("/triage", a.handleListTriage)
		r.Get("/triage/{id}", a.handleGetTriage)

		if a.snippets != nil {
			r.Post("/analyze", a.handleAnalyze)
			r.Post("/ask_ai", a.handleAskAI)
		}
	})
}

// dbStats attaches per-request query stats and logs them when the request touched the database.
func (a *API) dbStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := postgres.NewReqDBStatsContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))

		stats, ok := postgres.ReqDBStatsFromContext(ctx)
		if !ok {
			return
		}
		count, total, errs := stats.Snapshot()
		if count == 0 {
			return
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		a.logger.Info(ctx, "request db stats",
			"route", route,
			"db.queries", count,
			"db.errors", errs,
			"db.duration", total.Seconds(),
		)
	})
}

func (a *API) handleGetTriage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("cohacker.triage.id", id))

	rec, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage record", "id", id)
		writeError(w, r, http.StatusInternalServerError, "internal error", "")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found", "")
		return
	}

	span.SetAttributes(attribute.String("cohacker.triage.status", string(rec.Status)))
	render.JSON(w, r, rec)
}

func (a *API) handleListTriage(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), "")
		return
	}

	recs, err := a.svc.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list triage records")
		writeError(w, r, http.StatusInternalServerError, "internal error", "")
		return
	}
	if recs == nil {
		recs = []*triage.Record{}
	}

	render.JSON(w, r, listResponse{Records: recs, Limit: limit, GeneratedAt: time.Now().UTC()})
}

type listResponse struct {
	Records     []*triage.Record `json:"records"`
	Limit       int              `json:"limit"`
	GeneratedAt time.Time        `json:"generated_at"`
}
