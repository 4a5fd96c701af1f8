// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/cohacker/internal/postgres"
	"github.com/linnemanlabs/cohacker/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/cohacker/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists triage records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const recordColumns = `id, status, line, scope_bytes, file_bytes, terminal, path, outcome,
	error_kind, error, stage_calls, created_at, completed_at, duration_s`

// Get retrieves a triage record by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	ctx = postgres.WithTriageID(ctx, id)
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM triage_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		failSpan(span, err)
		return nil, false, err
	}
	return r, true, nil
}

// Put inserts or updates a triage record.
func (s *Store) Put(ctx context.Context, r *triage.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	pathJSON, err := json.Marshal(r.Path)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("marshal path: %w", err)
	}

	var (
		outcomeJSON  []byte
		isVulnerable *bool
	)
	if r.Outcome != nil {
		outcomeJSON, err = json.Marshal(r.Outcome)
		if err != nil {
			failSpan(span, err)
			return fmt.Errorf("marshal outcome: %w", err)
		}
		isVulnerable = &r.Outcome.IsVulnerable
	}

	var completedAt *time.Time
	if !r.CompletedAt.IsZero() {
		completedAt = &r.CompletedAt
	}

	query := `INSERT INTO triage_runs (
		id, status, line, scope_bytes, file_bytes, terminal, path, is_vulnerable, outcome,
		error_kind, error, stage_calls, created_at, completed_at, duration_s
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (id) DO UPDATE SET
		status        = EXCLUDED.status,
		terminal      = EXCLUDED.terminal,
		path          = EXCLUDED.path,
		is_vulnerable = EXCLUDED.is_vulnerable,
		outcome       = EXCLUDED.outcome,
		error_kind    = EXCLUDED.error_kind,
		error         = EXCLUDED.error,
		stage_calls   = EXCLUDED.stage_calls,
		completed_at  = EXCLUDED.completed_at,
		duration_s    = EXCLUDED.duration_s`

	ctx = postgres.WithTriageID(ctx, r.ID)
	_, err = s.pool.Exec(ctx, query,
		r.ID, string(r.Status), r.Line, r.ScopeBytes, r.FileBytes, string(r.Terminal), pathJSON,
		isVulnerable, outcomeJSON, string(r.ErrorKind), r.Error, r.StageCalls,
		r.CreatedAt, completedAt, r.Duration,
	)
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("upsert triage: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first. A non-positive limit returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*triage.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query := `SELECT ` + recordColumns + ` FROM triage_runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("query triage_runs: %w", err)
	}
	defer rows.Close()

	var out []*triage.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			failSpan(span, err)
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		failSpan(span, err)
		return nil, fmt.Errorf("iterate triage_runs: %w", err)
	}
	return out, nil
}

// scanRecord scans one row selected with recordColumns.
func scanRecord(row pgx.Row) (*triage.Record, error) {
	var (
		r           triage.Record
		status      string
		terminal    string
		errorKind   string
		pathJSON    []byte
		outcomeJSON []byte
		completedAt *time.Time
	)

	err := row.Scan(
		&r.ID, &status, &r.Line, &r.ScopeBytes, &r.FileBytes, &terminal, &pathJSON, &outcomeJSON,
		&errorKind, &r.Error, &r.StageCalls, &r.CreatedAt, &completedAt, &r.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	r.Status = triage.Status(status)
	r.Terminal = triage.StageID(terminal)
	r.ErrorKind = triage.ErrorKind(errorKind)
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}

	if len(pathJSON) > 0 {
		if err := json.Unmarshal(pathJSON, &r.Path); err != nil {
			return nil, fmt.Errorf("unmarshal path: %w", err)
		}
	}
	if len(outcomeJSON) > 0 {
		r.Outcome = &triage.Outcome{}
		if err := json.Unmarshal(outcomeJSON, r.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
	}

	return &r, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
