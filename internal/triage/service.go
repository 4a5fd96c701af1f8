package triage

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultBatchConcurrency caps parallel runs within one batch.
	DefaultBatchConcurrency = 4

	notifyTimeout = 15 * time.Second
)

// ServiceOptions tunes run lifecycle limits.
type ServiceOptions struct {
	// RunTimeout bounds a whole run. Zero means only stage timeouts apply.
	RunTimeout time.Duration

	// BatchConcurrency caps parallel runs in AnalyzeBatch.
	BatchConcurrency int
}

// BatchItem is the per-request result of AnalyzeBatch.
type BatchItem struct {
	Record *Record
	Err    error
}

// Service is the business boundary for triage operations.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	opts     ServiceOptions

	// tracks in-flight notifications so shutdown can wait for them
	wg sync.WaitGroup
}

// NewService creates a new triage service. metrics and notifier may be nil.
func NewService(store Store, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier, opts ServiceOptions) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}
	return &Service{
		store:    store,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		opts:     opts,
	}
}

// Analyze runs one request through the triage graph and records the run.
// The returned Record is non-nil whenever the run was started, including when
// the run itself failed; err is then the engine error, untransformed.
func (s *Service) Analyze(ctx context.Context, req *Request) (*Record, error) {
	if err := req.Validate(); err != nil {
		s.countRequest("invalid")
		return nil, err
	}

	id := ulid.Make().String()
	rec := &Record{
		ID:         id,
		Status:     StatusInProgress,
		Line:       req.Line,
		ScopeBytes: len(req.Scope),
		FileBytes:  len(req.File),
		CreatedAt:  time.Now(),
	}

	if err := s.store.Put(ctx, rec); err != nil {
		s.countRequest("store_error")
		return nil, err
	}
	s.countRequest("accepted")

	runCtx := ctx
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	rr, runErr := s.engine.Run(runCtx, id, req)

	rec.CompletedAt = time.Now()
	rec.Duration = rec.CompletedAt.Sub(rec.CreatedAt).Seconds()
	if runErr != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = KindOf(runErr)
		rec.Error = runErr.Error()
	} else {
		rec.Status = StatusComplete
		rec.Outcome = rr.Outcome
		rec.Terminal = rr.Terminal
		rec.Path = rr.Path
		rec.StageCalls = rr.StageCalls
	}

	L := s.logger.With("triage_id", id)

	// the caller may have gone away; the record still has to land
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.Put(persistCtx, rec); err != nil {
		L.Error(ctx, err, "failed to persist triage record", "status", rec.Status)
	}

	if runErr == nil && rec.Outcome.IsVulnerable && s.notifier != nil {
		cp := *rec
		s.wg.Add(1)
		go s.notify(persistCtx, &cp)
	}

	return rec, runErr
}

// AnalyzeBatch runs reqs concurrently, at most BatchConcurrency at a time.
// Runs are independent: one failing never cancels the others.
func (s *Service) AnalyzeBatch(ctx context.Context, reqs []Request) []BatchItem {
	if s.metrics != nil {
		s.metrics.BatchSize.Observe(float64(len(reqs)))
	}

	items := make([]BatchItem, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.opts.BatchConcurrency)
	for i := range reqs {
		g.Go(func() error {
			rec, err := s.Analyze(ctx, &reqs[i])
			items[i] = BatchItem{Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return items
}

// Get retrieves a triage record by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns the most recent records, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*Record, error) {
	return s.store.List(ctx, limit)
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) notify(ctx context.Context, rec *Record) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := s.notifier.Send(ctx, rec); err != nil {
		s.logger.Error(ctx, err, "failed to send notification", "triage_id", rec.ID)
		if s.metrics != nil {
			s.metrics.NotificationsTotal.WithLabelValues("error").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}
}

func (s *Service) countRequest(result string) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(result).Inc()
	}
}
