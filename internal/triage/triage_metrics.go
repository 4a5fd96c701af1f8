package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	RunStageCalls      prometheus.Histogram
	StageCallsTotal    *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	LLMTokensIn        *prometheus.CounterVec
	LLMTokensOut       *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cohacker_triage_runs_total",
			Help: "Total triage runs by status, terminal stage and error kind.",
		}, []string{"status", "terminal", "error_kind"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cohacker_triage_run_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"status"}),
		RunStageCalls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cohacker_triage_run_stage_calls",
			Help:    "External stage calls per triage run.",
			Buckets: prometheus.LinearBuckets(0, 1, 5), // 0 .. 4
		}),
		StageCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cohacker_stage_calls_total",
			Help: "Total stage invocations by stage and outcome.",
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cohacker_stage_duration_seconds",
			Help:    "Duration of individual stage calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"stage"}),
		LLMTokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cohacker_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed by stage.",
		}, []string{"stage"}),
		LLMTokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cohacker_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed by stage.",
		}, []string{"stage"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cohacker_requests_total",
			Help: "Total triage requests by admission result.",
		}, []string{"result"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cohacker_batch_size",
			Help:    "Requests per batch submission.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cohacker_notifications_total",
			Help: "Total vulnerability notifications by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunStageCalls,
		m.StageCallsTotal,
		m.StageDuration,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.RequestsTotal,
		m.BatchSize,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnStageCall: func(stage StageID, duration float64, kind ErrorKind) {
			outcome := "ok"
			if kind != "" {
				outcome = string(kind)
			}
			m.StageCallsTotal.WithLabelValues(string(stage), outcome).Inc()
			m.StageDuration.WithLabelValues(string(stage)).Observe(duration)
		},
		OnComplete: func(e *CompleteEvent) {
			m.RunsTotal.WithLabelValues(string(e.Status), string(e.Terminal), string(e.ErrorKind)).Inc()
			m.RunDuration.WithLabelValues(string(e.Status)).Observe(e.Duration)
			m.RunStageCalls.Observe(float64(e.StageCalls))
		},
	}
}

// ObserveTokens records LLM token usage for a stage call.
func (m *Metrics) ObserveTokens(stage StageID, in, out int) {
	m.LLMTokensIn.WithLabelValues(string(stage)).Add(float64(in))
	m.LLMTokensOut.WithLabelValues(string(stage)).Add(float64(out))
}
