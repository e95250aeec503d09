package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	runsTotal      *prometheus.CounterVec
	fragmentsTotal *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered with reg. A nil reg leaves the
// collectors unregistered, which keeps tests independent.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantgate_backtest_runs_total",
				Help: "Backtest runs by outcome",
			},
			[]string{"outcome"},
		),
		fragmentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantgate_result_fragments_total",
				Help: "Result fragments seen by kind and handling result",
			},
			[]string{"kind", "result"},
		),
		reconnects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantgate_subscription_reconnects_total",
				Help: "Result subscription reconnect attempts",
			},
			[]string{"transport"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantgate_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantgate_operation_duration_seconds",
				Help:    "Duration of orchestration stages in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"operation"},
		),
	}
}

// RecordRun counts a finished run: success, partial, failed or errored.
func (r *Recorder) RecordRun(outcome string) {
	r.runsTotal.WithLabelValues(outcome).Inc()
}

// RecordFragment counts a fragment: accepted, duplicate, foreign or malformed.
func (r *Recorder) RecordFragment(kind, result string) {
	r.fragmentsTotal.WithLabelValues(kind, result).Inc()
}

func (r *Recorder) RecordReconnect(transport string) {
	r.reconnects.WithLabelValues(transport).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordRun(string)              {}
func (Nop) RecordFragment(string, string) {}
func (Nop) RecordReconnect(string)        {}
func (Nop) RecordError(string)            {}
func (Nop) RecordLatency(string, float64) {}
