// Package metrics holds the Prometheus collectors of the indexer and read API
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing
type Metrics struct {
	CheckpointsTotal    *prometheus.CounterVec
	CommitDuration      prometheus.Histogram
	EventsDecoded       *prometheus.CounterVec
	EventsDropped       *prometheus.CounterVec
	MutationsTotal      *prometheus.CounterVec
	RowsTouched         prometheus.Counter
	Watermark           prometheus.Gauge
	ReconcileRuns       *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckpointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "depatreon_checkpoints_total", Help: "Checkpoints handled by outcome"},
			[]string{"status"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "depatreon_commit_duration_seconds", Help: "Checkpoint commit latency", Buckets: prometheus.DefBuckets},
		),
		EventsDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "depatreon_events_decoded_total", Help: "Decoded domain events"},
			[]string{"kind"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "depatreon_events_dropped_total", Help: "Domain events dropped before commit"},
			[]string{"reason"},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "depatreon_mutations_total", Help: "Mutations committed"},
			[]string{"kind"},
		),
		RowsTouched: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "depatreon_rows_touched_total", Help: "Rows inserted or updated by commits"},
		),
		Watermark: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "depatreon_watermark_checkpoint", Help: "Highest committed checkpoint"},
		),
		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "depatreon_reconcile_runs_total", Help: "Count reconciliation runs"},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests"},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "Request latency", Buckets: prometheus.DefBuckets},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(
		m.CheckpointsTotal,
		m.CommitDuration,
		m.EventsDecoded,
		m.EventsDropped,
		m.MutationsTotal,
		m.RowsTouched,
		m.Watermark,
		m.ReconcileRuns,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Checkpoint records one checkpoint outcome: committed, skipped or failed
func (m *Metrics) Checkpoint(status string) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.WithLabelValues(status).Inc()
}

// Commit records a successful commit
func (m *Metrics) Commit(sequence uint64, rows int64, took time.Duration) {
	if m == nil {
		return
	}
	m.CommitDuration.Observe(took.Seconds())
	m.RowsTouched.Add(float64(rows))
	m.Watermark.Set(float64(sequence))
}

// Decoded counts decoded events of kind
func (m *Metrics) Decoded(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsDecoded.WithLabelValues(kind).Add(float64(n))
}

// Dropped counts events dropped for reason
func (m *Metrics) Dropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Add(float64(n))
}

// Mutation counts a committed mutation of kind
func (m *Metrics) Mutation(kind string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(kind).Inc()
}

// Reconcile records a count reconciliation outcome
func (m *Metrics) Reconcile(status string) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(status).Inc()
}

// Request records a served HTTP request
func (m *Metrics) Request(method, path, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(took.Seconds())
}
