package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/usecase/reconcile"
)

var _ reconcile.Metrics = (*ReconcilerMetrics)(nil)

type ReconcilerMetrics struct {
	events       *prometheus.CounterVec
	diagnostics  *prometheus.CounterVec
	dropped      prometheus.Counter
	pending      prometheus.Gauge
	quarantined  prometheus.Gauge
	queueDepth   prometheus.Gauge
	pollDuration prometheus.Histogram
	pollFailures prometheus.Counter
}

var (
	reconcilerOnce     sync.Once
	reconcilerRegistry *ReconcilerMetrics
)

// Reconciler returns the process-wide metrics registered on the default registry.
func Reconciler() *ReconcilerMetrics {
	reconcilerOnce.Do(func() {
		reconcilerRegistry = NewReconciler(prometheus.DefaultRegisterer)
	})
	return reconcilerRegistry
}

func NewReconciler(reg prometheus.Registerer) *ReconcilerMetrics {
	m := &ReconcilerMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_total",
			Help: "Ledger events reconciled, by kind and outcome.",
		}, []string{"kind", "status"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_diagnostics_total",
			Help: "Reconciliation diagnostics emitted, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_diagnostics_dropped_total",
			Help: "Diagnostics not delivered because the stream was full.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_pending_events",
			Help: "Events waiting for a prerequisite to be confirmed.",
		}),
		quarantined: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_quarantined_loans",
			Help: "Loans excluded from event application pending correction.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_reconcile_queue_depth",
			Help: "Operations waiting on the reconciliation queue.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_poll_duration_seconds",
			Help:    "Wall time of full ledger polls.",
			Buckets: prometheus.DefBuckets,
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_poll_failures_total",
			Help: "Full ledger polls that failed before applying.",
		}),
	}
	reg.MustRegister(m.events, m.diagnostics, m.dropped, m.pending, m.quarantined, m.queueDepth, m.pollDuration, m.pollFailures)
	return m
}

func (m *ReconcilerMetrics) EventObserved(kind loan.Kind, status reconcile.Status) {
	if m == nil {
		return
	}
	k := string(kind)
	if k == "" {
		k = "unknown"
	}
	m.events.WithLabelValues(k, string(status)).Inc()
}

func (m *ReconcilerMetrics) Diagnostic(kind reconcile.DiagnosticKind) {
	if m == nil {
		return
	}
	m.diagnostics.WithLabelValues(string(kind)).Inc()
}

func (m *ReconcilerMetrics) DiagnosticDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *ReconcilerMetrics) PendingEvents(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *ReconcilerMetrics) Quarantined(n int) {
	if m == nil {
		return
	}
	m.quarantined.Set(float64(n))
}

func (m *ReconcilerMetrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *ReconcilerMetrics) PollCompleted(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.pollFailures.Inc()
		return
	}
	m.pollDuration.Observe(d.Seconds())
}
