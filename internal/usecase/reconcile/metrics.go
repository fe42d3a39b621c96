package reconcile

import (
	"time"

	"lending-ledger/internal/domain/loan"
)

// Metrics receives reconciler measurements.
type Metrics interface {
	EventObserved(kind loan.Kind, status Status)
	Diagnostic(kind DiagnosticKind)
	DiagnosticDropped()
	PendingEvents(n int)
	Quarantined(n int)
	QueueDepth(n int)
	PollCompleted(d time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) EventObserved(loan.Kind, Status) {}
func (nopMetrics) Diagnostic(DiagnosticKind) {}
func (nopMetrics) DiagnosticDropped() {}
func (nopMetrics) PendingEvents(int) {}
func (nopMetrics) Quarantined(int) {}
func (nopMetrics) QueueDepth(int) {}
func (nopMetrics) PollCompleted(time.Duration, error) {}
