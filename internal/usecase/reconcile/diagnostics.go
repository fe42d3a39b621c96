package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/id"
)

type DiagnosticKind string

const (
	DiagReconciliationError DiagnosticKind = "reconciliation_error"
	DiagDriftCorrected      DiagnosticKind = "drift_corrected"
	DiagOrphanedEvent       DiagnosticKind = "orphaned_event"
	DiagQuarantined         DiagnosticKind = "quarantined"
	DiagReputationDrift     DiagnosticKind = "reputation_drift"
)

// EventSummary is the part of a ledger event worth keeping in a diagnostic.
type EventSummary struct {
	Kind   loan.Kind `json:"kind"`
	Amount string    `json:"amount"`
	Key    string    `json:"key,omitempty"`
}

func summarize(ev ledger.Event) *EventSummary {
	return &EventSummary{Kind: ev.Kind, Amount: ev.Amount.String(), Key: ev.Key}
}

// Diagnostic is a machine-readable record of something the reconciler could
// not apply cleanly, or had to correct.
type Diagnostic struct {
	ID     string         `json:"id"`
	Kind   DiagnosticKind `json:"kind"`
	LoanID loan.ID        `json:"loan_id,omitempty"`
	Event  *EventSummary  `json:"event,omitempty"`
	Err    error          `json:"-"`
	Error  string         `json:"error,omitempty"`
	Detail string         `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

type diagnostics struct {
	stream chan Diagnostic

	mu   sync.Mutex
	ring []Diagnostic
	next int
	full bool
}

func newDiagnostics(buffer, keep int) *diagnostics {
	if buffer <= 0 {
		buffer = 1
	}
	if keep <= 0 {
		keep = 1
	}
	return &diagnostics{stream: make(chan Diagnostic, buffer), ring: make([]Diagnostic, keep)}
}

func (d *diagnostics) add(x Diagnostic) {
	d.mu.Lock()
	d.ring[d.next] = x
	d.next = (d.next + 1) % len(d.ring)
	if d.next == 0 {
		d.full = true
	}
	d.mu.Unlock()
}

// recent returns up to limit diagnostics, newest first. limit <= 0 means all kept.
func (d *diagnostics) recent(limit int) []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.next
	if d.full {
		n = len(d.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Diagnostic, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (d.next - i + len(d.ring)) % len(d.ring)
		out = append(out, d.ring[idx])
	}
	return out
}

// emit records a diagnostic everywhere it is observable. It never blocks.
func (e *Engine) emit(d Diagnostic) {
	d.ID = id.New(id.PrefixDiagnostic)
	if d.At.IsZero() {
		d.At = e.now()
	}
	if d.Err != nil {
		d.Error = d.Err.Error()
	}

	attrs := []any{
		slog.String("diagnostic", string(d.Kind)),
		slog.String("loan_id", d.LoanID.String()),
		slog.String("detail", d.Detail),
	}
	if d.Err != nil {
		attrs = append(attrs, slog.Any("error", d.Err))
	}
	if d.Event != nil {
		attrs = append(attrs, slog.String("event_kind", string(d.Event.Kind)), slog.String("event_key", d.Event.Key))
	}
	switch d.Kind {
	case DiagDriftCorrected:
		e.log.Info("reconciliation diagnostic", attrs...)
	default:
		e.log.Warn("reconciliation diagnostic", attrs...)
	}

	e.metrics.Diagnostic(d.Kind)
	e.diags.add(d)
	select {
	case e.diags.stream <- d:
	default:
		e.metrics.DiagnosticDropped()
	}
}
