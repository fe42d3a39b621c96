package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/reputation"
)

type Status string

const (
	StatusApplied     Status = "applied"
	StatusDuplicate   Status = "duplicate"
	StatusBuffered    Status = "buffered"
	StatusRejected    Status = "rejected"
	StatusQuarantined Status = "quarantined"
)

// Outcome is what reconciling a single event did.
type Outcome struct {
	Status Status
	Record loan.Record // loan state after the event, zero if unknown
	Err    error
}

func (e *Engine) handleEvent(ev ledger.Event) Outcome {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	var out Outcome
	if _, ok := e.quarantined[ev.LoanID]; ok {
		out = e.park(ev)
	} else {
		switch ev.Kind {
		case loan.KindRequested:
			out = e.applyRequested(ev)
		case loan.KindFunded, loan.KindRepaid:
			out = e.applyProgress(ev)
		default:
			out = e.reject(ev, fmt.Errorf("%w: unknown event kind %q", loan.ErrInvalidTransition, ev.Kind))
		}
	}
	e.metrics.EventObserved(ev.Kind, out.Status)
	return out
}

func (e *Engine) applyRequested(ev ledger.Event) Outcome {
	rec := loan.Record{
		ID:              ev.LoanID,
		Borrower:        ev.Borrower,
		Principal:       ev.Amount,
		Interest:        ev.Interest,
		DurationSeconds: ev.DurationSeconds,
		State:           loan.StateRequested,
		RequestedAt:     ev.At,
	}
	if err := loan.ValidateTerms(rec.Principal, rec.Interest, rec.DurationSeconds); err != nil {
		return e.reject(ev, err)
	}

	if cur, err := e.store.Get(ev.LoanID); err == nil {
		if sameTerms(cur, rec) {
			return Outcome{Status: StatusDuplicate, Record: cur}
		}
		err := fmt.Errorf("%w: %s requested again with different terms", loan.ErrDuplicateID, ev.LoanID)
		e.quarantine(ev.LoanID, err)
		return Outcome{Status: StatusQuarantined, Record: cur, Err: err}
	}

	if err := e.store.Insert(rec); err != nil {
		return e.reject(ev, err)
	}
	e.insertSeq[rec.ID] = e.seq.Add(1)
	e.commit(rec, nil)
	e.replayPending(rec.ID)

	cur, _ := e.store.Get(rec.ID)
	return Outcome{Status: StatusApplied, Record: cur}
}

func (e *Engine) applyProgress(ev ledger.Event) Outcome {
	cur, err := e.store.Get(ev.LoanID)
	if errors.Is(err, loan.ErrNotFound) {
		return e.buffer(ev)
	}
	if err != nil {
		return e.reject(ev, err)
	}

	next, err := loan.Transition(cur.State, ev.Kind)
	switch {
	case errors.Is(err, loan.ErrAlreadyApplied):
		return Outcome{Status: StatusDuplicate, Record: cur}
	case errors.Is(err, loan.ErrInvalidTransition):
		// kinds are known here, so this is an event ahead of its predecessor
		return e.buffer(ev)
	case err != nil:
		return e.reject(ev, err)
	}

	switch ev.Kind {
	case loan.KindFunded:
		err = loan.ValidateFunding(cur, ev.Lender, ev.Amount)
	case loan.KindRepaid:
		err = loan.ValidateRepayment(cur, ev.Amount)
	}
	if err != nil {
		return e.reject(ev, err)
	}

	rec, err := e.transition(cur, next, loan.TransitionFields{Lender: ev.Lender, At: ev.At})
	if err != nil {
		return e.reject(ev, err)
	}
	e.replayPending(rec.ID)
	if latest, err := e.store.Get(rec.ID); err == nil {
		rec = latest
	}
	return Outcome{Status: StatusApplied, Record: rec}
}

// transition commits one state step for a loan already in the store, crediting
// the borrower when it lands in repaid. The state machine makes the credit
// happen at most once per loan.
func (e *Engine) transition(cur loan.Record, next loan.State, f loan.TransitionFields) (loan.Record, error) {
	if f.At.IsZero() {
		f.At = e.now()
	}
	rec, err := e.store.ApplyTransition(cur.ID, next, f)
	if err != nil {
		return cur, err
	}
	var credit *reputation.Credit
	if rec.State == loan.StateRepaid {
		score := e.rep.RecordRepayment(rec.Borrower)
		credit = &reputation.Credit{LoanID: rec.ID, Borrower: rec.Borrower, CreditedAt: rec.RepaidAt}
		e.log.Info("reputation credited",
			slog.String("loan_id", rec.ID.String()),
			slog.String("borrower", rec.Borrower.Hex()),
			slog.Uint64("score", score))
	}
	e.commit(rec, credit)
	return rec, nil
}

// commit resolves speculative entries and writes the record through to the
// journal. A journal failure is reported but the in-memory commit stands.
func (e *Engine) commit(rec loan.Record, credit *reputation.Credit) {
	e.spec.resolve(rec, e.now())
	if e.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.JournalTimeout)
	defer cancel()
	if err := e.journal.Commit(ctx, rec, credit); err != nil {
		e.emit(Diagnostic{
			Kind:   DiagReconciliationError,
			LoanID: rec.ID,
			Err:    err,
			Detail: "journal write failed",
		})
	}
}

func (e *Engine) reject(ev ledger.Event, err error) Outcome {
	e.emit(Diagnostic{
		Kind:   DiagReconciliationError,
		LoanID: ev.LoanID,
		Event:  summarize(ev),
		Err:    err,
		Detail: "event rejected",
	})
	rec, _ := e.store.Get(ev.LoanID)
	return Outcome{Status: StatusRejected, Record: rec, Err: err}
}

func sameTerms(a, b loan.Record) bool {
	return a.Borrower == b.Borrower &&
		a.Principal.Equal(b.Principal) &&
		a.Interest.Equal(b.Interest) &&
		a.DurationSeconds == b.DurationSeconds
}
