package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
)

type polled struct {
	id   loan.ID
	snap ledger.Snapshot
	err  error
}

// PollReport summarizes one reconciliation pass against the ledger.
type PollReport struct {
	Checked     int `json:"checked"`
	Inserted    int `json:"inserted"`
	Corrected   int `json:"corrected"`
	Stale       int `json:"stale"`
	Quarantined int `json:"quarantined"`
	Errors      int `json:"errors"`
}

// Reconcile runs a full poll now and waits for it to be applied.
func (e *Engine) Reconcile(ctx context.Context) (PollReport, error) {
	if !e.running.Load() {
		return PollReport{}, ErrNotRunning
	}
	start := e.seq.Load()
	res, err := e.fetchAll(ctx)
	if err != nil {
		return PollReport{}, err
	}
	var report PollReport
	if err := e.do(ctx, func() { report = e.applyPoll(res, true, start) }); err != nil {
		return PollReport{}, err
	}
	return report, nil
}

// startPoll launches a background full poll unless one is in flight.
func (e *Engine) startPoll(ctx context.Context) {
	if !e.polling.CompareAndSwap(false, true) {
		return
	}
	start := e.seq.Load()
	go func() {
		defer e.polling.Store(false)
		begin := time.Now()
		res, err := e.fetchAll(ctx)
		e.metrics.PollCompleted(time.Since(begin), err)
		if err != nil {
			if ctx.Err() == nil {
				e.log.Warn("ledger poll failed", slog.Any("error", err))
			}
			return
		}
		e.enqueue(ctx, func() { e.applyPoll(res, true, start) })
	}()
}

// fetchAll reads every loan from the ledger with bounded concurrency. A
// failure to list ids fails the poll; per-loan failures are carried in the
// results so the rest of the pass still applies.
func (e *Engine) fetchAll(ctx context.Context) ([]polled, error) {
	ids, err := e.client.PollAllLoanIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll loan ids: %w", err)
	}
	out := make([]polled, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PollConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			snap, err := e.client.PollLoan(gctx, id)
			out[i] = polled{id: id, snap: snap, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// applyPoll reconciles polled snapshots against the store. startSeq is the
// engine sequence when fetching began: a full pass quarantines local loans the
// ledger no longer reports unless they were inserted after startSeq, and a
// snapshot only lifts a quarantine imposed before startSeq.
func (e *Engine) applyPoll(res []polled, full bool, startSeq uint64) PollReport {
	var report PollReport
	seen := make(map[loan.ID]struct{}, len(res))
	now := e.now()

	for _, p := range res {
		seen[p.id] = struct{}{}
		report.Checked++
		if p.err != nil {
			report.Errors++
			e.emit(Diagnostic{Kind: DiagReconciliationError, LoanID: p.id, Err: p.err, Detail: "ledger poll failed"})
			continue
		}
		ext, err := ledger.DecodeSnapshot(p.snap, now)
		if errors.Is(err, loan.ErrNotFound) {
			if _, gerr := e.store.Get(p.id); gerr == nil {
				e.quarantine(p.id, err)
				report.Quarantined++
			}
			continue
		}
		if err != nil {
			report.Errors++
			e.emit(Diagnostic{Kind: DiagReconciliationError, LoanID: p.id, Err: err, Detail: "malformed ledger snapshot"})
			continue
		}
		e.reconcileLoan(ext, startSeq, &report)
	}

	if full {
		var missing []loan.ID
		for r := range e.store.ListAll() {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			if e.insertSeq[r.ID] > startSeq {
				continue
			}
			if _, ok := e.quarantined[r.ID]; ok {
				continue
			}
			missing = append(missing, r.ID)
		}
		for _, id := range missing {
			e.quarantine(id, fmt.Errorf("%w: %s missing from ledger poll", loan.ErrNotFound, id))
			report.Quarantined++
		}
	}

	e.spec.expire(now)
	if full {
		e.log.Info("ledger poll applied",
			slog.Int("checked", report.Checked),
			slog.Int("inserted", report.Inserted),
			slog.Int("corrected", report.Corrected),
			slog.Int("quarantined", report.Quarantined),
			slog.Int("errors", report.Errors))
	}
	return report
}

// reconcileLoan brings the local copy of one loan in line with the ledger's
// snapshot. External state wins, but a loan never moves backwards.
func (e *Engine) reconcileLoan(ext loan.Record, startSeq uint64, report *PollReport) {
	cur, err := e.store.Get(ext.ID)
	if errors.Is(err, loan.ErrNotFound) {
		e.insertFromLedger(ext, report)
		return
	}
	if err != nil {
		report.Errors++
		return
	}

	q, wasQuarantined := e.quarantined[ext.ID]
	if wasQuarantined && q.seq > startSeq {
		// fetched before the quarantine; the next poll decides
		return
	}
	if ext.State.Before(cur.State) {
		report.Stale++
		e.emit(Diagnostic{
			Kind:   DiagReconciliationError,
			LoanID: ext.ID,
			Err:    loan.ErrInvalidTransition,
			Detail: fmt.Sprintf("ledger reports %s, local is %s; keeping local", ext.State, cur.State),
		})
		return
	}

	var fixes []string
	if wasQuarantined {
		// the ledger's copy is the correction
		delete(e.quarantined, ext.ID)
		e.metrics.Quarantined(len(e.quarantined))
		fixes = append(fixes, "quarantine lifted")
	}
	if synthesized := e.advance(cur, ext); len(synthesized) > 0 {
		fixes = append(fixes, "missed "+joinKinds(synthesized))
	}
	if latest, err := e.store.Get(ext.ID); err == nil {
		cur = latest
	}
	if diff := fieldDrift(cur, ext); diff != "" {
		merged := cur
		merged.Borrower, merged.Lender = ext.Borrower, ext.Lender
		merged.Principal, merged.Interest = ext.Principal, ext.Interest
		merged.DurationSeconds = ext.DurationSeconds
		if err := e.store.Overwrite(merged); err != nil {
			report.Errors++
			e.emit(Diagnostic{Kind: DiagReconciliationError, LoanID: ext.ID, Err: err, Detail: "overwrite from ledger failed"})
			return
		}
		e.commit(merged, nil)
		fixes = append(fixes, diff)
		if cur.State == loan.StateRepaid && cur.Borrower != ext.Borrower {
			// the repayment credit went to the old borrower and scores never decrease
			note := fmt.Sprintf("repayment credit stays with %s, ledger borrower is %s", cur.Borrower.Hex(), ext.Borrower.Hex())
			fixes = append(fixes, note)
			e.emit(Diagnostic{Kind: DiagReputationDrift, LoanID: ext.ID, Detail: note})
		}
	}

	if len(fixes) > 0 {
		report.Corrected++
		e.emit(Diagnostic{Kind: DiagDriftCorrected, LoanID: ext.ID, Detail: strings.Join(fixes, "; ")})
	}
	for _, ev := range q.parked {
		e.handleEvent(ev)
	}
	e.replayPending(ext.ID)
}

// insertFromLedger adopts a loan whose requested event was never seen.
func (e *Engine) insertFromLedger(ext loan.Record, report *PollReport) {
	base := ext
	base.State = loan.StateRequested
	base.Lender = common.Address{}
	base.FundedAt, base.RepaidAt = time.Time{}, time.Time{}
	if err := e.store.Insert(base); err != nil {
		report.Errors++
		e.emit(Diagnostic{Kind: DiagReconciliationError, LoanID: ext.ID, Err: err, Detail: "insert from ledger failed"})
		return
	}
	e.insertSeq[base.ID] = e.seq.Add(1)
	e.commit(base, nil)
	report.Inserted++

	fixes := []string{"missed requested"}
	if synthesized := e.advance(base, ext); len(synthesized) > 0 {
		fixes = append(fixes, "missed "+joinKinds(synthesized))
	}
	e.emit(Diagnostic{Kind: DiagDriftCorrected, LoanID: ext.ID, Detail: strings.Join(fixes, "; ")})
	e.replayPending(ext.ID)
}

// advance walks cur forward to ext.State. Each step prefers a buffered event
// of the right kind; otherwise it is synthesized from the snapshot. It returns
// the kinds that had to be synthesized.
func (e *Engine) advance(cur, ext loan.Record) []loan.Kind {
	var synthesized []loan.Kind
	for _, k := range loan.Path(cur.State, ext.State) {
		if p := e.takePending(ext.ID, k); p != nil {
			if out := e.handleEvent(p.ev); out.Status == StatusApplied {
				cur = out.Record
				continue
			}
		}
		if latest, err := e.store.Get(ext.ID); err == nil {
			cur = latest
		}
		if !cur.State.Before(k.Target()) {
			continue
		}
		f := loan.TransitionFields{Lender: ext.Lender, At: ext.FundedAt}
		if k == loan.KindRepaid {
			f.At = ext.RepaidAt
		}
		rec, err := e.transition(cur, k.Target(), f)
		if err != nil {
			e.emit(Diagnostic{Kind: DiagReconciliationError, LoanID: ext.ID, Err: err, Detail: "apply ledger state failed"})
			return synthesized
		}
		cur = rec
		synthesized = append(synthesized, k)
	}
	return synthesized
}

// fieldDrift describes economic fields that differ between local and ledger.
// Timestamps are not compared; the ledger may not report them.
func fieldDrift(local, ext loan.Record) string {
	var diffs []string
	if local.Borrower != ext.Borrower {
		diffs = append(diffs, "borrower")
	}
	if local.Lender != ext.Lender {
		diffs = append(diffs, "lender")
	}
	if !local.Principal.Equal(ext.Principal) {
		diffs = append(diffs, "principal")
	}
	if !local.Interest.Equal(ext.Interest) {
		diffs = append(diffs, "interest")
	}
	if local.DurationSeconds != ext.DurationSeconds {
		diffs = append(diffs, "duration")
	}
	if len(diffs) == 0 {
		return ""
	}
	return "fields " + strings.Join(diffs, ",")
}

func joinKinds(ks []loan.Kind) string {
	s := make([]string, len(ks))
	for i, k := range ks {
		s[i] = string(k)
	}
	return strings.Join(s, ",")
}
