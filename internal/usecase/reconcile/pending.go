package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
)

// maxBackoffShift caps exponential backoff at 32x the base delay.
const maxBackoffShift = 5

type pendingEvent struct {
	ev       ledger.Event
	attempts int
	since    time.Time
	next     time.Time
}

type quarantine struct {
	reason error
	since  time.Time
	seq    uint64
	parked []ledger.Event
}

// buffer holds an event whose prerequisite has not been confirmed yet.
func (e *Engine) buffer(ev ledger.Event) Outcome {
	now := e.now()
	list := e.pending[ev.LoanID]
	for _, p := range list {
		if sameEvent(p.ev, ev) {
			return Outcome{Status: StatusBuffered}
		}
	}
	e.pending[ev.LoanID] = append(list, &pendingEvent{ev: ev, since: now, next: now.Add(e.cfg.PendingBackoff)})
	e.metrics.PendingEvents(e.pendingCount())
	e.log.Debug("event buffered",
		slog.String("loan_id", ev.LoanID.String()),
		slog.String("kind", string(ev.Kind)))
	if e.cfg.RefreshOnBuffer {
		e.refresh(ev.LoanID)
	}
	rec, _ := e.store.Get(ev.LoanID)
	return Outcome{Status: StatusBuffered, Record: rec}
}

// replayPending applies buffered events for id whose prerequisite is now met,
// earliest kind first, until none is ready.
func (e *Engine) replayPending(id loan.ID) {
	for {
		p := e.takeReady(id)
		if p == nil {
			return
		}
		e.handleEvent(p.ev)
	}
}

func (e *Engine) takeReady(id loan.ID) *pendingEvent {
	list := e.pending[id]
	if len(list) == 0 {
		return nil
	}
	cur, err := e.store.Get(id)
	if err != nil {
		return nil
	}
	best := -1
	for i, p := range list {
		_, err := loan.Transition(cur.State, p.ev.Kind)
		if err != nil && !errors.Is(err, loan.ErrAlreadyApplied) {
			continue
		}
		if best < 0 || p.ev.Kind.Target().Before(list[best].ev.Kind.Target()) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return e.removePending(id, best)
}

// takePending removes and returns the first buffered event of kind k for id.
func (e *Engine) takePending(id loan.ID, k loan.Kind) *pendingEvent {
	for i, p := range e.pending[id] {
		if p.ev.Kind == k {
			return e.removePending(id, i)
		}
	}
	return nil
}

func (e *Engine) removePending(id loan.ID, i int) *pendingEvent {
	list := e.pending[id]
	p := list[i]
	list = append(list[:i:i], list[i+1:]...)
	if len(list) == 0 {
		delete(e.pending, id)
	} else {
		e.pending[id] = list
	}
	e.metrics.PendingEvents(e.pendingCount())
	return p
}

// retryDue gives every due buffered event another chance. Events that run out
// of attempts are dropped as orphans.
func (e *Engine) retryDue(now time.Time) {
	ids := make([]loan.ID, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e.replayPending(id)
		refresh := false
		for i := 0; i < len(e.pending[id]); {
			p := e.pending[id][i]
			if p.next.After(now) {
				i++
				continue
			}
			p.attempts++
			if p.attempts >= e.cfg.PendingMaxAttempts {
				e.removePending(id, i)
				e.emit(Diagnostic{
					Kind:   DiagOrphanedEvent,
					LoanID: id,
					Event:  summarize(p.ev),
					Err:    loan.ErrOrphanedEvent,
					Detail: fmt.Sprintf("prerequisite not confirmed after %d attempts since %s", p.attempts, p.since.Format(time.RFC3339)),
				})
				continue
			}
			shift := p.attempts
			if shift > maxBackoffShift {
				shift = maxBackoffShift
			}
			p.next = now.Add(e.cfg.PendingBackoff << shift)
			refresh = true
			i++
		}
		if refresh && e.cfg.RefreshOnBuffer {
			e.refresh(id)
		}
	}
}

// quarantine stops applying events to id until a poll or an operator corrects it.
func (e *Engine) quarantine(id loan.ID, reason error) {
	if _, ok := e.quarantined[id]; ok {
		return
	}
	e.quarantined[id] = quarantine{reason: reason, since: e.now(), seq: e.seq.Add(1)}
	e.metrics.Quarantined(len(e.quarantined))
	e.emit(Diagnostic{Kind: DiagQuarantined, LoanID: id, Err: reason, Detail: "loan quarantined"})
}

func (e *Engine) park(ev ledger.Event) Outcome {
	q := e.quarantined[ev.LoanID]
	if len(q.parked) < e.cfg.ParkedPerLoan {
		q.parked = append(q.parked, ev)
		e.quarantined[ev.LoanID] = q
	} else {
		e.log.Warn("parked event dropped", slog.String("loan_id", ev.LoanID.String()), slog.String("kind", string(ev.Kind)))
	}
	rec, _ := e.store.Get(ev.LoanID)
	return Outcome{Status: StatusQuarantined, Record: rec, Err: fmt.Errorf("%w: %v", loan.ErrQuarantined, q.reason)}
}

// release lifts a quarantine and replays what was parked meanwhile.
func (e *Engine) release(id loan.ID) error {
	q, ok := e.quarantined[id]
	if !ok {
		return fmt.Errorf("%w: %s is not quarantined", loan.ErrNotFound, id)
	}
	delete(e.quarantined, id)
	e.metrics.Quarantined(len(e.quarantined))
	e.log.Info("quarantine lifted", slog.String("loan_id", id.String()), slog.Int("parked", len(q.parked)))
	for _, ev := range q.parked {
		e.handleEvent(ev)
	}
	e.replayPending(id)
	return nil
}

// refresh fetches a single loan off the Run goroutine and feeds the result
// back through the queue.
func (e *Engine) refresh(id loan.ID) {
	ctx := e.runCtx
	if ctx == nil || e.client == nil {
		return
	}
	start := e.seq.Load()
	go func() {
		snap, err := e.client.PollLoan(ctx, id)
		res := []polled{{id: id, snap: snap, err: err}}
		e.enqueue(ctx, func() { e.applyPoll(res, false, start) })
	}()
}

func (e *Engine) pendingCount() int {
	n := 0
	for _, list := range e.pending {
		n += len(list)
	}
	return n
}

func sameEvent(a, b ledger.Event) bool {
	if a.Key != "" || b.Key != "" {
		return a.Key == b.Key
	}
	return a.Kind == b.Kind && a.Lender == b.Lender && a.Amount.Equal(b.Amount)
}
