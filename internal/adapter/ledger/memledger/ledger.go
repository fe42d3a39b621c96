// Package memledger is an in-process ledger that enforces the same rules as
// the lending contract. It backs local runs and end-to-end tests, and can be
// told to misbehave the way a real event feed does.
package memledger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/amount"
)

var _ ledger.Client = (*Ledger)(nil)

// Faults perturbs event delivery. Polls always see the true state.
type Faults struct {
	// Duplicate delivers every event twice.
	Duplicate bool
	// Reorder holds each event back until the next one has been delivered.
	Reorder bool
	// Drop loses events entirely.
	Drop bool
	// Delay postpones every delivery.
	Delay time.Duration
}

type Ledger struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID loan.ID
	loans  map[loan.ID]*ledger.Snapshot
	rep    map[common.Address]uint64
	seq    uint64
	faults Faults
	held   []ledger.Event
	subs   map[*subscription]struct{}
}

func New() *Ledger {
	return &Ledger{
		now:    func() time.Time { return time.Now().UTC() },
		nextID: 1,
		loans:  make(map[loan.ID]*ledger.Snapshot),
		rep:    make(map[common.Address]uint64),
		subs:   make(map[*subscription]struct{}),
	}
}

func (l *Ledger) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Ledger) SetFaults(f Faults) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = f
}

// Flush delivers any event held back by Faults.Reorder.
func (l *Ledger) Flush() {
	l.mu.Lock()
	held := l.held
	l.held = nil
	l.mu.Unlock()
	for _, ev := range held {
		l.deliver(ev)
	}
}

func rejected(err error) error { return fmt.Errorf("%w: %w", ledger.ErrRejected, err) }

func (l *Ledger) SubmitRequest(ctx context.Context, from common.Address, principal, interest amount.Amount, durationSeconds uint64) (loan.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if from == (common.Address{}) {
		return 0, rejected(fmt.Errorf("%w: borrower missing", loan.ErrInvalidLoanTerms))
	}
	if err := loan.ValidateTerms(principal, interest, durationSeconds); err != nil {
		return 0, rejected(err)
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	now := l.now()
	l.loans[id] = &ledger.Snapshot{
		LoanID:          id,
		Borrower:        from,
		Principal:       principal,
		Interest:        interest,
		DurationSeconds: durationSeconds,
		RequestedAt:     now,
	}
	ev := l.event(ledger.Event{
		LoanID:          id,
		Kind:            loan.KindRequested,
		Borrower:        from,
		Amount:          principal,
		Interest:        interest,
		DurationSeconds: durationSeconds,
		At:              now,
	})
	l.mu.Unlock()
	l.publish(ev)
	return id, nil
}

func (l *Ledger) SubmitFunding(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	s, ok := l.loans[id]
	var err error
	switch {
	case !ok:
		err = loan.ErrNotFound
	case s.Funded:
		err = fmt.Errorf("%w: already funded", loan.ErrInvalidTransition)
	case from == s.Borrower:
		err = loan.ErrSelfFunding
	case from == (common.Address{}):
		err = fmt.Errorf("%w: lender missing", loan.ErrInvalidTransition)
	case !amt.Equal(s.Principal):
		err = fmt.Errorf("%w: funding %s wei, principal %s wei", loan.ErrAmountMismatch, amt, s.Principal)
	}
	if err != nil {
		l.mu.Unlock()
		return rejected(err)
	}
	now := l.now()
	s.Funded, s.Lender, s.FundedAt = true, from, now
	ev := l.event(ledger.Event{LoanID: id, Kind: loan.KindFunded, Borrower: s.Borrower, Lender: from, Amount: amt, At: now})
	l.mu.Unlock()
	l.publish(ev)
	return nil
}

func (l *Ledger) SubmitRepayment(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	s, ok := l.loans[id]
	var err error
	switch {
	case !ok:
		err = loan.ErrNotFound
	case !s.Funded || s.Repaid:
		err = fmt.Errorf("%w: loan not awaiting repayment", loan.ErrInvalidTransition)
	case from != s.Borrower:
		err = loan.ErrNotBorrower
	}
	if err == nil {
		due, aerr := s.Principal.Add(s.Interest)
		if aerr != nil || !amt.Equal(due) {
			err = fmt.Errorf("%w: repayment %s wei, due %s wei", loan.ErrAmountMismatch, amt, due)
		}
	}
	if err != nil {
		l.mu.Unlock()
		return rejected(err)
	}
	now := l.now()
	s.Repaid, s.RepaidAt = true, now
	l.rep[s.Borrower]++
	ev := l.event(ledger.Event{LoanID: id, Kind: loan.KindRepaid, Borrower: s.Borrower, Lender: s.Lender, Amount: amt, At: now})
	l.mu.Unlock()
	l.publish(ev)
	return nil
}

func (l *Ledger) PollAllLoanIDs(ctx context.Context) ([]loan.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]loan.ID, 0, len(l.loans))
	for id := range l.loans {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// PollLoan returns a zero snapshot for unknown ids, as a contract mapping would.
func (l *Ledger) PollLoan(ctx context.Context, id loan.ID) (ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Snapshot{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.loans[id]; ok {
		return *s, nil
	}
	return ledger.Snapshot{LoanID: id}, nil
}

func (l *Ledger) GetReputation(ctx context.Context, p common.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rep[p], nil
}

// Corrupt replaces the stored snapshot of a loan, bypassing the contract rules.
// Tests use it to simulate a ledger whose state disagrees with its events.
func (l *Ledger) Corrupt(id loan.ID, fn func(*ledger.Snapshot)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.loans[id]; ok {
		fn(s)
	}
}

// event stamps a delivery key. Caller holds mu.
func (l *Ledger) event(ev ledger.Event) ledger.Event {
	l.seq++
	ev.Key = fmt.Sprintf("mem:%d", l.seq)
	return ev
}

func (l *Ledger) publish(ev ledger.Event) {
	l.mu.Lock()
	f := l.faults
	var out []ledger.Event
	switch {
	case f.Drop:
	case f.Reorder && len(l.held) == 0:
		l.held = append(l.held, ev)
	case f.Reorder:
		out = append(out, ev)
		out = append(out, l.held...)
		l.held = nil
	default:
		out = append(out, ev)
	}
	l.mu.Unlock()

	for _, ev := range out {
		send := func() {
			l.deliver(ev)
			if f.Duplicate {
				l.deliver(ev)
			}
		}
		if f.Delay > 0 {
			time.AfterFunc(f.Delay, send)
			continue
		}
		send()
	}
}

func (l *Ledger) deliver(ev ledger.Event) {
	l.mu.Lock()
	subs := make([]*subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()
	for _, s := range subs {
		s.push(ev)
	}
}

func (l *Ledger) Subscribe(ctx context.Context, kinds ...loan.Kind) (ledger.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := newSubscription(kinds)
	l.mu.Lock()
	l.subs[s] = struct{}{}
	l.mu.Unlock()
	go func() {
		s.run(ctx)
		l.mu.Lock()
		delete(l.subs, s)
		l.mu.Unlock()
	}()
	return s, nil
}
