package ledgermock

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/amount"
)

var _ ledger.Client = (*Client)(nil)

// Client is a function-backed mock that satisfies ledger.Client. Unset polls
// report ledger.ErrUnavailable; an unset Subscribe hands out Sub.
type Client struct {
	SubmitRequestFn   func(ctx context.Context, from common.Address, principal, interest amount.Amount, durationSeconds uint64) (loan.ID, error)
	SubmitFundingFn   func(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error
	SubmitRepaymentFn func(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error
	PollAllLoanIDsFn  func(ctx context.Context) ([]loan.ID, error)
	PollLoanFn        func(ctx context.Context, id loan.ID) (ledger.Snapshot, error)
	SubscribeFn       func(ctx context.Context, kinds ...loan.Kind) (ledger.Subscription, error)
	GetReputationFn   func(ctx context.Context, p common.Address) (uint64, error)

	Sub *Subscription
}

func New() *Client { return &Client{Sub: NewSubscription(16)} }

func (m *Client) SubmitRequest(ctx context.Context, from common.Address, principal, interest amount.Amount, durationSeconds uint64) (loan.ID, error) {
	if m.SubmitRequestFn != nil {
		return m.SubmitRequestFn(ctx, from, principal, interest, durationSeconds)
	}
	return 0, ledger.ErrUnavailable
}

func (m *Client) SubmitFunding(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error {
	if m.SubmitFundingFn != nil {
		return m.SubmitFundingFn(ctx, from, id, amt)
	}
	return ledger.ErrUnavailable
}

func (m *Client) SubmitRepayment(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error {
	if m.SubmitRepaymentFn != nil {
		return m.SubmitRepaymentFn(ctx, from, id, amt)
	}
	return ledger.ErrUnavailable
}

func (m *Client) PollAllLoanIDs(ctx context.Context) ([]loan.ID, error) {
	if m.PollAllLoanIDsFn != nil {
		return m.PollAllLoanIDsFn(ctx)
	}
	return nil, ledger.ErrUnavailable
}

func (m *Client) PollLoan(ctx context.Context, id loan.ID) (ledger.Snapshot, error) {
	if m.PollLoanFn != nil {
		return m.PollLoanFn(ctx, id)
	}
	return ledger.Snapshot{}, ledger.ErrUnavailable
}

func (m *Client) Subscribe(ctx context.Context, kinds ...loan.Kind) (ledger.Subscription, error) {
	if m.SubscribeFn != nil {
		return m.SubscribeFn(ctx, kinds...)
	}
	if m.Sub == nil {
		m.Sub = NewSubscription(16)
	}
	return m.Sub, nil
}

func (m *Client) GetReputation(ctx context.Context, p common.Address) (uint64, error) {
	if m.GetReputationFn != nil {
		return m.GetReputationFn(ctx, p)
	}
	return 0, ledger.ErrUnavailable
}

// Subscription is a hand-fed ledger.Subscription. Its channels are never
// closed, so Send is safe after Unsubscribe.
type Subscription struct {
	events chan ledger.Event
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func NewSubscription(buf int) *Subscription {
	return &Subscription{
		events: make(chan ledger.Event, buf),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Send delivers ev unless the subscription was cancelled. It reports whether
// the event was delivered.
func (s *Subscription) Send(ev ledger.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Subscription) Events() <-chan ledger.Event { return s.events }
func (s *Subscription) Err() <-chan error           { return s.errs }
func (s *Subscription) Unsubscribe()                { s.once.Do(func() { close(s.done) }) }

// Done is closed once Unsubscribe has been called.
func (s *Subscription) Done() <-chan struct{} { return s.done }
