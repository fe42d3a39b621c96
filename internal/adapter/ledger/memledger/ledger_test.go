package memledger

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/amount"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	t0    = time.Date(2025, 9, 6, 10, 0, 0, 0, time.UTC)
)

func newLedger() *Ledger {
	l := New()
	l.SetNowFunc(func() time.Time { return t0 })
	return l
}

func next(t *testing.T, sub ledger.Subscription) ledger.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return ledger.Event{}
}

func TestLedger_ContractRules(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	one, tenth := amount.MustEther("1"), amount.MustEther("0.1")

	_, err := l.SubmitRequest(ctx, alice, amount.Zero(), tenth, 60)
	assert.ErrorIs(t, err, ledger.ErrRejected)
	assert.ErrorIs(t, err, loan.ErrInvalidLoanTerms)

	id, err := l.SubmitRequest(ctx, alice, one, tenth, 60)
	require.NoError(t, err)
	assert.Equal(t, loan.ID(1), id)

	assert.ErrorIs(t, l.SubmitFunding(ctx, alice, id, one), loan.ErrSelfFunding)
	assert.ErrorIs(t, l.SubmitFunding(ctx, bob, id, tenth), loan.ErrAmountMismatch)
	assert.ErrorIs(t, l.SubmitFunding(ctx, bob, 99, one), loan.ErrNotFound)
	assert.ErrorIs(t, l.SubmitRepayment(ctx, alice, id, one), loan.ErrInvalidTransition)
	require.NoError(t, l.SubmitFunding(ctx, bob, id, one))
	assert.ErrorIs(t, l.SubmitFunding(ctx, bob, id, one), loan.ErrInvalidTransition)

	due := amount.MustEther("1.1")
	assert.ErrorIs(t, l.SubmitRepayment(ctx, bob, id, due), loan.ErrNotBorrower)
	assert.ErrorIs(t, l.SubmitRepayment(ctx, alice, id, one), loan.ErrAmountMismatch)
	require.NoError(t, l.SubmitRepayment(ctx, alice, id, due))

	snap, err := l.PollLoan(ctx, id)
	require.NoError(t, err)
	assert.True(t, snap.Funded)
	assert.True(t, snap.Repaid)
	assert.Equal(t, bob, snap.Lender)

	score, err := l.GetReputation(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), score)

	missing, err := l.PollLoan(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, missing.Borrower)

	ids, err := l.PollAllLoanIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []loan.ID{1}, ids)
}

func TestLedger_SubscriptionFiltersAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := newLedger()
	sub, err := l.Subscribe(ctx, loan.KindFunded)
	require.NoError(t, err)

	id, err := l.SubmitRequest(ctx, alice, amount.MustEther("1"), amount.Zero(), 60)
	require.NoError(t, err)
	require.NoError(t, l.SubmitFunding(ctx, bob, id, amount.MustEther("1")))

	ev := next(t, sub)
	assert.Equal(t, loan.KindFunded, ev.Kind)
	assert.Equal(t, bob, ev.Lender)
	assert.NotEmpty(t, ev.Key)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-sub.Events()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLedger_Faults(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	sub, err := l.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	l.SetFaults(Faults{Duplicate: true})
	id, err := l.SubmitRequest(ctx, alice, amount.MustEther("1"), amount.Zero(), 60)
	require.NoError(t, err)
	a, b := next(t, sub), next(t, sub)
	assert.Equal(t, a, b)

	l.SetFaults(Faults{Reorder: true})
	require.NoError(t, l.SubmitFunding(ctx, bob, id, amount.MustEther("1")))
	id2, err := l.SubmitRequest(ctx, bob, amount.MustEther("2"), amount.Zero(), 60)
	require.NoError(t, err)
	assert.Equal(t, id2, next(t, sub).LoanID)
	assert.Equal(t, loan.KindFunded, next(t, sub).Kind)

	l.SetFaults(Faults{Drop: true})
	require.NoError(t, l.SubmitRepayment(ctx, alice, id, amount.MustEther("1")))
	select {
	case ev := <-sub.Events():
		t.Fatalf("dropped event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	snap, _ := l.PollLoan(ctx, id)
	assert.True(t, snap.Repaid, "polls still see the true state")
}

func TestLedger_Corrupt(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	id, err := l.SubmitRequest(ctx, alice, amount.MustEther("1"), amount.Zero(), 60)
	require.NoError(t, err)

	l.Corrupt(id, func(s *ledger.Snapshot) { s.Repaid = true })
	snap, _ := l.PollLoan(ctx, id)
	_, err = ledger.DecodeSnapshot(snap, t0)
	assert.ErrorIs(t, err, loan.ErrInvalidLoanTerms)
}
