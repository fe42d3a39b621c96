package memledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-ledger/internal/adapter/repository/memory"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/usecase/reconcile"
	"lending-ledger/pkg/amount"
)

type harness struct {
	ledger *Ledger
	store  *memory.LoanStore
	rep    *memory.ReputationLedger
	engine *reconcile.Engine
}

func startEngine(t *testing.T) *harness {
	t.Helper()
	h := &harness{ledger: New(), store: memory.NewLoanStore(), rep: memory.NewReputationLedger()}
	cfg := reconcile.DefaultConfig()
	cfg.PollInterval = time.Hour
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.PendingBackoff = 10 * time.Millisecond
	cfg.RefreshOnBuffer = false
	h.engine = reconcile.New(cfg, reconcile.Deps{
		Client:     h.ledger,
		Store:      h.store,
		Reputation: h.rep,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// the initial poll has to land before the test starts submitting
	require.Eventually(t, func() bool {
		_, err := h.engine.Inspect(context.Background())
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	return h
}

func (h *harness) waitState(t *testing.T, id loan.ID, want loan.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, err := h.store.Get(id)
		return err == nil && r.State == want
	}, 2*time.Second, 5*time.Millisecond, "loan %s never reached %s", id, want)
}

func (h *harness) lifecycle(t *testing.T) loan.ID {
	t.Helper()
	ctx := context.Background()
	id, err := h.ledger.SubmitRequest(ctx, alice, amount.MustEther("1"), amount.MustEther("0.05"), 3600)
	require.NoError(t, err)
	require.NoError(t, h.ledger.SubmitFunding(ctx, bob, id, amount.MustEther("1")))
	require.NoError(t, h.ledger.SubmitRepayment(ctx, alice, id, amount.MustEther("1.05")))
	return id
}

func TestEndToEnd_CleanFeed(t *testing.T) {
	h := startEngine(t)
	id := h.lifecycle(t)
	h.waitState(t, id, loan.StateRepaid)
	assert.Equal(t, uint64(1), h.rep.Score(alice))

	check, err := h.engine.CheckReputation(context.Background(), alice)
	require.NoError(t, err)
	assert.False(t, check.Drift)
}

func TestEndToEnd_DuplicatedFeed(t *testing.T) {
	h := startEngine(t)
	h.ledger.SetFaults(Faults{Duplicate: true})
	id := h.lifecycle(t)
	h.waitState(t, id, loan.StateRepaid)

	// let the duplicates drain, then the credit must still be single
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(1), h.rep.Score(alice))
}

func TestEndToEnd_ReorderedFeed(t *testing.T) {
	h := startEngine(t)
	h.ledger.SetFaults(Faults{Reorder: true})
	id := h.lifecycle(t)
	h.ledger.Flush()
	h.waitState(t, id, loan.StateRepaid)
	assert.Equal(t, uint64(1), h.rep.Score(alice))
}

func TestEndToEnd_LostEventsHealedByPoll(t *testing.T) {
	h := startEngine(t)
	ctx := context.Background()
	id, err := h.ledger.SubmitRequest(ctx, alice, amount.MustEther("2"), amount.Zero(), 60)
	require.NoError(t, err)
	h.waitState(t, id, loan.StateRequested)

	h.ledger.SetFaults(Faults{Drop: true})
	require.NoError(t, h.ledger.SubmitFunding(ctx, bob, id, amount.MustEther("2")))
	require.NoError(t, h.ledger.SubmitRepayment(ctx, alice, id, amount.MustEther("2")))

	rep, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Corrected)

	r, err := h.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, loan.StateRepaid, r.State)
	assert.Equal(t, bob, r.Lender)
	assert.Equal(t, uint64(1), h.rep.Score(alice))

	var drift bool
	for _, d := range h.engine.RecentDiagnostics(0) {
		if d.Kind == reconcile.DiagDriftCorrected && d.LoanID == id {
			drift = true
		}
	}
	assert.True(t, drift)
}
