package reputation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/loan"
)

// Ledger maps participants to scores. Only the reconciler calls
// RecordRepayment; Score never fails and defaults to 0.
type Ledger interface {
	RecordRepayment(borrower common.Address) uint64
	Score(p common.Address) uint64
	// Restore seeds a score from the journal at startup.
	Restore(e Entry)
	Entries() []Entry
}

// Repository is the durable journal of reputation credits.
type Repository interface {
	// Create a credit (storage uniqueness ensures at most one per loan)
	Create(ctx context.Context, c *Credit) error
	GetByLoanID(ctx context.Context, id loan.ID) (*Credit, error)
	// Scores aggregates credits per borrower.
	Scores(ctx context.Context) ([]Entry, error)
}
