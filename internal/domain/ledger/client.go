package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/amount"
)

var (
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected is a submission the ledger refused, e.g. a reverted transaction.
	ErrRejected = errors.New("ledger rejected submission")
)

// Client is the narrow capability interface to the authoritative external
// ledger. Submissions are asynchronous: their effect is only known once a
// matching Event or Snapshot is observed.
type Client interface {
	SubmitRequest(ctx context.Context, from common.Address, principal, interest amount.Amount, durationSeconds uint64) (loan.ID, error)
	SubmitFunding(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error
	SubmitRepayment(ctx context.Context, from common.Address, id loan.ID, amt amount.Amount) error

	PollAllLoanIDs(ctx context.Context) ([]loan.ID, error)
	PollLoan(ctx context.Context, id loan.ID) (Snapshot, error)

	Subscribe(ctx context.Context, kinds ...loan.Kind) (Subscription, error)

	// GetReputation is the ledger's own counter, used only to cross-check.
	GetReputation(ctx context.Context, p common.Address) (uint64, error)
}

// Event is one confirmed notification from the ledger.
//
// Amount is the principal for requested events and the value transferred for
// funded and repaid events. Interest and DurationSeconds are only meaningful on
// requested events. Key identifies the delivery (tx hash and log index on an
// EVM ledger) and is the same across redeliveries.
type Event struct {
	LoanID          loan.ID
	Kind            loan.Kind
	Borrower        common.Address
	Lender          common.Address
	Amount          amount.Amount
	Interest        amount.Amount
	DurationSeconds uint64
	At              time.Time
	Key             string
}

// Subscription streams events until Unsubscribe is called or the context
// given to Subscribe ends. A closed Events channel means the stream is over
// and the caller has to subscribe again.
type Subscription interface {
	Events() <-chan Event
	Err() <-chan error
	Unsubscribe()
}
