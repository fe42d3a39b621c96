package loan

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/pkg/amount"
)

// ID is assigned by the external ledger, monotonically, and never reused.
type ID uint64

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrNotFound, s, err)
	}
	return ID(n), nil
}

type State string

const (
	StateRequested State = "requested"
	StateFunded    State = "funded"
	StateRepaid    State = "repaid"
)

// rank orders states along the only legal path; unknown states rank 0.
func (s State) rank() int {
	switch s {
	case StateRequested:
		return 1
	case StateFunded:
		return 2
	case StateRepaid:
		return 3
	}
	return 0
}

func (s State) Valid() bool { return s.rank() > 0 }

// Before reports whether s precedes o on the requested -> funded -> repaid path.
func (s State) Before(o State) bool { return s.rank() < o.rank() }

// Kind is the kind of a confirmed ledger event.
type Kind string

const (
	KindRequested Kind = "requested"
	KindFunded    Kind = "funded"
	KindRepaid    Kind = "repaid"
)

// Target is the state a loan is in once an event of this kind has been applied.
func (k Kind) Target() State {
	switch k {
	case KindRequested:
		return StateRequested
	case KindFunded:
		return StateFunded
	case KindRepaid:
		return StateRepaid
	}
	return ""
}

// KindFor is the event kind that moves a loan into s.
func KindFor(s State) Kind {
	switch s {
	case StateRequested:
		return KindRequested
	case StateFunded:
		return KindFunded
	case StateRepaid:
		return KindRepaid
	}
	return ""
}

// Record is a confirmed loan. Values of Record are snapshots; mutating one does
// not affect the store it came from.
type Record struct {
	ID              ID             `json:"id"`
	Borrower        common.Address `json:"borrower"`
	Lender          common.Address `json:"lender"`
	Principal       amount.Amount  `json:"principal"`
	Interest        amount.Amount  `json:"interest"`
	DurationSeconds uint64         `json:"duration_seconds"`
	State           State          `json:"state"`
	RequestedAt     time.Time      `json:"requested_at"`
	FundedAt        time.Time      `json:"funded_at,omitempty"`
	RepaidAt        time.Time      `json:"repaid_at,omitempty"`
}

func (r Record) HasLender() bool { return r.Lender != (common.Address{}) }

// AmountDue is principal + interest. Terms were validated on insert, so the
// sum fits; a zero amount is returned on overflow and never matches a payment.
func (r Record) AmountDue() amount.Amount {
	due, err := r.Principal.Add(r.Interest)
	if err != nil {
		return amount.Zero()
	}
	return due
}

// DueAt is the end of the term window, which starts at fund time.
func (r Record) DueAt() time.Time {
	if r.FundedAt.IsZero() {
		return time.Time{}
	}
	return r.FundedAt.Add(time.Duration(r.DurationSeconds) * time.Second)
}

// Involves reports whether p is the borrower or the lender.
func (r Record) Involves(p common.Address) bool {
	return r.Borrower == p || (r.HasLender() && r.Lender == p)
}

// TransitionFields carries what a transition sets besides the state.
type TransitionFields struct {
	Lender common.Address // funded only
	At     time.Time
}
