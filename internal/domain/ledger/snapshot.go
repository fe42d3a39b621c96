package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/amount"
)

// Snapshot is the raw state of one loan as polled from the ledger.
type Snapshot struct {
	LoanID          loan.ID
	Borrower        common.Address
	Lender          common.Address
	Principal       amount.Amount
	Interest        amount.Amount
	DurationSeconds uint64
	Funded          bool
	Repaid          bool
	RequestedAt     time.Time
	FundedAt        time.Time
	RepaidAt        time.Time
}

// DecodeSnapshot is the single boundary where raw ledger fields become a
// Record. It fails closed: anything inconsistent is ErrInvalidLoanTerms, and
// the caller must leave local state untouched. Missing timestamps default to
// observedAt.
func DecodeSnapshot(s Snapshot, observedAt time.Time) (loan.Record, error) {
	if s.Borrower == (common.Address{}) {
		return loan.Record{}, fmt.Errorf("%w: loan %s has no borrower", loan.ErrNotFound, s.LoanID)
	}
	r := loan.Record{
		ID:              s.LoanID,
		Borrower:        s.Borrower,
		Principal:       s.Principal,
		Interest:        s.Interest,
		DurationSeconds: s.DurationSeconds,
		State:           loan.StateRequested,
		RequestedAt:     orDefault(s.RequestedAt, observedAt),
	}
	if s.Repaid && !s.Funded {
		return loan.Record{}, fmt.Errorf("%w: loan %s repaid but not funded", loan.ErrInvalidLoanTerms, s.LoanID)
	}
	if s.Funded {
		r.State = loan.StateFunded
		r.Lender = s.Lender
		r.FundedAt = orDefault(s.FundedAt, observedAt)
	}
	if s.Repaid {
		r.State = loan.StateRepaid
		r.RepaidAt = orDefault(s.RepaidAt, observedAt)
	}
	if err := loan.CheckInvariants(r); err != nil {
		return loan.Record{}, fmt.Errorf("loan %s: %w", s.LoanID, err)
	}
	return r, nil
}

// EventsFor lists the events that would move a loan from `from` to the
// snapshot's state, synthesized from the snapshot fields.
func EventsFor(r loan.Record, from loan.State) []Event {
	var out []Event
	for _, k := range loan.Path(from, r.State) {
		ev := Event{LoanID: r.ID, Kind: k, Borrower: r.Borrower}
		switch k {
		case loan.KindFunded:
			ev.Lender, ev.Amount, ev.At = r.Lender, r.Principal, r.FundedAt
		case loan.KindRepaid:
			ev.Lender, ev.Amount, ev.At = r.Lender, r.AmountDue(), r.RepaidAt
		}
		out = append(out, ev)
	}
	return out
}

func orDefault(t, d time.Time) time.Time {
	if t.IsZero() {
		return d
	}
	return t
}
