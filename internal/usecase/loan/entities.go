package loan

import (
	"time"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/usecase/reconcile"
	"lending-ledger/pkg/amount"
)

type RequestLoanInput struct {
	Principal       string `json:"principal" validate:"required,ether"`
	Interest        string `json:"interest" validate:"required,ether"`
	DurationSeconds uint64 `json:"duration_seconds" validate:"required,gt=0"`
}

type AmountInput struct {
	Amount string `json:"amount" validate:"required,ether"`
}

// AmountDTO renders wei exactly and, for display only, in ether.
type AmountDTO struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

func toAmountDTO(a amount.Amount) AmountDTO { return AmountDTO{Wei: a.String(), Ether: a.Ether()} }

type LoanDTO struct {
	LoanID          string               `json:"loan_id"`
	Borrower        string               `json:"borrower"`
	Lender          string               `json:"lender,omitempty"`
	Principal       AmountDTO            `json:"principal"`
	Interest        AmountDTO            `json:"interest"`
	AmountDue       AmountDTO            `json:"amount_due"`
	DurationSeconds uint64               `json:"duration_seconds"`
	State           string               `json:"state"`
	RequestedAt     time.Time            `json:"requested_at"`
	FundedAt        *time.Time           `json:"funded_at,omitempty"`
	RepaidAt        *time.Time           `json:"repaid_at,omitempty"`
	DueAt           *time.Time           `json:"due_at,omitempty"`
	CanFund         bool                 `json:"can_fund"`
	CanRepay        bool                 `json:"can_repay"`
	Quarantined     bool                 `json:"quarantined,omitempty"`
	PendingEvents   int                  `json:"pending_events,omitempty"`
	Pending         []reconcile.Proposal `json:"pending,omitempty"`
}

// Filter narrows ListLoans. Zero values match everything.
type Filter struct {
	Participant string
	State       loan.State
}

// ActionResult is returned by a submission: the proposal tracking it and the
// loan's confirmed view, which the submission has not changed.
type ActionResult struct {
	Proposal reconcile.Proposal `json:"proposal"`
	Loan     *LoanDTO           `json:"loan,omitempty"`
}

type ReputationDTO struct {
	Participant string  `json:"participant"`
	Score       uint64  `json:"score"`
	LedgerScore *uint64 `json:"ledger_score,omitempty"`
	Drift       bool    `json:"drift"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
