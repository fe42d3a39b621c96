package reputation

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/loan"
)

var (
	ErrNotFound      = errors.New("reputation credit not found")
	ErrAlreadyCredit = errors.New("loan already credited")
)

// Entry is a participant's repayment count. Score never decreases.
type Entry struct {
	Participant common.Address `json:"participant"`
	Score       uint64         `json:"score"`
}

// Credit records that a loan's repayment was counted toward its borrower.
// There is at most one credit per loan.
type Credit struct {
	LoanID     loan.ID
	Borrower   common.Address
	CreditedAt time.Time
}
