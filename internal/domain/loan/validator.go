package loan

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/pkg/amount"
)

// ValidateTerms checks principal > 0, interest >= 0 (always true for an
// Amount), duration > 0, and that principal + interest is representable.
func ValidateTerms(principal, interest amount.Amount, durationSeconds uint64) error {
	if principal.IsZero() {
		return fmt.Errorf("%w: principal must be positive", ErrInvalidLoanTerms)
	}
	if durationSeconds == 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidLoanTerms)
	}
	if _, err := principal.Add(interest); err != nil {
		return fmt.Errorf("%w: principal + interest overflows", ErrInvalidLoanTerms)
	}
	return nil
}

// ValidateFunding requires the funded amount to equal the principal exactly
// and the lender to be a real party other than the borrower.
func ValidateFunding(r Record, lender common.Address, funded amount.Amount) error {
	if !funded.Equal(r.Principal) {
		return fmt.Errorf("%w: funding %s wei, principal %s wei", ErrAmountMismatch, funded, r.Principal)
	}
	if lender == (common.Address{}) {
		return fmt.Errorf("%w: lender missing", ErrInvalidTransition)
	}
	if lender == r.Borrower {
		return ErrSelfFunding
	}
	return nil
}

// ValidateRepayment requires the repaid amount to equal principal + interest.
// Partial or excess payments are rejected, never rounded.
func ValidateRepayment(r Record, repaid amount.Amount) error {
	due, err := r.Principal.Add(r.Interest)
	if err != nil {
		return fmt.Errorf("%w: principal + interest overflows", ErrInvalidLoanTerms)
	}
	if !repaid.Equal(due) {
		return fmt.Errorf("%w: repayment %s wei, due %s wei", ErrAmountMismatch, repaid, due)
	}
	return nil
}

// CheckInvariants verifies a record is internally consistent. It is the last
// gate before a record enters the store.
func CheckInvariants(r Record) error {
	if err := ValidateTerms(r.Principal, r.Interest, r.DurationSeconds); err != nil {
		return err
	}
	if r.Borrower == (common.Address{}) {
		return fmt.Errorf("%w: borrower missing", ErrInvalidLoanTerms)
	}
	if !r.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidLoanTerms, r.State)
	}
	funded := r.State == StateFunded || r.State == StateRepaid
	if funded != r.HasLender() {
		return fmt.Errorf("%w: lender set=%t in state %s", ErrInvalidLoanTerms, r.HasLender(), r.State)
	}
	if funded && r.Lender == r.Borrower {
		return ErrSelfFunding
	}
	if (r.State == StateRepaid) != !r.RepaidAt.IsZero() {
		return fmt.Errorf("%w: repaid_at set=%t in state %s", ErrInvalidLoanTerms, !r.RepaidAt.IsZero(), r.State)
	}
	return nil
}
