package loan

import "errors"

var (
	ErrInvalidLoanTerms  = errors.New("invalid loan terms")
	ErrAmountMismatch    = errors.New("amount mismatch")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicateID       = errors.New("duplicate loan id")
	ErrNotFound          = errors.New("loan not found")
	ErrOrphanedEvent     = errors.New("orphaned event")

	// ErrAlreadyApplied marks a transition whose target state is already
	// reached. Callers treat it as a no-op.
	ErrAlreadyApplied = errors.New("transition already applied")
	ErrSelfFunding    = errors.New("borrower cannot fund own loan")
	ErrNotBorrower    = errors.New("only the borrower can repay")
	ErrQuarantined    = errors.New("loan quarantined")
)
