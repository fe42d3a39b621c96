package loan

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/pkg/amount"
)

var (
	borrower = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	lender   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func requestedLoan() Record {
	return Record{
		ID:              1,
		Borrower:        borrower,
		Principal:       amount.MustEther("1.0"),
		Interest:        amount.MustEther("0.1"),
		DurationSeconds: 3600,
		State:           StateRequested,
		RequestedAt:     time.Date(2025, 9, 6, 10, 0, 0, 0, time.UTC),
	}
}

func TestValidateTerms(t *testing.T) {
	tests := []struct {
		name      string
		principal amount.Amount
		interest  amount.Amount
		duration  uint64
		wantErr   bool
	}{
		{name: "ok", principal: amount.MustEther("1.0"), interest: amount.MustEther("0.1"), duration: 3600},
		{name: "zero interest ok", principal: amount.MustEther("1.0"), interest: amount.Zero(), duration: 1},
		{name: "zero principal", principal: amount.Zero(), interest: amount.MustEther("0.1"), duration: 3600, wantErr: true},
		{name: "zero duration", principal: amount.MustEther("1.0"), interest: amount.Zero(), duration: 0, wantErr: true},
	}
	for _, tt := range tests {
		err := ValidateTerms(tt.principal, tt.interest, tt.duration)
		if tt.wantErr != (err != nil) {
			t.Fatalf("%s: err=%v", tt.name, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidLoanTerms) {
			t.Fatalf("%s: want ErrInvalidLoanTerms, got %v", tt.name, err)
		}
	}
}

func TestValidateFunding(t *testing.T) {
	r := requestedLoan()
	if err := ValidateFunding(r, lender, amount.MustEther("1.0")); err != nil {
		t.Fatalf("exact principal: %v", err)
	}
	if err := ValidateFunding(r, lender, amount.MustEther("0.9")); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("0.9: want ErrAmountMismatch, got %v", err)
	}
	oneWeiMore, _ := amount.MustEther("1.0").Add(amount.FromUint64(1))
	if err := ValidateFunding(r, lender, oneWeiMore); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("one wei over: want ErrAmountMismatch, got %v", err)
	}
	if err := ValidateFunding(r, borrower, amount.MustEther("1.0")); !errors.Is(err, ErrSelfFunding) {
		t.Fatalf("self funding: got %v", err)
	}
	if err := ValidateFunding(r, common.Address{}, amount.MustEther("1.0")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("missing lender: got %v", err)
	}
}

func TestValidateRepayment(t *testing.T) {
	r := requestedLoan()
	r.State, r.Lender = StateFunded, lender
	if err := ValidateRepayment(r, amount.MustEther("1.1")); err != nil {
		t.Fatalf("exact due: %v", err)
	}
	for _, s := range []string{"1.0", "1.09999999999999999", "1.2"} {
		if err := ValidateRepayment(r, amount.MustEther(s)); !errors.Is(err, ErrAmountMismatch) {
			t.Fatalf("%s: want ErrAmountMismatch, got %v", s, err)
		}
	}
}

func TestCheckInvariants(t *testing.T) {
	r := requestedLoan()
	if err := CheckInvariants(r); err != nil {
		t.Fatalf("requested: %v", err)
	}

	withLender := r
	withLender.Lender = lender
	if err := CheckInvariants(withLender); err == nil {
		t.Fatal("lender on requested loan must fail")
	}

	funded := r
	funded.State = StateFunded
	if err := CheckInvariants(funded); err == nil {
		t.Fatal("funded loan without lender must fail")
	}

	repaid := r
	repaid.State, repaid.Lender = StateRepaid, lender
	if err := CheckInvariants(repaid); err == nil {
		t.Fatal("repaid loan without repaid_at must fail")
	}
	repaid.RepaidAt = time.Now()
	if err := CheckInvariants(repaid); err != nil {
		t.Fatalf("repaid: %v", err)
	}
}

func TestRecordHelpers(t *testing.T) {
	r := requestedLoan()
	if !r.AmountDue().Equal(amount.MustEther("1.1")) {
		t.Fatalf("AmountDue = %s", r.AmountDue().Ether())
	}
	if !r.DueAt().IsZero() {
		t.Fatal("unfunded loan has no due date")
	}
	r.FundedAt = r.RequestedAt
	if got := r.DueAt().Sub(r.FundedAt); got != time.Hour {
		t.Fatalf("term = %s", got)
	}
	if !r.Involves(borrower) || r.Involves(lender) {
		t.Fatal("Involves before funding")
	}
}

func TestParseID(t *testing.T) {
	if id, err := ParseID("42"); err != nil || id != 42 {
		t.Fatalf("ParseID(42) = %d, %v", id, err)
	}
	for _, in := range []string{"", "abc", "-1", "18446744073709551616"} {
		_, err := ParseID(in)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("%q: want ErrNotFound, got %v", in, err)
		}
		// the parse cause survives the wrapping
		if !errors.Is(err, strconv.ErrSyntax) && !errors.Is(err, strconv.ErrRange) {
			t.Fatalf("%q: parse cause lost: %v", in, err)
		}
		if !strings.Contains(err.Error(), strconv.Quote(in)) {
			t.Fatalf("%q: input missing from %v", in, err)
		}
	}
}
