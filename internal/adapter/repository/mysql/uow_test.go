package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	loanDomain "lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/reputation"
	"lending-ledger/internal/domain/uow"
)

func TestGormUoW_WithinTx_Commit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	guow := NewGormUoW(db)
	loanRepo := NewLoanRepository(db)
	creditRepo := NewCreditRepository(db)

	err := guow.WithinTx(ctx, func(r uow.Repos) error {
		l := makeLoan(21)
		l.State, l.Lender = loanDomain.StateRepaid, lender
		l.FundedAt, l.RepaidAt = time.Now(), time.Now()
		if err := r.Loans.Upsert(ctx, l); err != nil {
			return err
		}
		return r.Credits.Create(ctx, &reputation.Credit{LoanID: l.ID, Borrower: l.Borrower, CreditedAt: l.RepaidAt})
	})
	if err != nil {
		t.Fatalf("WithinTx commit err: %v", err)
	}

	if _, err := loanRepo.GetByLoanID(ctx, 21); err != nil {
		t.Fatalf("loan not visible after commit: %v", err)
	}
	if _, err := creditRepo.GetByLoanID(ctx, 21); err != nil {
		t.Fatalf("credit not visible after commit: %v", err)
	}
}

func TestGormUoW_WithinTx_Rollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	guow := NewGormUoW(db)
	sentinel := errors.New("boom")

	_ = guow.WithinTx(ctx, func(r uow.Repos) error {
		if err := r.Loans.Upsert(ctx, makeLoan(22)); err != nil {
			return err
		}
		if err := r.Credits.Create(ctx, &reputation.Credit{LoanID: 22, Borrower: borrower, CreditedAt: time.Now()}); err != nil {
			return err
		}
		return sentinel // force rollback
	})

	if _, err := NewLoanRepository(db).GetByLoanID(ctx, 22); !errors.Is(err, loanDomain.ErrNotFound) {
		t.Fatalf("expected loan not found after rollback, got %v", err)
	}
	if _, err := NewCreditRepository(db).GetByLoanID(ctx, 22); !errors.Is(err, reputation.ErrNotFound) {
		t.Fatalf("expected credit not found after rollback, got %v", err)
	}
}

func TestGormUoW_WithinLoanTx_PassesLockedRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	guow := NewGormUoW(db)
	if err := NewLoanRepository(db).Upsert(ctx, makeLoan(23)); err != nil {
		t.Fatal(err)
	}

	err := guow.WithinLoanTx(ctx, 23, func(r uow.Repos, l *loanDomain.Record) error {
		if l == nil || l.ID != 23 {
			t.Fatalf("expected locked loan 23, got %+v", l)
		}
		l.State, l.Lender, l.FundedAt = loanDomain.StateFunded, lender, time.Now()
		return r.Loans.Upsert(ctx, l)
	})
	if err != nil {
		t.Fatalf("WithinLoanTx: %v", err)
	}
	got, _ := NewLoanRepository(db).GetByLoanID(ctx, 23)
	if got.State != loanDomain.StateFunded {
		t.Fatalf("state = %s", got.State)
	}
}

func TestGormUoW_WithinLoanTx_LoanNotJournaled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	called := false
	err := NewGormUoW(db).WithinLoanTx(ctx, 404, func(r uow.Repos, l *loanDomain.Record) error {
		called = true
		if l != nil {
			t.Fatalf("expected nil loan, got %+v", l)
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err=%v called=%t", err, called)
	}
}
