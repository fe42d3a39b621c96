package creditmock

import (
	"context"
	"errors"
	"testing"

	"lending-ledger/internal/domain/loan"
	domain "lending-ledger/internal/domain/reputation"
)

func TestRepo_Create(t *testing.T) {
	ctx := context.Background()
	c := &domain.Credit{LoanID: 3}

	wantErr := domain.ErrAlreadyCredit
	m := &Repo{CreateFn: func(_ context.Context, got *domain.Credit) error {
		if got != c {
			t.Fatalf("arg mismatch")
		}
		return wantErr
	}}
	if err := m.Create(ctx, c); !errors.Is(err, wantErr) {
		t.Fatalf("Create: want %v, got %v", wantErr, err)
	}
	if err := (&Repo{}).Create(ctx, c); err != nil {
		t.Fatalf("Create default: want nil, got %v", err)
	}
}

func TestRepo_GetByLoanIDAndScores(t *testing.T) {
	ctx := context.Background()
	m := &Repo{
		GetByLoanIDFn: func(_ context.Context, id loan.ID) (*domain.Credit, error) {
			return &domain.Credit{LoanID: id}, nil
		},
		ScoresFn: func(context.Context) ([]domain.Entry, error) {
			return []domain.Entry{{Score: 2}}, nil
		},
	}
	c, err := m.GetByLoanID(ctx, 9)
	if err != nil || c.LoanID != 9 {
		t.Fatalf("GetByLoanID: %+v, %v", c, err)
	}
	s, err := m.Scores(ctx)
	if err != nil || len(s) != 1 || s[0].Score != 2 {
		t.Fatalf("Scores: %+v, %v", s, err)
	}

	if _, err := (&Repo{}).GetByLoanID(ctx, 1); err != context.Canceled {
		t.Fatalf("GetByLoanID default: got %v", err)
	}
}
