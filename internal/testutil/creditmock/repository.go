package creditmock

import (
	"context"

	"lending-ledger/internal/domain/loan"
	domain "lending-ledger/internal/domain/reputation"
)

var _ domain.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies reputation.Repository.
type Repo struct {
	CreateFn      func(ctx context.Context, c *domain.Credit) error
	GetByLoanIDFn func(ctx context.Context, id loan.ID) (*domain.Credit, error)
	ScoresFn      func(ctx context.Context) ([]domain.Entry, error)
}

func (m *Repo) Create(ctx context.Context, c *domain.Credit) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, c)
	}
	return nil
}

func (m *Repo) GetByLoanID(ctx context.Context, id loan.ID) (*domain.Credit, error) {
	if m.GetByLoanIDFn != nil {
		return m.GetByLoanIDFn(ctx, id)
	}
	return nil, context.Canceled
}

func (m *Repo) Scores(ctx context.Context) ([]domain.Entry, error) {
	if m.ScoresFn != nil {
		return m.ScoresFn(ctx)
	}
	return nil, nil
}
