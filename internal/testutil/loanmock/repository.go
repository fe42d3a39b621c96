package loanmock

import (
	"context"

	domain "lending-ledger/internal/domain/loan"
)

var _ domain.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies domain.Repository.
// Only methods you need are included; add more as tests require.
type Repo struct {
	UpsertFn               func(ctx context.Context, r *domain.Record) error
	GetByLoanIDFn          func(ctx context.Context, id domain.ID) (*domain.Record, error)
	GetByLoanIDForUpdateFn func(ctx context.Context, id domain.ID) (*domain.Record, error)
	ListFn                 func(ctx context.Context) ([]domain.Record, error)
}

func (m *Repo) Upsert(ctx context.Context, r *domain.Record) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, r)
	}
	return nil
}

func (m *Repo) GetByLoanID(ctx context.Context, id domain.ID) (*domain.Record, error) {
	if m.GetByLoanIDFn != nil {
		return m.GetByLoanIDFn(ctx, id)
	}
	return nil, context.Canceled
}

func (m *Repo) GetByLoanIDForUpdate(ctx context.Context, id domain.ID) (*domain.Record, error) {
	if m.GetByLoanIDForUpdateFn != nil {
		return m.GetByLoanIDForUpdateFn(ctx, id)
	}
	return nil, context.Canceled
}

func (m *Repo) List(ctx context.Context) ([]domain.Record, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	return nil, nil
}
