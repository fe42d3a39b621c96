package uow

import (
	"context"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/reputation"
)

type Repos struct {
	Loans   loan.Repository
	Credits reputation.Repository
}

type UnitOfWork interface {
	// plain tx
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// lock the journal row of a loan first, then pass it in (nil when the loan
	// has not been journaled yet)
	WithinLoanTx(ctx context.Context, id loan.ID, fn func(r Repos, l *loan.Record) error) error
}
