package reconcile

import (
	"context"
	"errors"
	"fmt"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/reputation"
	"lending-ledger/internal/domain/uow"
)

// Journal persists confirmed state so a restart does not depend on a full
// ledger replay.
type Journal interface {
	Commit(ctx context.Context, rec loan.Record, credit *reputation.Credit) error
	Load(ctx context.Context) ([]loan.Record, []reputation.Entry, error)
}

// UoWJournal writes through a unit of work: the loan row is locked, upserted,
// and its reputation credit created in one transaction.
type UoWJournal struct {
	tx      uow.UnitOfWork
	loans   loan.Repository
	credits reputation.Repository
}

func NewUoWJournal(tx uow.UnitOfWork, loans loan.Repository, credits reputation.Repository) *UoWJournal {
	return &UoWJournal{tx: tx, loans: loans, credits: credits}
}

func (j *UoWJournal) Commit(ctx context.Context, rec loan.Record, credit *reputation.Credit) error {
	return j.tx.WithinLoanTx(ctx, rec.ID, func(r uow.Repos, cur *loan.Record) error {
		// never move the journal backwards
		if cur != nil && rec.State.Before(cur.State) {
			return nil
		}
		if err := r.Loans.Upsert(ctx, &rec); err != nil {
			return fmt.Errorf("journal loan %s: %w", rec.ID, err)
		}
		if credit == nil {
			return nil
		}
		if err := r.Credits.Create(ctx, credit); err != nil && !errors.Is(err, reputation.ErrAlreadyCredit) {
			return fmt.Errorf("journal credit %s: %w", rec.ID, err)
		}
		return nil
	})
}

func (j *UoWJournal) Load(ctx context.Context) ([]loan.Record, []reputation.Entry, error) {
	loans, err := j.loans.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	scores, err := j.credits.Scores(ctx)
	if err != nil {
		return nil, nil, err
	}
	return loans, scores, nil
}
