package mysql

import (
	"context"
	"errors"
	"fmt"

	loanDomain "lending-ledger/internal/domain/loan"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LoanRepository struct{ db *gorm.DB }

func NewLoanRepository(db *gorm.DB) *LoanRepository { return &LoanRepository{db: db} }

// Tx runs fn in a db transaction, passing a repo bound to the tx
func (r *LoanRepository) Tx(ctx context.Context, fn func(repo loanDomain.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&LoanRepository{db: tx})
	})
}

// Upsert writes the full record; the journal mirrors the in-memory store.
func (r *LoanRepository) Upsert(ctx context.Context, l *loanDomain.Record) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"borrower", "lender", "principal", "interest", "duration_seconds", "state", "requested_at", "funded_at", "repaid_at", "updated_at"}),
		}).
		Create(toLoanRow(l)).Error
}

func (r *LoanRepository) GetByLoanID(ctx context.Context, id loanDomain.ID) (*loanDomain.Record, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *LoanRepository) GetByLoanIDForUpdate(ctx context.Context, id loanDomain.ID) (*loanDomain.Record, error) {
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *LoanRepository) List(ctx context.Context) ([]loanDomain.Record, error) {
	var rows []loanRow
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]loanDomain.Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

func (r *LoanRepository) get(q *gorm.DB, id loanDomain.ID) (*loanDomain.Record, error) {
	var row loanRow
	if err := q.Where("id = ?", uint64(id)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", loanDomain.ErrNotFound, id)
		}
		return nil, err
	}
	rec := row.toRecord()
	return &rec, nil
}
