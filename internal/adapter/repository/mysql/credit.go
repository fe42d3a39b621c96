package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	loanDomain "lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/reputation"

	"gorm.io/gorm"
)

type CreditRepository struct{ db *gorm.DB }

func NewCreditRepository(db *gorm.DB) *CreditRepository { return &CreditRepository{db: db} }

// Tx binds the repository to a transaction.
func (r *CreditRepository) Tx(ctx context.Context, fn func(repo *CreditRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&CreditRepository{db: tx})
	})
}

func (r *CreditRepository) Create(ctx context.Context, c *reputation.Credit) error {
	if _, err := r.GetByLoanID(ctx, c.LoanID); err == nil {
		return fmt.Errorf("%w: %s", reputation.ErrAlreadyCredit, c.LoanID)
	} else if !errors.Is(err, reputation.ErrNotFound) {
		return err
	}
	return r.db.WithContext(ctx).Create(toCreditRow(c)).Error
}

func (r *CreditRepository) GetByLoanID(ctx context.Context, id loanDomain.ID) (*reputation.Credit, error) {
	var row creditRow
	res := r.db.WithContext(ctx).Where("loan_id = ?", uint64(id)).First(&row)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, reputation.ErrNotFound
		}
		return nil, res.Error
	}
	return row.toCredit(), nil
}

func (r *CreditRepository) Scores(ctx context.Context) ([]reputation.Entry, error) {
	var rows []struct {
		Borrower string
		Score    uint64
	}
	err := r.db.WithContext(ctx).
		Model(&creditRow{}).
		Select("borrower, COUNT(*) AS score").
		Group("borrower").
		Order("borrower ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]reputation.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, reputation.Entry{Participant: common.HexToAddress(row.Borrower), Score: row.Score})
	}
	return out, nil
}
