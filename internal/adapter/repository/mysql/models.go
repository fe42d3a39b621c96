package mysql

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	loanDomain "lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/reputation"
	"lending-ledger/pkg/amount"
)

// Table: loans
type loanRow struct {
	ID              uint64        `gorm:"column:id;primaryKey;autoIncrement:false"`
	Borrower        string        `gorm:"column:borrower;type:char(42);not null;index:idx_loans_borrower"`
	Lender          string        `gorm:"column:lender;type:char(42);index:idx_loans_lender"`
	Principal       amount.Amount `gorm:"column:principal;type:decimal(78,0);not null"`
	Interest        amount.Amount `gorm:"column:interest;type:decimal(78,0);not null"`
	DurationSeconds uint64        `gorm:"column:duration_seconds;not null"`
	State           string        `gorm:"column:state;type:enum('requested','funded','repaid');default:'requested'"`
	RequestedAt     time.Time     `gorm:"column:requested_at"`
	FundedAt        *time.Time    `gorm:"column:funded_at"`
	RepaidAt        *time.Time    `gorm:"column:repaid_at"`
	CreatedAt       time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (loanRow) TableName() string { return "loans" }

// Table: reputation_credits
type creditRow struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	LoanID     uint64    `gorm:"column:loan_id;not null;uniqueIndex:ux_credits_loan"`
	Borrower   string    `gorm:"column:borrower;type:char(42);not null;index:idx_credits_borrower"`
	CreditedAt time.Time `gorm:"column:credited_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (creditRow) TableName() string { return "reputation_credits" }

// Models lists the journal tables for AutoMigrate.
func Models() []any { return []any{&loanRow{}, &creditRow{}} }

func toLoanRow(r *loanDomain.Record) *loanRow {
	row := &loanRow{
		ID:              uint64(r.ID),
		Borrower:        r.Borrower.Hex(),
		Principal:       r.Principal,
		Interest:        r.Interest,
		DurationSeconds: r.DurationSeconds,
		State:           string(r.State),
		RequestedAt:     r.RequestedAt.UTC(),
	}
	if r.HasLender() {
		row.Lender = r.Lender.Hex()
	}
	if !r.FundedAt.IsZero() {
		t := r.FundedAt.UTC()
		row.FundedAt = &t
	}
	if !r.RepaidAt.IsZero() {
		t := r.RepaidAt.UTC()
		row.RepaidAt = &t
	}
	return row
}

func (row *loanRow) toRecord() loanDomain.Record {
	r := loanDomain.Record{
		ID:              loanDomain.ID(row.ID),
		Borrower:        common.HexToAddress(row.Borrower),
		Principal:       row.Principal,
		Interest:        row.Interest,
		DurationSeconds: row.DurationSeconds,
		State:           loanDomain.State(row.State),
		RequestedAt:     row.RequestedAt.UTC(),
	}
	if row.Lender != "" {
		r.Lender = common.HexToAddress(row.Lender)
	}
	if row.FundedAt != nil {
		r.FundedAt = row.FundedAt.UTC()
	}
	if row.RepaidAt != nil {
		r.RepaidAt = row.RepaidAt.UTC()
	}
	return r
}

func toCreditRow(c *reputation.Credit) *creditRow {
	return &creditRow{
		LoanID:     uint64(c.LoanID),
		Borrower:   c.Borrower.Hex(),
		CreditedAt: c.CreditedAt.UTC(),
	}
}

func (row *creditRow) toCredit() *reputation.Credit {
	return &reputation.Credit{
		LoanID:     loanDomain.ID(row.LoanID),
		Borrower:   common.HexToAddress(row.Borrower),
		CreditedAt: row.CreditedAt.UTC(),
	}
}
