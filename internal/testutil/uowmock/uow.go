package uowmock

import (
	"context"
	"errors"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/uow"
)

var _ uow.UnitOfWork = (*UoW)(nil)

var errUnimplemented = errors.New("uowmock: method not implemented")

// UoW is a function-backed mock that satisfies uow.UnitOfWork.
// Fill in the function fields you need in a test; unfilled ones return errUnimplemented.
type UoW struct {
	WithinTxFn     func(ctx context.Context, fn func(r uow.Repos) error) error
	WithinLoanTxFn func(ctx context.Context, id loan.ID, fn func(r uow.Repos, l *loan.Record) error) error

	// Locked lists the loan ids Passthrough locked, in call order.
	Locked []loan.ID
}

func New() *UoW { return &UoW{} }
func (m *UoW) WithWithinTx(fn func(context.Context, func(uow.Repos) error) error) *UoW {
	m.WithinTxFn = fn
	return m
}
func (m *UoW) WithWithinLoanTx(fn func(context.Context, loan.ID, func(uow.Repos, *loan.Record) error) error) *UoW {
	m.WithinLoanTxFn = fn
	return m
}
func (m *UoW) Reset() { *m = UoW{} }

// Passthrough runs every body directly against repos, with existing as the
// locked loan row. There is no rollback: whatever fn wrote stays written.
func Passthrough(repos uow.Repos, existing func(loan.ID) *loan.Record) *UoW {
	m := New()
	m.WithWithinTx(func(_ context.Context, fn func(uow.Repos) error) error { return fn(repos) })
	m.WithWithinLoanTx(func(_ context.Context, id loan.ID, fn func(uow.Repos, *loan.Record) error) error {
		m.Locked = append(m.Locked, id)
		var cur *loan.Record
		if existing != nil {
			cur = existing(id)
		}
		return fn(repos, cur)
	})
	return m
}

func (m *UoW) WithinTx(ctx context.Context, fn func(r uow.Repos) error) error {
	if m.WithinTxFn != nil {
		return m.WithinTxFn(ctx, fn)
	}
	return errUnimplemented
}
func (m *UoW) WithinLoanTx(ctx context.Context, id loan.ID, fn func(r uow.Repos, l *loan.Record) error) error {
	if m.WithinLoanTxFn != nil {
		return m.WithinLoanTxFn(ctx, id, fn)
	}
	return errUnimplemented
}
