package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	ucloan "lending-ledger/internal/usecase/loan"
	"lending-ledger/internal/usecase/reconcile"
)

// statusFor maps domain errors to HTTP codes. Checks run in order, so a
// ledger rejection that also names the rule it broke gets that rule's code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, loan.ErrNotFound), errors.Is(err, ucloan.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, loan.ErrQuarantined):
		return http.StatusLocked
	case errors.Is(err, loan.ErrInvalidTransition), errors.Is(err, loan.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, loan.ErrInvalidLoanTerms),
		errors.Is(err, loan.ErrAmountMismatch),
		errors.Is(err, loan.ErrSelfFunding),
		errors.Is(err, loan.ErrNotBorrower),
		errors.Is(err, ucloan.ErrInvalidParticipant),
		errors.Is(err, ledger.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, reconcile.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondError(c echo.Context, err error) error {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
		msg = "internal error"
	}
	return c.JSON(code, ErrorResponse{Error: msg})
}
