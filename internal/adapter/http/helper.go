package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"

	"lending-ledger/internal/adapter/middleware"
	"lending-ledger/internal/domain/loan"
	ucloan "lending-ledger/internal/usecase/loan"
)

var errMissingParticipant = errors.New("missing " + middleware.HeaderParticipant)

// participant reads the acting account. Reads may be anonymous; submissions
// must name who is acting.
func participant(c echo.Context, required bool) (common.Address, error) {
	raw := strings.TrimSpace(c.Request().Header.Get(middleware.HeaderParticipant))
	if raw == "" {
		if required {
			return common.Address{}, errMissingParticipant
		}
		return common.Address{}, nil
	}
	return ucloan.ParseParticipant(raw)
}

func loanIDParam(c echo.Context) (loan.ID, error) {
	return loan.ParseID(c.Param("loan_id"))
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func validationFailed(c echo.Context, err error) error {
	return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "validation failed",
		Details: ToFieldErrors(err),
	})
}

// ---- helpers ----

func containsFieldMsg(list []FieldError, field, substr string) bool {
	for _, e := range list {
		if e.Field == field && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
