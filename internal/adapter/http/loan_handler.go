package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"

	"lending-ledger/internal/domain/loan"
	ucloan "lending-ledger/internal/usecase/loan"
)

type LoanHandler struct{ uc *ucloan.Usecase }

func NewLoanHandler(uc *ucloan.Usecase) *LoanHandler { return &LoanHandler{uc: uc} }

type listLoansQuery struct {
	Participant string `query:"participant" validate:"omitempty,eth_addr"`
	State       string `query:"state" validate:"omitempty,oneof=requested funded repaid"`
}

// RequestLoan submits a loan request. The response is the pending proposal:
// the loan only exists once the ledger confirms it.
func (h *LoanHandler) RequestLoan(c echo.Context) error {
	from, err := participant(c, true)
	if err != nil {
		return h.identityError(c, err)
	}
	var req ucloan.RequestLoanInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	res, err := h.uc.RequestLoan(c.Request().Context(), from, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, res)
}

func (h *LoanHandler) FundLoan(c echo.Context) error {
	return h.amountAction(c, h.uc.FundLoan)
}

func (h *LoanHandler) RepayLoan(c echo.Context) error {
	return h.amountAction(c, h.uc.RepayLoan)
}

type amountActionFn func(ctx context.Context, from common.Address, id loan.ID, in ucloan.AmountInput) (*ucloan.ActionResult, error)

func (h *LoanHandler) amountAction(c echo.Context, act amountActionFn) error {
	from, err := participant(c, true)
	if err != nil {
		return h.identityError(c, err)
	}
	id, err := loanIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var req ucloan.AmountInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if err := c.Validate(&req); err != nil {
		return validationFailed(c, err)
	}
	res, err := act(c.Request().Context(), from, id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, res)
}

func (h *LoanHandler) GetLoan(c echo.Context) error {
	viewer, err := participant(c, false)
	if err != nil {
		return h.identityError(c, err)
	}
	id, err := loanIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	dto, err := h.uc.GetLoan(c.Request().Context(), viewer, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) ListLoans(c echo.Context) error {
	viewer, err := participant(c, false)
	if err != nil {
		return h.identityError(c, err)
	}
	var q listLoansQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return badRequest(c, "invalid query")
	}
	if err := c.Validate(&q); err != nil {
		return validationFailed(c, err)
	}
	list, err := h.uc.ListLoans(c.Request().Context(), viewer, ucloan.Filter{
		Participant: q.Participant,
		State:       loan.State(q.State),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"loans": list, "count": len(list)})
}

// ListProposals lists the caller's pending submissions, or those of the
// participant query parameter.
func (h *LoanHandler) ListProposals(c echo.Context) error {
	who := c.QueryParam("participant")
	if who == "" {
		from, err := participant(c, true)
		if err != nil {
			return h.identityError(c, err)
		}
		who = from.Hex()
	}
	list, err := h.uc.ListProposals(who)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"proposals": list, "count": len(list)})
}

func (h *LoanHandler) GetProposal(c echo.Context) error {
	p, err := h.uc.GetProposal(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *LoanHandler) GetReputation(c echo.Context) error {
	p, err := ucloan.ParseParticipant(c.Param("address"))
	if err != nil {
		return respondError(c, err)
	}
	dto, err := h.uc.GetReputation(c.Request().Context(), p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) identityError(c echo.Context, err error) error {
	if errors.Is(err, errMissingParticipant) {
		return badRequest(c, err.Error())
	}
	return respondError(c, err)
}
