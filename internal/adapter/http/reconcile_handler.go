package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/usecase/reconcile"
)

// Reconciler is the operator-facing part of the reconciliation engine.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.PollReport, error)
	Release(ctx context.Context, id loan.ID) error
	RecentDiagnostics(limit int) []reconcile.Diagnostic
}

type ReconcileHandler struct{ r Reconciler }

func NewReconcileHandler(r Reconciler) *ReconcileHandler { return &ReconcileHandler{r: r} }

// Diagnostics lists recent diagnostics, newest first, optionally narrowed to
// one kind or loan.
func (h *ReconcileHandler) Diagnostics(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	kind := reconcile.DiagnosticKind(c.QueryParam("kind"))
	var loanID loan.ID
	if v := c.QueryParam("loan_id"); v != "" {
		id, err := loan.ParseID(v)
		if err != nil {
			return badRequest(c, "invalid loan_id")
		}
		loanID = id
	}

	// filter over the whole ring, then cap
	out := make([]reconcile.Diagnostic, 0, limit)
	for _, d := range h.r.RecentDiagnostics(0) {
		if kind != "" && d.Kind != kind {
			continue
		}
		if loanID != 0 && d.LoanID != loanID {
			continue
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"diagnostics": out, "count": len(out)})
}

// Reconcile runs a full poll now and reports what it changed.
func (h *ReconcileHandler) Reconcile(c echo.Context) error {
	rep, err := h.r.Reconcile(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Release lifts a quarantine by hand.
func (h *ReconcileHandler) Release(c echo.Context) error {
	id, err := loanIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.r.Release(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
