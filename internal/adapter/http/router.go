package http

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register mounts every route. idem guards the mutating loan routes and may
// be nil.
func Register(e *echo.Echo, h *Handler, lh *LoanHandler, rh *ReconcileHandler, idem echo.MiddlewareFunc) {
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var guard []echo.MiddlewareFunc
	if idem != nil {
		guard = append(guard, idem)
	}

	e.GET("/loans", lh.ListLoans)
	e.GET("/loans/:loan_id", lh.GetLoan)
	e.POST("/loans", lh.RequestLoan, guard...)
	e.POST("/loans/:loan_id/fund", lh.FundLoan, guard...)
	e.POST("/loans/:loan_id/repay", lh.RepayLoan, guard...)
	e.GET("/proposals", lh.ListProposals)
	e.GET("/proposals/:id", lh.GetProposal)
	e.GET("/reputation/:address", lh.GetReputation)

	e.GET("/diagnostics", rh.Diagnostics)
	e.POST("/reconcile", rh.Reconcile)
	e.POST("/loans/:loan_id/release", rh.Release)
}
