package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	running func() bool
}

// NewHandler reports the reconciler's liveness through running; nil means
// always running.
func NewHandler(running func() bool) *Handler { return &Handler{running: running} }

func (h *Handler) Health(c echo.Context) error {
	status, code := "ok", http.StatusOK
	reconciler := "running"
	if h.running != nil && !h.running() {
		status, code, reconciler = "degraded", http.StatusServiceUnavailable, "stopped"
	}
	return c.JSON(code, map[string]any{
		"status":     status,
		"reconciler": reconciler,
		"time":       time.Now().UTC().Format(time.RFC3339Nano),
	})
}
