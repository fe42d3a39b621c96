package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name           string
		running        func() bool
		wantCode       int
		wantStatus     string
		wantReconciler string
	}{
		{"no probe", nil, http.StatusOK, "ok", "running"},
		{"engine running", func() bool { return true }, http.StatusOK, "ok", "running"},
		{"engine stopped", func() bool { return false }, http.StatusServiceUnavailable, "degraded", "stopped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
			start := time.Now().UTC()

			if err := NewHandler(tt.running).Health(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(strings.ToLower(ct), "application/json") {
				t.Fatalf("Content-Type = %q", ct)
			}

			var body struct {
				Status     string `json:"status"`
				Reconciler string `json:"reconciler"`
				Time       string `json:"time"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v; raw=%s", err, rec.Body.String())
			}
			if body.Status != tt.wantStatus || body.Reconciler != tt.wantReconciler {
				t.Fatalf("got %q/%q, want %q/%q", body.Status, body.Reconciler, tt.wantStatus, tt.wantReconciler)
			}

			// RFC3339Nano in UTC, close to now
			parsed, err := time.Parse(time.RFC3339Nano, body.Time)
			if err != nil {
				t.Fatalf("time not RFC3339Nano: %v (value=%q)", err, body.Time)
			}
			if parsed.Location() != time.UTC {
				t.Fatalf("expected UTC, got %v", parsed.Location())
			}
			if parsed.Before(start.Add(-2*time.Second)) || parsed.After(time.Now().UTC().Add(2*time.Second)) {
				t.Fatalf("time %v outside window", parsed)
			}
		})
	}
}
