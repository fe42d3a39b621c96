package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/usecase/reconcile"
)

type fakeReconciler struct {
	diags      []reconcile.Diagnostic
	report     reconcile.PollReport
	reconcile  error
	released   []loan.ID
	releaseErr error
}

func (f *fakeReconciler) Reconcile(context.Context) (reconcile.PollReport, error) {
	return f.report, f.reconcile
}

func (f *fakeReconciler) Release(_ context.Context, id loan.ID) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = append(f.released, id)
	return nil
}

func (f *fakeReconciler) RecentDiagnostics(limit int) []reconcile.Diagnostic {
	if limit <= 0 || limit > len(f.diags) {
		return f.diags
	}
	return f.diags[:limit]
}

func serveReconcile(fn echo.HandlerFunc, method, target string, params ...string) *httptest.ResponseRecorder {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(method, target, nil), rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	if err := fn(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestDiagnostics_Filters(t *testing.T) {
	f := &fakeReconciler{diags: []reconcile.Diagnostic{
		{ID: "d4", Kind: reconcile.DiagOrphanedEvent, LoanID: 2},
		{ID: "d3", Kind: reconcile.DiagDriftCorrected, LoanID: 1},
		{ID: "d2", Kind: reconcile.DiagOrphanedEvent, LoanID: 1},
		{ID: "d1", Kind: reconcile.DiagQuarantined, LoanID: 3},
	}}
	h := NewReconcileHandler(f)

	ids := func(target string) []string {
		t.Helper()
		rec := serveReconcile(h.Diagnostics, http.MethodGet, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: want 200, got %d", target, rec.Code)
		}
		var body struct {
			Diagnostics []reconcile.Diagnostic `json:"diagnostics"`
			Count       int                    `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		out := make([]string, 0, len(body.Diagnostics))
		for _, d := range body.Diagnostics {
			out = append(out, d.ID)
		}
		if body.Count != len(out) {
			t.Fatalf("count %d != %d", body.Count, len(out))
		}
		return out
	}
	eq := func(got []string, want ...string) bool {
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}

	if got := ids("/diagnostics"); !eq(got, "d4", "d3", "d2", "d1") {
		t.Fatalf("all: %v", got)
	}
	if got := ids("/diagnostics?kind=orphaned_event"); !eq(got, "d4", "d2") {
		t.Fatalf("by kind: %v", got)
	}
	if got := ids("/diagnostics?loan_id=1"); !eq(got, "d3", "d2") {
		t.Fatalf("by loan: %v", got)
	}
	// the limit applies after filtering
	if got := ids("/diagnostics?kind=orphaned_event&limit=1"); !eq(got, "d4") {
		t.Fatalf("limited: %v", got)
	}

	for _, bad := range []string{"/diagnostics?limit=0", "/diagnostics?limit=x", "/diagnostics?loan_id=-1"} {
		if rec := serveReconcile(h.Diagnostics, http.MethodGet, bad); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: want 400, got %d", bad, rec.Code)
		}
	}
}

func TestReconcile(t *testing.T) {
	f := &fakeReconciler{report: reconcile.PollReport{Corrected: 2}}
	h := NewReconcileHandler(f)

	rec := serveReconcile(h.Reconcile, http.MethodPost, "/reconcile")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var rep reconcile.PollReport
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rep.Corrected != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	f.reconcile = reconcile.ErrNotRunning
	if rec := serveReconcile(h.Reconcile, http.MethodPost, "/reconcile"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stopped engine: want 503, got %d", rec.Code)
	}
}

func TestRelease(t *testing.T) {
	f := &fakeReconciler{}
	h := NewReconcileHandler(f)

	rec := serveReconcile(h.Release, http.MethodPost, "/loans/4/release", "loan_id", "4")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", rec.Code)
	}
	if len(f.released) != 1 || f.released[0] != 4 {
		t.Fatalf("released = %v", f.released)
	}

	f.releaseErr = loan.ErrNotFound
	if rec := serveReconcile(h.Release, http.MethodPost, "/loans/9/release", "loan_id", "9"); rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}
