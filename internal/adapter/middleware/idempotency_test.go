package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const testParticipant = "0x00000000000000000000000000000000000a11ce"

// setupEcho mounts handler behind the middleware on the loan submission routes.
func setupEcho(rdb *redis.Client, handler echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(Idempotency(rdb, IdempotencyConfig{TTL: 2 * time.Minute}))
	e.POST("/loans", handler)
	e.POST("/loans/:loan_id/fund", handler)
	e.GET("/loans", handler)
	return e
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func submitHeaders(reqID string) map[string]string {
	return map[string]string{
		HeaderRequestID:   reqID,
		HeaderRequestAt:   time.Now().UTC().Format(time.RFC3339),
		HeaderParticipant: testParticipant,
	}
}

func doReq(t *testing.T, e *echo.Echo, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func acceptedHandler(calls *int) echo.HandlerFunc {
	return func(c echo.Context) error {
		*calls++
		body, _ := io.ReadAll(c.Request().Body)
		return c.JSON(http.StatusAccepted, map[string]any{"call": *calls, "echo": string(body)})
	}
}

func Test_BypassOnGET_NoHeadersRequired(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, acceptedHandler(&calls))
	rec := doReq(t, e, http.MethodGet, "/loans", "", nil)
	if rec.Code != http.StatusAccepted || calls != 1 {
		t.Fatalf("GET must pass straight through, got %d (calls=%d)", rec.Code, calls)
	}
}

func Test_InvalidHeadersNeverReachHandler(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, acceptedHandler(&calls))

	for _, h := range []map[string]string{
		{HeaderRequestAt: time.Now().UTC().Format(time.RFC3339), HeaderParticipant: testParticipant},
		{HeaderRequestID: strings.Repeat("a", 32), HeaderRequestAt: "not-a-time", HeaderParticipant: testParticipant},
		{HeaderRequestID: strings.Repeat("a", 32), HeaderRequestAt: time.Now().UTC().Format(time.RFC3339)},
		{HeaderRequestID: strings.Repeat("a", 32), HeaderRequestAt: time.Now().UTC().Format(time.RFC3339), HeaderParticipant: "0xnot-an-address"},
	} {
		rec := doReq(t, e, http.MethodPost, "/loans", `{"x":1}`, h)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("headers %v => want 400, got %d", h, rec.Code)
		}
	}
	if calls != 0 {
		t.Fatalf("handler ran %d times", calls)
	}
}

func Test_HappyPath_Then_Replay(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, acceptedHandler(&calls))
	h := submitHeaders(strings.Repeat("a", 32))

	rec1 := doReq(t, e, http.MethodPost, "/loans", `{"principal":"1"}`, h)
	if rec1.Code != http.StatusAccepted {
		t.Fatalf("first request => want 202, got %d, body: %s", rec1.Code, rec1.Body.String())
	}
	if rec1.Header().Get(HeaderReplayed) != "" {
		t.Fatal("first response must not be marked as a replay")
	}

	rec2 := doReq(t, e, http.MethodPost, "/loans", `{"principal":"1"}`, h)
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("replay => want 202, got %d", rec2.Code)
	}
	if rec1.Body.String() != rec2.Body.String() {
		t.Fatalf("replay body mismatch: %q vs %q", rec1.Body.String(), rec2.Body.String())
	}
	if rec2.Header().Get(HeaderReplayed) != "true" {
		t.Fatal("replay not marked")
	}
	if !strings.HasPrefix(rec2.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		t.Fatalf("replay content type = %q", rec2.Header().Get(echo.HeaderContentType))
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func Test_KeyIncludesLoanPath(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, acceptedHandler(&calls))
	h := submitHeaders(strings.Repeat("b", 32))

	doReq(t, e, http.MethodPost, "/loans/1/fund", `{"amount":"1"}`, h)
	rec := doReq(t, e, http.MethodPost, "/loans/2/fund", `{"amount":"1"}`, h)
	if rec.Code != http.StatusAccepted || calls != 2 {
		t.Fatalf("same request id on another loan must run: code=%d calls=%d", rec.Code, calls)
	}
}

func Test_Conflict_When_InProgress(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, acceptedHandler(&calls))
	reqID := strings.Repeat("a", 32)
	body := `{"x":1}`

	s := entryStore{rdb: rdb, lockTTL: time.Minute, ttl: time.Minute}
	key := idempotencyKey(http.MethodPost, "/loans", common.HexToAddress(testParticipant), reqID)
	if ok, err := s.claim(context.Background(), key, entry{BodySHA256: bodyDigest([]byte(body))}); err != nil || !ok {
		t.Fatalf("seed lock: ok=%v err=%v", ok, err)
	}

	rec := doReq(t, e, http.MethodPost, "/loans", body, submitHeaders(reqID))
	if rec.Code != http.StatusConflict {
		t.Fatalf("in-progress => want 409, got %d body=%s", rec.Code, rec.Body.String())
	}
	if calls != 0 {
		t.Fatal("handler ran while another attempt held the lock")
	}
}

func Test_Conflict_When_SameReqID_DifferentBody(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, acceptedHandler(&calls))
	h := submitHeaders(strings.Repeat("a", 32))

	doReq(t, e, http.MethodPost, "/loans", `{"x":1}`, h)
	rec := doReq(t, e, http.MethodPost, "/loans", `{"x":2}`, h)
	if rec.Code != http.StatusConflict {
		t.Fatalf("different body same reqID => want 409, got %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func Test_ServerErrorReleasesKey(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, func(c echo.Context) error {
		calls++
		if calls == 1 {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "ledger unavailable"})
		}
		return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
	})
	h := submitHeaders(strings.Repeat("c", 32))

	if rec := doReq(t, e, http.MethodPost, "/loans", `{}`, h); rec.Code != http.StatusBadGateway {
		t.Fatalf("first => want 502, got %d", rec.Code)
	}
	rec := doReq(t, e, http.MethodPost, "/loans", `{}`, h)
	if rec.Code != http.StatusAccepted || calls != 2 {
		t.Fatalf("retry after 5xx must run again: code=%d calls=%d", rec.Code, calls)
	}
}

func Test_ClientErrorIsReplayed(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, func(c echo.Context) error {
		calls++
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "borrower cannot fund own loan")
	})
	h := submitHeaders(strings.Repeat("d", 32))

	rec1 := doReq(t, e, http.MethodPost, "/loans/1/fund", `{"amount":"1"}`, h)
	rec2 := doReq(t, e, http.MethodPost, "/loans/1/fund", `{"amount":"1"}`, h)
	if rec1.Code != http.StatusUnprocessableEntity || rec2.Code != http.StatusUnprocessableEntity {
		t.Fatalf("codes = %d, %d", rec1.Code, rec2.Code)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func Test_StoreUnavailable_Returns503(t *testing.T) {
	// nothing listens here, so the lock fails fast
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	calls := 0
	e := setupEcho(rdb, acceptedHandler(&calls))

	rec := doReq(t, e, http.MethodPost, "/loans", `{}`, submitHeaders(strings.Repeat("a", 32)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("store unavailable => want 503, got %d", rec.Code)
	}
	if calls != 0 {
		t.Fatal("handler ran without a lock")
	}
}

func Test_Replay_IgnoresAddressCase(t *testing.T) {
	_, rdb := newMiniredisClient(t)
	calls := 0
	e := setupEcho(rdb, acceptedHandler(&calls))

	h := submitHeaders(strings.Repeat("a", 32))
	h[HeaderParticipant] = "0x00000000000000000000000000000000000A11CE"
	rec1 := doReq(t, e, http.MethodPost, "/loans", `{"x":1}`, h)
	h[HeaderParticipant] = testParticipant
	rec2 := doReq(t, e, http.MethodPost, "/loans", `{"x":1}`, h)

	if rec1.Code != http.StatusAccepted || rec2.Code != http.StatusAccepted {
		t.Fatalf("codes = %d, %d; want 202, 202", rec1.Code, rec2.Code)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}
