package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type IdempotencyConfig struct {
	// TTL is how long a finished response is replayed.
	TTL time.Duration
	// LockTTL bounds how long an attempt may hold the key before finishing.
	LockTTL time.Duration
	// MaxSkew is the allowed distance between Ax-Request-At and the server clock.
	MaxSkew      time.Duration
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

func (c *IdempotencyConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 60 * time.Second
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = 10 * time.Minute
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type respRecorder struct {
	w    http.ResponseWriter
	buf  bytes.Buffer
	code int
}

func (r *respRecorder) Header() http.Header { return r.w.Header() }
func (r *respRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.w.Write(b)
}
func (r *respRecorder) WriteHeader(statusCode int) { r.code = statusCode; r.w.WriteHeader(statusCode) }

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// Idempotency guards ledger submissions. The key is method, request path,
// participant and Ax-Request-Id, so a retried submission replays the first
// response instead of reaching the ledger twice. Server errors are not
// stored: the lock is dropped and the client may retry with the same id.
func Idempotency(rdb *redis.Client, cfg IdempotencyConfig) echo.MiddlewareFunc {
	cfg.applyDefaults()
	store := entryStore{rdb: rdb, lockTTL: cfg.LockTTL, ttl: cfg.TTL}
	log := cfg.Logger.With(slog.String("component", "idempotency"))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			sub, err := readSubmission(req.Header, time.Now().UTC(), cfg.MaxSkew)
			if err != nil {
				return jsonError(c, http.StatusBadRequest, err.Error())
			}

			var body []byte
			if req.Body != nil {
				if body, err = io.ReadAll(req.Body); err != nil {
					return jsonError(c, http.StatusBadRequest, "unreadable body")
				}
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			digest := bodyDigest(body)

			key := idempotencyKey(req.Method, req.URL.Path, sub.participant, sub.requestID)
			ctx, cancel := context.WithTimeout(req.Context(), cfg.StoreTimeout)
			defer cancel()

			claimed, err := store.claim(ctx, key, entry{
				BodySHA256:  digest,
				RequestAtMS: sub.requestAt.UnixMilli(),
				StoredAt:    time.Now().UTC(),
			})
			if err != nil {
				log.Error("idempotency store unavailable", slog.Any("error", err))
				return jsonError(c, http.StatusServiceUnavailable, "idempotency store unavailable")
			}
			if !claimed {
				cur, err := store.load(ctx, key)
				if err != nil && !errors.Is(err, redis.Nil) {
					log.Warn("idempotency entry unreadable", slog.String("key", key), slog.Any("error", err))
				}
				if cur.BodySHA256 != "" && cur.BodySHA256 != digest {
					return jsonError(c, http.StatusConflict, HeaderRequestID+" reused with different body")
				}
				if cur.State == stateDone && cur.Code != 0 {
					ct := cur.ContentType
					if ct == "" {
						ct = echo.MIMEApplicationJSON
					}
					c.Response().Header().Set(HeaderReplayed, "true")
					return c.Blob(cur.Code, ct, cur.Body)
				}
				return jsonError(c, http.StatusConflict, "request is already in progress")
			}

			rec := &respRecorder{w: c.Response().Writer, code: http.StatusOK}
			c.Response().Writer = rec
			if err := next(c); err != nil {
				c.Error(err)
			}

			// the request context may be gone by now
			sctx, scancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
			defer scancel()
			if rec.code >= http.StatusInternalServerError {
				if err := store.release(sctx, key); err != nil {
					log.Warn("idempotency release failed", slog.String("key", key), slog.Any("error", err))
				}
				return nil
			}
			if err := store.finish(sctx, key, entry{
				Code:        rec.code,
				ContentType: rec.Header().Get(echo.HeaderContentType),
				Body:        rec.buf.Bytes(),
				BodySHA256:  digest,
				RequestAtMS: sub.requestAt.UnixMilli(),
				StoredAt:    time.Now().UTC(),
			}); err != nil {
				log.Warn("idempotency save failed", slog.String("key", key), slog.Any("error", err))
			}
			return nil
		}
	}
}
