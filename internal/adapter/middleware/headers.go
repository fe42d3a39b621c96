package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/pkg/id"
)

const (
	// HeaderParticipant carries the acting account's 0x address.
	HeaderParticipant = "Ax-Participant"
	HeaderRequestID   = "Ax-Request-Id"
	HeaderRequestAt   = "Ax-Request-At"
	// HeaderReplayed marks a response served from the idempotency store.
	HeaderReplayed = "Ax-Idempotent-Replay"
)

// submission identifies one client attempt at a ledger write.
type submission struct {
	requestID   string
	requestAt   time.Time
	participant common.Address
}

func readSubmission(h http.Header, now time.Time, maxSkew time.Duration) (submission, error) {
	var s submission

	rid := strings.ToLower(strings.TrimSpace(h.Get(HeaderRequestID)))
	if rid == "" {
		return s, errors.New("missing " + HeaderRequestID)
	}
	if !id.ValidRequestID(rid) {
		return s, errors.New("invalid " + HeaderRequestID + " format")
	}
	s.requestID = rid

	at, err := parseRequestAt(h.Get(HeaderRequestAt))
	if err != nil {
		return s, err
	}
	if at.Before(now.Add(-maxSkew)) || at.After(now.Add(maxSkew)) {
		return s, errors.New(HeaderRequestAt + " too skewed")
	}
	s.requestAt = at

	raw := strings.TrimSpace(h.Get(HeaderParticipant))
	if raw == "" {
		return s, errors.New("missing " + HeaderParticipant)
	}
	if !common.IsHexAddress(raw) {
		return s, errors.New("invalid " + HeaderParticipant)
	}
	s.participant = common.HexToAddress(raw)
	return s, nil
}

// parseRequestAt accepts epoch seconds, epoch milliseconds, or RFC3339 with
// an explicit zone. Naive local timestamps are rejected.
func parseRequestAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing " + HeaderRequestAt)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	// RFC3339Nano also accepts inputs without fractional seconds
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.New(HeaderRequestAt + " must be epoch (s/ms) or RFC3339 with timezone")
}
