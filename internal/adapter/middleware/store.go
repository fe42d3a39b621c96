package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

type entryState string

const (
	statePending entryState = "pending"
	stateDone    entryState = "done"
)

// entry is what the store keeps per submission. A pending entry is a lock;
// a done entry is the response to replay.
type entry struct {
	State       entryState `json:"state"`
	Code        int        `json:"code,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Body        []byte     `json:"body,omitempty"`
	BodySHA256  string     `json:"body_sha256"`
	RequestAtMS int64      `json:"request_at_ms"`
	StoredAt    time.Time  `json:"stored_at"`
}

type entryStore struct {
	rdb     *redis.Client
	lockTTL time.Duration
	ttl     time.Duration
}

func idempotencyKey(method, path string, participant common.Address, requestID string) string {
	return "idemp:ledger:" + strings.ToLower(method) + ":" + path + ":" + strings.ToLower(participant.Hex()) + ":" + requestID
}

func bodyDigest(b []byte) string { s := sha256.Sum256(b); return hex.EncodeToString(s[:]) }

// claim takes the lock. false means another attempt got there first.
func (s entryStore) claim(ctx context.Context, key string, e entry) (bool, error) {
	e.State = statePending
	payload, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, key, payload, s.lockTTL).Result()
}

func (s entryStore) load(ctx context.Context, key string) (entry, error) {
	var e entry
	v, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(v, &e); err != nil {
		return e, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, nil
}

// finish replaces the lock with the response for the replay window.
func (s entryStore) finish(ctx context.Context, key string, e entry) error {
	e.State = stateDone
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, payload, s.ttl).Err()
}

// release drops the lock so the same request id can be tried again.
func (s entryStore) release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
