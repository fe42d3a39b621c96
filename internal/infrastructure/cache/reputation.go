package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const reputationPrefix = "reputation:ledger:"

// ReputationMirror caches the ledger's reputation counters in Redis so the
// cross-check does not hit the ledger on every read.
type ReputationMirror struct {
	rdb *redis.Client
}

func NewReputationMirror(rdb *redis.Client) *ReputationMirror { return &ReputationMirror{rdb: rdb} }

func reputationKey(p common.Address) string {
	return reputationPrefix + strings.ToLower(p.Hex())
}

func (m *ReputationMirror) Get(ctx context.Context, p common.Address) (uint64, bool, error) {
	v, err := m.rdb.Get(ctx, reputationKey(p)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		// unreadable entry: treat as a miss so it gets rewritten
		return 0, false, nil
	}
	return n, true, nil
}

func (m *ReputationMirror) Set(ctx context.Context, p common.Address, score uint64, ttl time.Duration) error {
	return m.rdb.Set(ctx, reputationKey(p), strconv.FormatUint(score, 10), ttl).Err()
}
