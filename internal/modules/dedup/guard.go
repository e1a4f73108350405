// README: Idempotency guard over Redis; dedups actor actions within a TTL and fails open on outage.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "dispatch:dedup:"

type Status int

const (
	// Executed means the handler ran (possibly unguarded during an outage).
	Executed Status = iota
	// Duplicate means an identical action is already in flight or recently
	// done; the handler was not invoked.
	Duplicate
)

type Guard struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewGuard(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{rdb: rdb, ttl: ttl, log: log}
}

// Do runs fn at most once per (actor, action, payload) within the TTL.
// When the ledger itself is unreachable the guard fails open and runs fn
// unguarded: availability over exactness, a deliberate tradeoff.
func (g *Guard) Do(ctx context.Context, actorID int64, action, payload string, fn func(context.Context) error) (Status, error) {
	key := keyPrefix + actionKey(actorID, action, payload)

	ok, err := g.rdb.SetNX(ctx, key, "1", g.ttl).Result()
	if err != nil {
		g.log.Warn("dedup ledger unavailable, failing open",
			zap.Int64("actor_id", actorID), zap.String("action", action), zap.Error(err))
		return Executed, fn(ctx)
	}
	if !ok {
		return Duplicate, nil
	}

	if err := fn(ctx); err != nil {
		// Drop our own record so a genuine retry is not blocked until TTL.
		if delErr := g.rdb.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			g.log.Warn("dedup record cleanup failed", zap.String("key", key), zap.Error(delErr))
		}
		return Executed, err
	}
	return Executed, nil
}

func actionKey(actorID int64, action, payload string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s", actorID, action, payload))
	return hex.EncodeToString(sum[:])
}
