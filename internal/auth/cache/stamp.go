// Package cache provides short-TTL Redis read-through caches in front of the
// store for hot per-request lookups. Every cache degrades to the backing
// store when Redis is unavailable, so Redis is an optimisation, never a
// dependency for correctness.
package cache

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sableauth/sable/pkg/slogx"
)

// ErrStampMismatch reports that a token's security stamp no longer matches
// the user's current stamp, meaning the session has been revoked.
var ErrStampMismatch = errors.New("cache: security stamp mismatch")

// DefaultStampTTL bounds how stale a cached stamp may be. A rotated stamp is
// also actively invalidated, so the TTL only matters when invalidation is
// missed (e.g. multiple instances without shared invalidation).
const DefaultStampTTL = 30 * time.Second

// StampSource provides the authoritative security stamp for a user.
type StampSource interface {
	GetSecurityStamp(ctx context.Context, userID string) (string, error)
}

// StampCache validates access-token security stamps against the user's
// current stamp, caching the current stamp in Redis.
type StampCache struct {
	rdb redis.UniversalClient
	src StampSource
	ttl time.Duration
}

// NewStampCache builds a stamp cache. A nil rdb disables caching entirely
// and every validation hits the source.
func NewStampCache(rdb redis.UniversalClient, src StampSource, ttl time.Duration) *StampCache {
	if ttl <= 0 {
		ttl = DefaultStampTTL
	}
	return &StampCache{rdb: rdb, src: src, ttl: ttl}
}

func stampKey(userID string) string {
	return "sable:stamp:" + userID
}

// ValidateSecurityStamp checks the presented stamp against the user's
// current one. Unknown users and mismatches both fail closed.
func (c *StampCache) ValidateSecurityStamp(ctx context.Context, userID, stamp string) error {
	current, err := c.currentStamp(ctx, userID)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(current), []byte(stamp)) != 1 {
		return ErrStampMismatch
	}
	return nil
}

// Invalidate drops the cached stamp for a user. Called on stamp rotation so
// revocation takes effect immediately rather than after TTL expiry.
func (c *StampCache) Invalidate(ctx context.Context, userID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, stampKey(userID)).Err(); err != nil {
		slogx.FromContext(ctx).Warn("stamp cache invalidate failed", "user_id", userID, "err", err)
	}
}

func (c *StampCache) currentStamp(ctx context.Context, userID string) (string, error) {
	if c.rdb != nil {
		cached, err := c.rdb.Get(ctx, stampKey(userID)).Result()
		switch {
		case err == nil:
			return cached, nil
		case errors.Is(err, redis.Nil):
			// miss, fall through to the store
		default:
			slogx.FromContext(ctx).Warn("stamp cache read failed, using store", "err", err)
		}
	}

	current, err := c.src.GetSecurityStamp(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load security stamp: %w", err)
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, stampKey(userID), current, c.ttl).Err(); err != nil {
			slogx.FromContext(ctx).Warn("stamp cache write failed", "err", err)
		}
	}
	return current, nil
}
