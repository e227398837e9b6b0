package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sableauth/sable/pkg/slogx"
)

// DefaultPermissionTTL keeps role permission sets hot between token issues.
// Role grants change rarely, so a longer window than stamps is fine.
const DefaultPermissionTTL = 5 * time.Minute

// PermissionSource resolves the effective permission set for a role set.
type PermissionSource interface {
	GetPermissionsForRoles(ctx context.Context, roles []string) ([]string, error)
}

// PermissionCache is a read-through cache over role permission resolution,
// keyed by the sorted role set.
type PermissionCache struct {
	rdb redis.UniversalClient
	src PermissionSource
	ttl time.Duration
}

// NewPermissionCache builds a permission cache. A nil rdb disables caching.
func NewPermissionCache(rdb redis.UniversalClient, src PermissionSource, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	return &PermissionCache{rdb: rdb, src: src, ttl: ttl}
}

func permissionKey(roles []string) string {
	sorted := make([]string, len(roles))
	copy(sorted, roles)
	sort.Strings(sorted)
	return "sable:perms:" + strings.Join(sorted, ",")
}

// GetPermissionsForRoles resolves the permission set, serving from Redis
// when possible.
func (c *PermissionCache) GetPermissionsForRoles(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	key := permissionKey(roles)

	if c.rdb != nil {
		cached, err := c.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			var perms []string
			if jsonErr := json.Unmarshal([]byte(cached), &perms); jsonErr == nil {
				return perms, nil
			}
			// Corrupt entry: drop it and resolve from the store.
			_ = c.rdb.Del(ctx, key).Err()
		case errors.Is(err, redis.Nil):
		default:
			slogx.FromContext(ctx).Warn("permission cache read failed, using store", "err", err)
		}
	}

	perms, err := c.src.GetPermissionsForRoles(ctx, roles)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		if body, jsonErr := json.Marshal(perms); jsonErr == nil {
			if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
				slogx.FromContext(ctx).Warn("permission cache write failed", "err", err)
			}
		}
	}
	return perms, nil
}

// InvalidateRoles drops cached permission sets containing any of the given
// roles. Used after an admin edits role grants.
func (c *PermissionCache) InvalidateRoles(ctx context.Context, roles ...string) {
	if c.rdb == nil || len(roles) == 0 {
		return
	}

	touched := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		touched[r] = struct{}{}
	}

	iter := c.rdb.Scan(ctx, 0, "sable:perms:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		for member := range strings.SplitSeq(strings.TrimPrefix(key, "sable:perms:"), ",") {
			if _, ok := touched[member]; ok {
				_ = c.rdb.Del(ctx, key).Err()
				break
			}
		}
	}
	if err := iter.Err(); err != nil {
		slogx.FromContext(ctx).Warn("permission cache invalidate scan failed", "err", err)
	}
}
