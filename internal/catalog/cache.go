package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedSource is a read-through Redis cache over permission lookups. The
// catalog is immutable after seeding apart from deprecation, so a plain TTL
// is enough; no version bump is needed.
type CachedSource struct {
	service *Service
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCachedSource wraps the catalog service. A nil client degrades to direct
// lookups.
func NewCachedSource(service *Service, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedSource {
	return &CachedSource{service: service, client: client, ttl: ttl, logger: logger}
}

// Get returns the permission for a code, served from the cache when fresh.
// Cache errors fall back to the underlying lookup.
func (c *CachedSource) Get(ctx context.Context, code string) (Permission, error) {
	if c.client == nil {
		return c.service.Get(ctx, code)
	}

	key := "catalog:perm:" + code
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var perm Permission
		if err := json.Unmarshal(payload, &perm); err == nil {
			return perm, nil
		}
	} else if err != redis.Nil && c.logger != nil {
		c.logger.Warn("catalog cache read", slog.String("code", code), slog.Any("error", err))
	}

	perm, err := c.service.Get(ctx, code)
	if err != nil {
		return Permission{}, err
	}

	raw, err := json.Marshal(perm)
	if err != nil {
		return perm, fmt.Errorf("catalog: marshal cached permission: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("catalog cache write", slog.String("code", code), slog.Any("error", err))
	}
	return perm, nil
}

// Invalidate drops a cached permission, used after deprecate/deactivate.
func (c *CachedSource) Invalidate(ctx context.Context, code string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, "catalog:perm:"+code).Err()
}
