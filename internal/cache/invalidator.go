// Package cache is the thin invalidation layer the core calls after every
// persisted mutation. It is not a cache itself: it deletes keys from Redis so
// read-through projections get rebuilt. Failures are logged and swallowed —
// a stale cache is acceptable, a failed ledger write is not.
package cache

import (
	"context"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/sudo-init-do/skillhub/internal/metrics"
)

// Invalidator is what the ledger and request services call into.
type Invalidator interface {
	Invalidate(ctx context.Context, kind, id string, related ...string)
}

// Redis deletes "<kind>:<id>" plus any related keys.
type Redis struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedis(rdb *redis.Client, log *slog.Logger) *Redis {
	return &Redis{rdb: rdb, log: log}
}

func (r *Redis) Invalidate(ctx context.Context, kind, id string, related ...string) {
	keys := append([]string{kind + ":" + id}, related...)
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		metrics.CacheInvalidationErrors.Inc()
		r.log.Warn("cache invalidation failed", "kind", kind, "id", id, "err", err)
	}
}

// Noop satisfies Invalidator when no Redis is configured.
type Noop struct{}

func (Noop) Invalidate(context.Context, string, string, ...string) {}
