package invoicing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// StatsCache caches customer billing summaries in redis. Concurrent misses
// for the same customer share one recompute through singleflight.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewStatsCache constructs the cache.
func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StatsCache{client: client, ttl: ttl}
}

func (c *StatsCache) key(customerID int64) string {
	return fmt.Sprintf("comptoir:stats:customer:%d", customerID)
}

// Get returns cached stats or recomputes them via compute. The recompute
// runs detached from the caller's cancellation so a second waiter still
// gets a result when the first request is cancelled.
func (c *StatsCache) Get(ctx context.Context, customerID int64, compute func(context.Context) (CustomerStats, error)) (CustomerStats, error) {
	key := c.key(customerID)
	if payload, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var stats CustomerStats
		if err := json.Unmarshal(payload, &stats); err == nil {
			return stats, nil
		}
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		detached := context.WithoutCancel(ctx)
		stats, err := compute(detached)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(stats); err == nil {
			c.client.Set(detached, key, payload, c.ttl)
		}
		return stats, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return CustomerStats{}, res.Err
		}
		return res.Val.(CustomerStats), nil
	case <-ctx.Done():
		return CustomerStats{}, ctx.Err()
	}
}

// Invalidate drops the cached entry for one customer.
func (c *StatsCache) Invalidate(ctx context.Context, customerID int64) error {
	return c.client.Del(ctx, c.key(customerID)).Err()
}
