package invoicing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStatsCache(t *testing.T) (*StatsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStatsCache(client, time.Minute), mr
}

func TestStatsCacheComputesOnce(t *testing.T) {
	cache, _ := newTestStatsCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (CustomerStats, error) {
		calls++
		return CustomerStats{
			CustomerID:   7,
			InvoiceCount: 3,
			TotalBilled:  decimal.RequireFromString("300.50"),
			TotalPaid:    decimal.RequireFromString("100.50"),
			Outstanding:  decimal.RequireFromString("200"),
		}, nil
	}

	first, err := cache.Get(ctx, 7, compute)
	require.NoError(t, err)
	require.Equal(t, 3, first.InvoiceCount)

	second, err := cache.Get(ctx, 7, compute)
	require.NoError(t, err)
	require.True(t, second.Outstanding.Equal(first.Outstanding))
	require.Equal(t, 1, calls)
}

func TestStatsCacheInvalidate(t *testing.T) {
	cache, _ := newTestStatsCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (CustomerStats, error) {
		calls++
		return CustomerStats{CustomerID: 7, InvoiceCount: calls}, nil
	}

	_, err := cache.Get(ctx, 7, compute)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 7))

	stats, err := cache.Get(ctx, 7, compute)
	require.NoError(t, err)
	require.Equal(t, 2, stats.InvoiceCount)
	require.Equal(t, 2, calls)
}

func TestStatsCacheComputeError(t *testing.T) {
	cache, _ := newTestStatsCache(t)

	boom := errors.New("boom")
	_, err := cache.Get(context.Background(), 7, func(context.Context) (CustomerStats, error) {
		return CustomerStats{}, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestStatsCacheExpiry(t *testing.T) {
	cache, mr := newTestStatsCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (CustomerStats, error) {
		calls++
		return CustomerStats{CustomerID: 7, InvoiceCount: calls}, nil
	}

	_, err := cache.Get(ctx, 7, compute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	stats, err := cache.Get(ctx, 7, compute)
	require.NoError(t, err)
	require.Equal(t, 2, stats.InvoiceCount)
}
