package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// StatsCache implements domain.StatsCache. Ranked rows of one market live as
// JSON in the "data" field of stats:{marketID}.
type StatsCache struct {
	client *Client
	ttl    time.Duration
}

// NewStatsCache creates a StatsCache whose entries expire after ttl.
func NewStatsCache(c *Client, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StatsCache{client: c, ttl: ttl}
}

func (sc *StatsCache) key(marketID string) string { return sc.client.Key("stats", marketID) }

// Get returns cached rows or domain.ErrNotFound.
func (sc *StatsCache) Get(ctx context.Context, marketID string) ([]domain.StatsRow, error) {
	data, err := sc.client.rdb.HGet(ctx, sc.key(marketID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get stats %s: %w", marketID, err)
	}
	var rows []domain.StatsRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("redis: unmarshal stats %s: %w", marketID, err)
	}
	return rows, nil
}

// Set stores rows with the cache TTL.
func (sc *StatsCache) Set(ctx context.Context, marketID string, rows []domain.StatsRow) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("redis: marshal stats %s: %w", marketID, err)
	}
	key := sc.key(marketID)
	pipe := sc.client.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "cached_at", time.Now().Unix())
	pipe.Expire(ctx, key, sc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set stats %s: %w", marketID, err)
	}
	return nil
}

// Invalidate drops the cached rows of a market.
func (sc *StatsCache) Invalidate(ctx context.Context, marketID string) error {
	if err := sc.client.rdb.Del(ctx, sc.key(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate stats %s: %w", marketID, err)
	}
	return nil
}

var _ domain.StatsCache = (*StatsCache)(nil)
