package domain

import (
	"context"
	"time"
)

// StatsCache keeps the ranked leaderboard of finalized markets.
type StatsCache interface {
	Get(ctx context.Context, marketID string) ([]StatsRow, error)
	Set(ctx context.Context, marketID string, rows []StatsRow) error
	Invalidate(ctx context.Context, marketID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock. Refresh extends it by its original TTL and returns
// ErrLockLost once another holder has taken the key. Release is idempotent.
type Lease interface {
	Refresh(ctx context.Context) error
	Release()
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
