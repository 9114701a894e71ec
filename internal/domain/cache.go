package domain

import (
	"context"
	"time"
)

// MarketCache is a read-through cache for market snapshots.
type MarketCache interface {
	Set(ctx context.Context, m Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// SignalBus carries typed event notifications between components and out to
// WebSocket subscribers. Publish is fire-and-forget pub/sub; PublishDurable
// appends to an ordered stream for consumers that must not miss events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	PublishDurable(ctx context.Context, stream string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter enforces per-key request limits at the API edge.
type RateLimiter interface {
	// Allow reports whether one more request under key fits inside the
	// sliding window, counting it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides cross-instance exclusive locks. The settlement service
// takes a per-market lock around resolve / sweep operations so only one
// writer ever drives a market's ledger at a time.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when the
	// lock is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
