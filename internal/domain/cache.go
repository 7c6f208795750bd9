package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StreamMessage is one durable message read back from the signal bus stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes engine events to subscribers (WebSocket hub, keeper,
// external consumers) and appends them to a durable stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed mutual exclusion. The engine holds a
// per-round lock across each read-compute-write sequence so concurrent
// callers on the same round are serialized.
type LockManager interface {
	// Acquire returns an unlock func on success, or ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RoundCache holds short-lived round snapshots so read endpoints do not hit
// the database on every poll.
type RoundCache interface {
	Set(ctx context.Context, round Round) error
	Get(ctx context.Context, key common.Hash) (Round, error)
	Invalidate(ctx context.Context, key common.Hash) error
}

// RateLimiter bounds request rates per key.
type RateLimiter interface {
	// Allow reports whether a request is permitted under the limit for the
	// window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for the key is allowed or ctx is done.
	Wait(ctx context.Context, key string) error
}

// Clock supplies the current wall-clock time. Operations re-check their
// timing preconditions against it on every call.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
