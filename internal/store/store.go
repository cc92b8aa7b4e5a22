// Package store defines the Redis-shaped key/value facade that every core
// component (credential registry, rate accountant, router) persists
// through, plus two implementations: a Redis-backed primary store and an
// in-memory test double.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps errors returned when the backing store cannot be
// reached (connection refused, timeout, ping failure).
var ErrUnavailable = errors.New("store: unavailable")

// Element is a single member of an ordered set, as returned by
// RangeByRank: a float64 score (typically a unix timestamp) paired with
// its payload.
type Element struct {
	Score   float64
	Payload string
}

// Store is the facade every core component depends on. It deliberately
// mirrors a small slice of Redis's data model — hashes, sets, sorted sets,
// key scanning, and pipelined batches — rather than exposing a richer
// domain-specific API, so the sliding-window and registry algorithms can
// be written once against this interface and run against either backend.
type Store interface {
	// Hash operations.
	HashGet(ctx context.Context, key, field string) (string, bool, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashSet(ctx context.Context, key string, fields map[string]string) error
	HashDelete(ctx context.Context, key string, fields ...string) error

	// Set operations.
	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCardinality(ctx context.Context, key string) (int64, error)

	// Ordered-set operations (sliding-window accounting).
	OrderedAppend(ctx context.Context, key string, score float64, payload string) error
	RangeByRank(ctx context.Context, key string, minScore, maxScore float64) ([]Element, error)
	RemoveByScoreRange(ctx context.Context, key string, minScore, maxScore float64) (int64, error)

	// ScanByPrefix returns every key starting with prefix. Used by
	// BackgroundMonitor's cleanup loops to enumerate rate-window keys.
	ScanByPrefix(ctx context.Context, prefix string) ([]string, error)

	// Batch runs fn against a pipelined sub-store: writes issued through
	// the argument are flushed as one round trip. The concurrency model
	// accepts lossy-optimistic overshoot (§5), so this is a throughput
	// optimization, not a transactional guarantee.
	Batch(ctx context.Context, fn func(b Store) error) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// TTLRateLimit is the expiry applied to rate-window keys, matching
// original_source's TTL_RATE_LIMIT (24h) — a safety net in case a
// credential/model pair stops being cleaned up by CleanupLoop.
const TTLRateLimit = 24 * time.Hour
