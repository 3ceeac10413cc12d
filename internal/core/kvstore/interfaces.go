// Package kvstore abstracts the durable key-value store backing
// presence, chat state and event history. The contract is the minimal
// Redis-shaped primitive set the realtime core needs: values, sets and
// sorted sets with TTLs, plus hash fields with atomic increments. Any
// backend offering these suffices.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or hash field does not exist or
// has expired.
var ErrNotFound = errors.New("key not found")

// Store is the durable store contract. A ttl of zero or less means the
// entry never expires. Mutations are single-key; no cross-key atomicity
// is provided or expected.
type Store interface {
	// Set stores a value under key with an optional TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key of any kind. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// SAdd adds a member to the set at key and refreshes the set's TTL.
	SAdd(ctx context.Context, key, member string, ttl time.Duration) error

	// SRem removes a member from the set at key.
	SRem(ctx context.Context, key, member string) error

	// SMembers returns all members of the set at key. A missing set is
	// an empty result, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SCard returns the cardinality of the set at key.
	SCard(ctx context.Context, key string) (int64, error)

	// ZAdd adds a member with a score to the sorted set at key and
	// refreshes the set's TTL.
	ZAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error

	// ZRangeByScore returns members with min <= score <= max ordered by
	// score ascending, or descending when reverse is set. A limit of
	// zero or less means unbounded.
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int, reverse bool) ([]string, error)

	// ZRem removes a single member from the sorted set at key.
	ZRem(ctx context.Context, key, member string) error

	// ZRemRangeByScore removes members with min <= score <= max and
	// returns how many were removed.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)

	// ZCard returns the cardinality of the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// ZRemRangeByRank removes members by ascending rank range
	// (0-based, inclusive) and returns how many were removed.
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error)

	// HSet writes hash fields under key and refreshes the hash's TTL.
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// HGet returns one hash field, or ErrNotFound.
	HGet(ctx context.Context, key, field string) (string, error)

	// HGetAll returns all fields of the hash at key. A missing hash is
	// an empty result, not an error.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HIncrBy atomically increments a numeric hash field, creating it
	// at delta if absent, and returns the new value.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// Prune drops expired entries eagerly and returns how many were
	// removed. Backends with native TTL enforcement may no-op.
	Prune(ctx context.Context) (int64, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
