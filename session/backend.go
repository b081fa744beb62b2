package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for absent keys, covering never-saved, expired
	// and deleted sessions alike.
	ErrNotFound = errors.New("session not found")
	// ErrCacheUnavailable wraps every backend transport or server failure.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("session record corrupt")
	// ErrIndexUnsupported is returned for principal operations on a backend
	// without an Indexer.
	ErrIndexUnsupported = errors.New("session backend does not support principal index")
)

// NoExpiry is reported by Backend.TTL for keys without a TTL.
const NoExpiry time.Duration = -1

// Backend is the key-value store sessions are kept in.
//
// A ttl of zero on Set or Replace stores the key without expiry. Failures
// other than a missing key must wrap ErrCacheUnavailable.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Replace writes value only if key exists and returns ErrNotFound otherwise.
	Replace(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// TTL reports the remaining lifetime, NoExpiry, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Indexer is implemented by backends that can track which session keys
// belong to a principal.
type Indexer interface {
	// SetIndexed stores key like Set and adds member to the set at indexKey.
	// The index never expires before its longest-lived member.
	SetIndexed(ctx context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) error
	Members(ctx context.Context, indexKey string) ([]string, error)
}
