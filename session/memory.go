package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend and Indexer. Expired keys are
// dropped lazily on access.
type MemoryBackend struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
	sets    map[string]memorySet
}

// NewMemoryBackend returns an empty backend. A nil clock uses time.Now.
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{
		now:     now,
		entries: make(map[string]memoryEntry),
		sets:    make(map[string]memorySet),
	}
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

func (b *MemoryBackend) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return b.now().Add(ttl)
}

// lookup must be called with b.mu held.
func (b *MemoryBackend) lookup(key string) (memoryEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if expired(e.expiresAt, b.now()) {
		delete(b.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set implements Backend.
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: b.deadline(ttl)}
	return nil
}

// Replace implements Backend.
func (b *MemoryBackend) Replace(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.lookup(key); !ok {
		return ErrNotFound
	}
	b.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: b.deadline(ttl)}
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range keys {
		delete(b.entries, k)
		delete(b.sets, k)
	}
	return nil
}

// TTL implements Backend.
func (b *MemoryBackend) TTL(_ context.Context, key string) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return NoExpiry, nil
	}
	return e.expiresAt.Sub(b.now()), nil
}

// SetIndexed implements Indexer.
func (b *MemoryBackend) SetIndexed(_ context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := b.deadline(ttl)
	b.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: deadline}

	set, ok := b.sets[indexKey]
	if !ok || expired(set.expiresAt, b.now()) {
		set = memorySet{members: make(map[string]struct{}), expiresAt: deadline}
	} else if !set.expiresAt.IsZero() && (deadline.IsZero() || deadline.After(set.expiresAt)) {
		set.expiresAt = deadline
	}
	set.members[member] = struct{}{}
	b.sets[indexKey] = set
	return nil
}

// Members implements Indexer.
func (b *MemoryBackend) Members(_ context.Context, indexKey string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.sets[indexKey]
	if !ok {
		return []string{}, nil
	}
	if expired(set.expiresAt, b.now()) {
		delete(b.sets, indexKey)
		return []string{}, nil
	}
	out := make([]string, 0, len(set.members))
	for m := range set.members {
		out = append(out, m)
	}
	return out, nil
}

// Len reports the number of live keys. Intended for tests and diagnostics.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	now := b.now()
	for _, e := range b.entries {
		if !expired(e.expiresAt, now) {
			n++
		}
	}
	return n
}
