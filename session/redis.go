package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const setIndexedScript = `
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
  redis.call("SET", KEYS[1], ARGV[1])
end

local fresh = redis.call("EXISTS", KEYS[2]) == 0
redis.call("SADD", KEYS[2], ARGV[3])
if ttl <= 0 then
  redis.call("PERSIST", KEYS[2])
  return 1
end

local current = redis.call("PTTL", KEYS[2])
if fresh or (current > 0 and current < ttl) then
  redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return 1
`

var setIndexedLua = redis.NewScript(setIndexedScript)

// RedisBackend stores sessions in Redis. TTLs are tracked with millisecond
// precision through PX and PTTL.
type RedisBackend struct {
	redis redis.UniversalClient
}

// NewRedisBackend wraps an existing client. The caller owns the client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{redis: client}
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return data, nil
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Replace implements Backend with SET XX.
func (b *RedisBackend) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ok, err := b.redis.SetXX(ctx, key, value, ttl).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete implements Backend. Missing keys are ignored.
func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := b.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// TTL implements Backend.
func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := b.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return NoExpiry, nil
	}
	return d, nil
}

// SetIndexed implements Indexer in a single script round-trip.
func (b *RedisBackend) SetIndexed(ctx context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) error {
	err := setIndexedLua.Run(ctx, b.redis, []string{key, indexKey}, value, ttlMillis(ttl), member).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Members implements Indexer.
func (b *RedisBackend) Members(ctx context.Context, indexKey string) ([]string, error) {
	members, err := b.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return members, nil
}

// Ping reports whether Redis is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ms := ttl.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms
}
