package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned once a key has used its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps failures talking to Redis.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds the budget of a Limiter.
type Config struct {
	Prefix string
	// Max is the number of attempts allowed per window.
	Max    int
	Window time.Duration
}

// Limiter enforces Config.Max attempts per Config.Window per key.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by client.
func New(client redis.UniversalClient, cfg Config) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return nil, errors.New("rate limiter requires Max and Window > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &Limiter{redis: client, config: cfg}, nil
}

// Check reports ErrRateLimited when key has already used its budget. It
// does not count an attempt.
func (l *Limiter) Check(ctx context.Context, key string) error {
	n, err := l.Attempts(ctx, key)
	if err != nil {
		return err
	}
	if n >= l.config.Max {
		return ErrRateLimited
	}
	return nil
}

// Hit counts an attempt for key and returns ErrRateLimited once the count
// exceeds the budget.
func (l *Limiter) Hit(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, l.key(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.PExpire(ctx, l.key(key), l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count > int64(l.config.Max) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the attempts counted in the current window. A missing
// key counts as zero.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) key(k string) string {
	return l.config.Prefix + ":" + k
}
