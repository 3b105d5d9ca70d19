package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter shares a fixed-window counter per key across every replica
type RedisLimiter struct {
	redis  redis.UniversalClient
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter. Keys are stored under prefix.
func NewRedisLimiter(client redis.UniversalClient, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "sitepulse:ratelimit"
	}
	return &RedisLimiter{
		redis:  client,
		config: config.normalize(),
		prefix: prefix,
	}
}

// Allow implements Limiter. On a Redis error the decision allows the request
// and the error is returned alongside it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Limit: l.config.Limit}, fmt.Errorf("redis error: %w", err)
	}

	count := incr.Val()
	ttl := pttl.Val()

	// first hit of a window, or a key that lost its expiry
	if count == 1 || ttl < 0 {
		if err := l.redis.PExpire(ctx, redisKey, l.config.Window).Err(); err != nil {
			return Decision{Allowed: true, Limit: l.config.Limit}, fmt.Errorf("redis error: %w", err)
		}
		ttl = l.config.Window
	}

	remaining := l.config.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.config.Limit),
		Limit:     l.config.Limit,
		Remaining: remaining,
		Reset:     ttl,
	}, nil
}

// Reset clears the counter for a key
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}

// compile-time interface checks
var (
	_ Limiter = (*LocalLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

