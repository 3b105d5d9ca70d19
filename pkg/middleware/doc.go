// Package middleware rate limits the public search endpoint per client IP.
//
// LocalLimiter keeps a token bucket per client in process. RedisLimiter keeps
// a fixed-window counter in Redis so that every replica shares one budget.
// Both satisfy Limiter, and RateLimit turns either into an HTTP middleware:
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.RateLimitConfig{Limit: 120, Window: time.Minute}, "")
//	router.Use(middleware.RateLimit(limiter, metrics))
//
// Rejected requests get 429 with Retry-After. When the limiter itself fails
// the request is let through.
package middleware
