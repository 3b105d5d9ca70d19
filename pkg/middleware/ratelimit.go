package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/manawiki/sitepulse/pkg/httputil"
	"github.com/manawiki/sitepulse/pkg/observability"
)

// maxTrackedClients bounds the in-process limiter's memory
const maxTrackedClients = 10000

// RateLimitConfig allows Limit requests per Window for each key
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

func (c RateLimitConfig) normalize() RateLimitConfig {
	if c.Limit < 1 {
		c.Limit = 1
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	return c
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is how long until another request would be allowed
	Reset time.Duration
}

// Limiter decides whether the request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// LocalLimiter is a per-process token bucket per key. Idle keys are evicted.
type LocalLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	buckets *lru.LRU[string, *rate.Limiter]
	now     func() time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(config RateLimitConfig) *LocalLimiter {
	config = config.normalize()
	return &LocalLimiter{
		config:  config,
		buckets: lru.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, 2*config.Window),
		now:     time.Now,
	}
}

// Allow implements Limiter. It never returns an error.
func (l *LocalLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	bucket := l.bucket(key)

	allowed := bucket.AllowN(now, 1)
	tokens := bucket.TokensAt(now)

	d := Decision{
		Allowed:   allowed,
		Limit:     l.config.Limit,
		Remaining: int(math.Max(0, math.Floor(tokens))),
	}
	if tokens < 1 {
		perToken := l.config.Window / time.Duration(l.config.Limit)
		d.Reset = time.Duration((1 - tokens) * float64(perToken))
	}
	return d, nil
}

func (l *LocalLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	every := rate.Every(l.config.Window / time.Duration(l.config.Limit))
	b := rate.NewLimiter(every, l.config.Limit)
	l.buckets.Add(key, b)
	return b
}

// RateLimit rejects requests over the limiter's budget with 429. Keys are the
// client IP. A limiter error lets the request through.
func RateLimit(limiter Limiter, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + ClientIP(r)

			d, err := limiter.Allow(r.Context(), key)
			if err != nil {
				metrics.RateLimitTotal.WithLabelValues("error").Inc()
				observability.FromContext(r.Context()).WithError(err).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if d.Reset > 0 {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.Reset).Unix(), 10))
			}

			if !d.Allowed {
				metrics.RateLimitTotal.WithLabelValues("limited").Inc()
				retryAfter := int(math.Ceil(d.Reset.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded, retry in %ds", retryAfter))
				return
			}

			metrics.RateLimitTotal.WithLabelValues("allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the originating client address: the first X-Forwarded-For
// hop, then X-Real-IP, then the connection's remote host
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
