package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate of each client's bucket
	RequestsPerSecond float64
	// BurstSize is the bucket capacity
	BurstSize int
	// KeyExtractor extracts the key for rate limiting
	KeyExtractor func(*http.Request) string
	// SkipPaths contains paths that should not be rate limited
	SkipPaths []string
	// IdleTimeout drops buckets unused for this long
	IdleTimeout time.Duration
}

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	config  RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewRateLimiter creates a limiter, filling unset fields with defaults
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}
	if config.KeyExtractor == nil {
		config.KeyExtractor = IPKeyExtractor
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = time.Hour
	}
	return &RateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*TokenBucket),
	}
}

// Allow consumes a token for key
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, exists := l.buckets[key]
	if !exists {
		bucket = &TokenBucket{
			tokens:     float64(l.config.BurstSize),
			capacity:   float64(l.config.BurstSize),
			refillRate: l.config.RequestsPerSecond,
			lastRefill: now,
		}
		l.buckets[key] = bucket
	}

	return bucket.allow(now)
}

// Cleanup removes buckets that have been idle for longer than IdleTimeout
func (l *RateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastRefill) > l.config.IdleTimeout {
			delete(l.buckets, key)
		}
	}
}

// allow checks if a token is available and consumes it
func (tb *TokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Middleware returns the rate limiting middleware
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	limit := fmt.Sprintf("%.0f", l.config.RequestsPerSecond)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skipPath := range l.config.SkipPaths {
				if r.URL.Path == skipPath {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			if !l.Allow(l.config.KeyExtractor(r)) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyExtractor uses the client IP as the rate limiting key. X-Forwarded-For
// is only trusted from loopback and private addresses.
func IPKeyExtractor(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)

	if ip := net.ParseIP(remoteIP); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// The first IP is the original client
			parts := strings.SplitN(xff, ",", 2)
			if clientIP := strings.TrimSpace(parts[0]); clientIP != "" {
				return clientIP
			}
		}
	}

	return remoteIP
}

// stripPort removes the port from an address like "192.168.1.1:12345"
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
