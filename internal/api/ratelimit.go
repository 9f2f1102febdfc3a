package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	bucketSweepInterval  = 5 * time.Minute
	bucketStaleThreshold = 10 * time.Minute

	// askTokenCost makes one ask request as expensive as several stats
	// reads. Each ask fans out to the embedding provider and the LLM,
	// so the per-IP budget tracks upstream cost rather than raw request
	// count.
	askTokenCost = 5
)

// rateLimiter applies a per-IP token bucket with path-weighted costs.
// Stale buckets are swept inline during allow calls, so no background
// goroutine is needed.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

// bucket pairs an IP's limiter with its last activity for staleness sweeps.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second per IP,
// with burst as the bucket capacity and initial allowance.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(r),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow reports whether a request from ip costing cost tokens fits in the
// IP's budget. A cost above the bucket capacity could never succeed, so it
// is clamped to the burst.
func (rl *rateLimiter) allow(ip string, cost int) bool {
	if cost < 1 {
		cost = 1
	}
	if cost > rl.burst {
		cost = rl.burst
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > bucketSweepInterval {
		rl.sweep(now)
	}

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, cost)
}

// sweep drops buckets idle longer than the stale threshold. Caller holds mu.
func (rl *rateLimiter) sweep(now time.Time) {
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > bucketStaleThreshold {
			delete(rl.buckets, ip)
		}
	}
	rl.lastSweep = now
}

// requestCost weighs a request by what it triggers upstream.
func requestCost(r *http.Request) int {
	if r.Method == http.MethodPost && r.URL.Path == "/api/v1/ask" {
		return askTokenCost
	}
	return 1
}

// rateLimitMiddleware rejects requests that exceed the per-IP token budget
// with 429 and a Retry-After hint.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip, requestCost(r)) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP used as the limiter key.
//
// With trustProxy set, X-Real-IP wins, then the first X-Forwarded-For hop.
// Both are validated with net.ParseIP so arbitrary header strings cannot
// become limiter keys. Without trustProxy only RemoteAddr is used.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
