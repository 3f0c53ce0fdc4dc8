package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	limit      rate.Limit
	burst      int
	maxClients int
	trustProxy bool
}

// NewRateLimiter allows requestsPerMinute per IP with bursts up to burst.
func NewRateLimiter(requestsPerMinute, burst int, trustProxy bool) *RateLimiter {
	if burst <= 0 {
		burst = requestsPerMinute
	}
	return &RateLimiter{
		visitors:   make(map[string]*visitor),
		limit:      rate.Limit(float64(requestsPerMinute) / 60),
		burst:      burst,
		maxClients: 10000,
		trustProxy: trustProxy,
	}
}

// Allow reports whether a request from ip may proceed. New IPs are refused
// once maxClients are tracked.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		if len(rl.visitors) >= rl.maxClients {
			rl.mu.Unlock()
			return false
		}
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()
	return v.limiter.Allow()
}

// EvictStale removes clients not seen within maxAge.
func (rl *RateLimiter) EvictStale(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(RemoteIP(r, rl.trustProxy)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RemoteIP extracts the client IP from the request. X-Forwarded-For is only
// trusted behind a known reverse proxy.
func RemoteIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
