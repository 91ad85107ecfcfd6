package api

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a client's bucket is kept after its last request.
const idleAfter = 2 * time.Minute

// RateLimiter keeps a token bucket per client. A client may spend its whole
// per-minute allowance in one burst, which is how drag sessions look, and
// then refills at limit/60 requests per second.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	now     func() time.Time
}

type clientBucket struct {
	lim      *rate.Limiter
	limit    int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{clients: make(map[string]*clientBucket), now: time.Now}
}

// Run drops idle buckets every few minutes until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// Allow reports whether key may make another request under limit requests
// per minute.
func (rl *RateLimiter) Allow(key string, limit int) bool {
	ok, _ := rl.reserve(key, limit)
	return ok
}

// reserve takes a token for key. When none is available it returns the
// wait until the next one.
func (rl *RateLimiter) reserve(key string, limit int) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.clients[key]
	if !ok || c.limit != limit {
		c = &clientBucket{
			lim:   rate.NewLimiter(rate.Limit(float64(limit)/60), limit),
			limit: limit,
		}
		rl.clients[key] = c
	}
	c.lastSeen = now

	if c.lim.AllowN(now, 1) {
		return true, 0
	}
	r := c.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idleAfter)
	for k, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, k)
		}
	}
}

// withWriteLimit rate-limits a mutating handler per client. Clients are told
// apart by bearer token when one is sent, otherwise by IP.
func (s *Server) withWriteLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, wait := s.rateLimiter.reserve(clientKey(r), s.config.RateLimitWrite)
		if !ok {
			logFor(r.Context()).Warn("rate limited", "path", r.URL.Path, "ip", clientIP(r), "retry_in", wait)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		handler(w, r)
	}
}

func clientKey(r *http.Request) string {
	if tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); tok != "" {
		return "key:" + tok
	}
	return "ip:" + clientIP(r)
}

// clientIP returns the first X-Forwarded-For hop, or the remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
