package server

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per remote address using a token bucket
// per address, grounded on the teacher's internal/filetransfer/ratelimit.go
// use of golang.org/x/time/rate — there the bucket paces one transfer's
// bytes/sec, here it paces one address's requests/sec.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter builds a limiter where each distinct remote address gets
// its own bucket refilling at refillRate tokens/sec up to capacity tokens.
func NewRateLimiter(capacity int, refillRate float64) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(refillRate),
		burst:    capacity,
	}
}

func (rl *RateLimiter) limiterFor(addr string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[addr]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[addr] = l
	}
	return l
}

// Allow reports whether a request from addr may proceed right now,
// consuming one token if so.
func (rl *RateLimiter) Allow(addr string) bool {
	return rl.limiterFor(addr).Allow()
}

// Wrap returns next decorated with the per-address rate limit, rejecting
// over-budget requests with 429 before the request ever reaches the
// encryption middleware or a handler.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := remoteAddr(r)
		if !rl.Allow(addr) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
