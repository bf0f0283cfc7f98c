package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// entries are only pruned once the map grows past this size
	cleanupThreshold = 500
	maxIdleAge       = 10 * time.Minute
)

// NewLimiter returns a token bucket refilling at perSecond up to burst.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiters hands out one limiter per key (IP address or connection
// handle) and prunes idle keys inline.
type ClientLimiters struct {
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	mu       sync.Mutex
	now      func() time.Time
}

func NewClientLimiters(perSecond float64, burst int) *ClientLimiters {
	return &ClientLimiters{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (cl *ClientLimiters) Get(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := cl.now()
	if len(cl.limiters) > cleanupThreshold {
		cutoff := now.Add(-maxIdleAge)
		for k, e := range cl.limiters {
			if e.lastSeen.Before(cutoff) {
				delete(cl.limiters, k)
			}
		}
	}

	e, ok := cl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(cl.rate, cl.burst)}
		cl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (cl *ClientLimiters) Allow(key string) bool {
	return cl.Get(key).Allow()
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware rejects requests over the per-IP budget with 429. The optional
// onLimit writes the rejection; a plain-text 429 is used otherwise.
func Middleware(limiters *ClientLimiters, onLimit http.HandlerFunc) func(http.Handler) http.Handler {
	if onLimit == nil {
		onLimit = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.Allow(ClientIP(r)) {
				onLimit(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
