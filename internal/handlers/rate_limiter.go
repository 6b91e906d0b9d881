package handlers

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"finitefield.org/usermapping/internal/platform/auth"
	"finitefield.org/usermapping/internal/platform/httpx"
)

// callerLimiter hands each caller a token bucket holding limit requests that refills over window.
type callerLimiter struct {
	every rate.Limit
	burst int
	idle  time.Duration
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(limit int, window time.Duration, clock func() time.Time) *callerLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &callerLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

// reserve takes a token for key, or reports how long until one is available.
func (l *callerLimiter) reserve(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.clock()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		l.evictIdle(now)
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// evictIdle drops buckets untouched for a whole window; they would be full again anyway.
func (l *callerLimiter) evictIdle(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, key)
		}
	}
}

// Allow is reserve without the wait.
func (l *callerLimiter) Allow(key string) bool {
	ok, _ := l.reserve(key)
	return ok
}

// RateLimitMiddleware lets each caller make limit requests per window, keyed by verified service
// identity or else the remote address. A non-positive limit disables it.
func RateLimitMiddleware(limit int, window time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	limiter := newCallerLimiter(limit, window, clock)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, wait := limiter.reserve(rateLimitKey(r)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				httpx.WriteError(r.Context(), w, httpx.NewError(httpx.CodeRateLimited, "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if identity, ok := auth.ServiceIdentityFromContext(r.Context()); ok {
		if caller := identity.Caller(); caller != "" {
			return "caller:" + caller
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.Trim(r.RemoteAddr, "[]")
	}
	return "ip:" + host
}
