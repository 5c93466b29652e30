// Package ratelimit throttles API callers with one token bucket per
// authenticated subject.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out token buckets keyed by caller. Buckets are created
// on first use and refill at a sustained hourly rate.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	refill rate.Limit
	burst  int
}

// New creates a limiter allowing requestsPerHour sustained requests per
// caller, with bursts up to burst.
func New(requestsPerHour, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		refill:  rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:   burst,
	}
}

// Allow reports whether the caller may proceed, along with how many
// tokens the caller has left for response headers.
func (l *Limiter) Allow(caller string) (bool, int) {
	b := l.bucket(caller)
	ok := b.Allow()

	remaining := int(b.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return ok, remaining
}

func (l *Limiter) bucket(caller string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, found := l.buckets[caller]
	if !found {
		b = rate.NewLimiter(l.refill, l.burst)
		l.buckets[caller] = b
	}
	return b
}
