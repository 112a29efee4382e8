package rate

import (
	"crypto/ed25519"
	"sync"

	"github.com/mr-tron/base58"
	"golang.org/x/time/rate"
)

// Limiter limits operations performed on behalf of an account.
type Limiter interface {
	Allow(account ed25519.PublicKey) bool
}

type perAccountLimiter struct {
	limit rate.Limit
	burst int

	sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPerAccountLimiter returns an in memory limiter that allows each account
// up to burst operations at once, refilled at limit operations per second.
func NewPerAccountLimiter(limit rate.Limit, burst int) Limiter {
	if burst < 1 {
		burst = 1
	}

	return &perAccountLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements Limiter.Allow.
func (l *perAccountLimiter) Allow(account ed25519.PublicKey) bool {
	key := base58.Encode(account)

	l.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.Unlock()

	return limiter.Allow()
}

// NoLimiter never limits operations
type NoLimiter struct {
}

// Allow implements Limiter.Allow.
func (n *NoLimiter) Allow(_ ed25519.PublicKey) bool {
	return true
}
