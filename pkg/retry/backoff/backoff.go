// Package backoff provides the delay strategies used when polling or retrying
// RPC calls.
package backoff

import (
	"math"
	"time"
)

// Strategy returns how long to wait before the next attempt. Attempts start
// at 1.
type Strategy func(attempts uint) time.Duration

// Constant returns a strategy that always waits the same interval. Confirmation
// polling uses it so that every poll is evenly spaced.
func Constant(interval time.Duration) Strategy {
	return func(_ uint) time.Duration {
		return interval
	}
}

// BinaryExponential returns a strategy that doubles the delay on every attempt.
//
// delay = baseDelay * 2^(attempts - 1)
// Ex. BinaryExponential(time.Second) = 1s, 2s, 4s, 8s, ...
//
// Delays that would overflow a time.Duration saturate at math.MaxInt64.
func BinaryExponential(baseDelay time.Duration) Strategy {
	return func(attempts uint) time.Duration {
		if attempts == 0 {
			attempts = 1
		}

		shift := attempts - 1
		if shift >= 63 || baseDelay > time.Duration(math.MaxInt64>>shift) {
			return math.MaxInt64
		}

		return baseDelay << shift
	}
}
