package scanner

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidRate indicates a negative rate or burst passed to SetRate.
var ErrInvalidRate = errors.New("rate and burst must be non-negative")

// RateLimiter is a token bucket shared by every probe worker. A rate of
// zero disables limiting entirely. Refill is computed lazily from elapsed
// time on each acquisition; there is no background timer.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second, 0 = unlimited
	capacity   float64
	tokens     float64
	lastRefill time.Time

	totalAcquired uint64
	throttled     uint64
}

// RateStats is a point-in-time snapshot of limiter state, taken under the
// same lock that guards mutation.
type RateStats struct {
	Rate          float64 `json:"rate"`
	Burst         float64 `json:"burst"`
	Tokens        float64 `json:"tokens"`
	TotalAcquired uint64  `json:"total_acquired"`
	Throttled     uint64  `json:"throttled"`
}

// NewRateLimiter creates a limiter admitting rate tokens per second with
// the given burst capacity. A zero burst defaults to twice the rate.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate < 0 {
		rate = 0
	}
	if burst <= 0 {
		burst = rate * 2
	}
	return &RateLimiter{
		rate:       rate,
		capacity:   burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refillLocked tops up the bucket from elapsed wall-clock time.
// Caller must hold mu.
func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed > 0 {
		rl.tokens = min(rl.capacity, rl.tokens+elapsed*rl.rate)
	}
	rl.lastRefill = now
}

// Acquire blocks until n tokens are available, then debits them. It
// returns the total time spent waiting. The sleep happens outside the
// lock and the token level is re-checked afterwards, so concurrent
// debits and spurious wakes are handled by retrying.
func (rl *RateLimiter) Acquire(n int) time.Duration {
	need := float64(n)
	var waited time.Duration
	for {
		rl.mu.Lock()
		if rl.rate == 0 {
			rl.totalAcquired += uint64(n)
			rl.mu.Unlock()
			return waited
		}
		rl.refillLocked(time.Now())
		if rl.tokens >= need {
			rl.tokens -= need
			rl.totalAcquired += uint64(n)
			rl.mu.Unlock()
			return waited
		}
		if waited == 0 {
			rl.throttled++
		}
		missing := need - rl.tokens
		wait := time.Duration(missing / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		time.Sleep(wait)
		waited += wait
	}
}

// TryAcquire attempts to debit n tokens without blocking.
func (rl *RateLimiter) TryAcquire(n int) bool {
	need := float64(n)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.rate == 0 {
		rl.totalAcquired += uint64(n)
		return true
	}
	rl.refillLocked(time.Now())
	if rl.tokens >= need {
		rl.tokens -= need
		rl.totalAcquired += uint64(n)
		return true
	}
	rl.throttled++
	return false
}

// SetRate atomically replaces the refill rate and bucket capacity.
// Current tokens are clamped to the new capacity. Negative values are
// rejected and the prior configuration is retained. A zero burst
// defaults to twice the rate.
func (rl *RateLimiter) SetRate(rate, burst float64) error {
	if rate < 0 || burst < 0 {
		return ErrInvalidRate
	}
	if burst == 0 {
		burst = rate * 2
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	wasUnlimited := rl.rate == 0
	rl.rate = rate
	rl.capacity = burst
	if wasUnlimited || rl.tokens > burst {
		// No token accounting happens while unlimited, so start the
		// bucket full when limiting is (re-)enabled.
		rl.tokens = burst
	}
	return nil
}

// Stats returns a snapshot of current limiter state.
func (rl *RateLimiter) Stats() RateStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())
	return RateStats{
		Rate:          rl.rate,
		Burst:         rl.capacity,
		Tokens:        rl.tokens,
		TotalAcquired: rl.totalAcquired,
		Throttled:     rl.throttled,
	}
}
