package gateway

import (
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting for MCP tool calls.
type RateLimiter struct {
	callBucket *tokenBucket
}

// tokenBucket implements a simple token bucket algorithm.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter allowing callsPerMinute tool calls.
func NewRateLimiter(callsPerMinute int) *RateLimiter {
	return &RateLimiter{
		callBucket: &tokenBucket{
			tokens:     float64(callsPerMinute),
			maxTokens:  float64(callsPerMinute),
			refillRate: float64(callsPerMinute) / 60.0,
			lastRefill: time.Now(),
		},
	}
}

// AllowCall checks if a tool call is allowed under the rate limit.
func (rl *RateLimiter) AllowCall() bool {
	return rl.callBucket.take(1)
}

// take attempts to consume n tokens, refilling based on elapsed time first.
func (tb *tokenBucket) take(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now

	if tb.tokens < n {
		return false
	}
	tb.tokens -= n
	return true
}
