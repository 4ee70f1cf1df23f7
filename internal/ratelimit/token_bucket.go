// Package ratelimit provides a token bucket. The chat loop uses one to
// bound how often the host re-replies to retransmitted handshakes, so a
// spoofed source cannot use an established session as an amplifier.
package ratelimit

import (
	"sync"
	"time"
)

type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      int     // max tokens
	available  float64
	lastRefill time.Time
}

func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{
		rate:       rate,
		burst:      burst,
		available:  float64(burst),
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.available += elapsed * tb.rate
	if tb.available > float64(tb.burst) {
		tb.available = float64(tb.burst)
	}
	tb.lastRefill = now
}

// Allow consumes n tokens if available and returns true, otherwise false.
func (tb *TokenBucket) Allow(n int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(time.Now())
	if tb.available >= float64(n) {
		tb.available -= float64(n)
		return true
	}
	return false
}
