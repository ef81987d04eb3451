package ratelimit

import (
	"sync"
	"time"
)

// scale is the number of fixed-point units per token. A fill rate of N
// tokens/sec then adds exactly N units per elapsed nanosecond.
const scale int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket limits an event rate to fillRate tokens/sec with bursts of up to
// capacity tokens. It is safe for concurrent use.
//
// Balances are kept in fixed point so a refill never loses fractional tokens
// to float rounding.
type TokenBucket struct {
	clock Clock

	capacity int64 // units
	fillRate int64 // tokens/sec == units/ns

	mu      sync.Mutex
	balance int64 // units
	last    time.Time
}

// NewTokenBucket returns a full bucket. A nil clock means RealClock.
// Negative arguments are treated as zero; a zero-capacity bucket denies every
// positive request.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if fillRate < 0 {
		fillRate = 0
	}
	capacity := toUnits(capacityTokens)
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		fillRate: fillRate,
		balance:  capacity,
		last:     clock.Now(),
	}
}

// Allow takes n tokens if the bucket holds at least n. n <= 0 always
// succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toUnits(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.balance < cost {
		return false
	}
	b.balance -= cost
	return true
}

// Tokens reports the whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock.Now())
	return b.balance / scale
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	b.last = now
	if elapsed <= 0 || b.fillRate == 0 || b.balance >= b.capacity {
		// Clock steps backwards only move the reference point.
		return
	}

	missing := b.capacity - b.balance
	// elapsed*fillRate may overflow; compare against the time needed to fill.
	if int64(elapsed) >= missing/b.fillRate+1 {
		b.balance = b.capacity
		return
	}
	b.balance += int64(elapsed) * b.fillRate
	if b.balance > b.capacity {
		b.balance = b.capacity
	}
}

func toUnits(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/scale:
		return maxInt64
	default:
		return tokens * scale
	}
}
