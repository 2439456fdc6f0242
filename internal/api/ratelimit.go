package api

import (
	"sync"
	"time"
)

// tokenBucket is a per-connection rate limiter: perMin tokens refill over
// each minute, each request takes one.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refill   float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

func newTokenBucket(perMin int) *tokenBucket {
	cap := float64(perMin)
	b := &tokenBucket{
		tokens:   cap,
		capacity: cap,
		refill:   cap / 60.0,
		now:      time.Now,
	}
	b.last = b.now()
	return b
}

// Allow takes a token if one is available.
func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.tokens += now.Sub(b.last).Seconds() * b.refill
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
