// Package router manages the upstream connection to an Intermud-3 router:
// priority-ordered failover across configured routers, exponential backoff
// per router, keepalive, and the framed receive loop.
package router

import (
	"math/rand"
	"sync"
	"time"
)

const (
	backoffBase = 5 * time.Second
	backoffMax  = 300 * time.Second
)

// Info tracks one configured upstream router and its recent connect
// history. The manager consults CanAttempt before each dial.
type Info struct {
	mu sync.Mutex

	Name     string
	Address  string
	Port     int
	Priority int

	lastAttempt  time.Time
	lastSuccess  time.Time
	failureCount int
}

// Backoff returns the wait imposed after failureCount consecutive failures:
// 5s doubling per failure, capped at 300s, plus up to 10% jitter.
func (r *Info) Backoff(rng *rand.Rand) time.Duration {
	r.mu.Lock()
	n := r.failureCount
	r.mu.Unlock()
	if n == 0 {
		return 0
	}
	d := backoffBase << (n - 1)
	if n > 7 || d > backoffMax {
		d = backoffMax
	}
	jitter := time.Duration(rng.Int63n(int64(d)/10 + 1))
	return d + jitter
}

// CanAttempt reports whether enough time has passed since the last failed
// attempt. A router with no failures is always eligible.
func (r *Info) CanAttempt(now time.Time, rng *rand.Rand) bool {
	r.mu.Lock()
	n := r.failureCount
	last := r.lastAttempt
	r.mu.Unlock()
	if n == 0 {
		return true
	}
	return now.Sub(last) >= r.Backoff(rng)
}

func (r *Info) recordAttempt(now time.Time) {
	r.mu.Lock()
	r.lastAttempt = now
	r.mu.Unlock()
}

func (r *Info) recordSuccess(now time.Time) {
	r.mu.Lock()
	r.lastSuccess = now
	r.failureCount = 0
	r.mu.Unlock()
}

func (r *Info) recordFailure() {
	r.mu.Lock()
	r.failureCount++
	r.mu.Unlock()
}

// FailureCount returns the consecutive failure count, for stats.
func (r *Info) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureCount
}
