// Package retry provides bounded retries with pluggable backoff strategies.
// The random source is injected so tests can make backoff deterministic.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	Fixed Strategy = iota
	Linear
	Exponential
	Fibonacci
	// DecorrelatedJitter draws each delay from uniform(initial, prev*3).
	// The optional ±25% jitter flag is ignored for this strategy; it is
	// already randomized.
	DecorrelatedJitter
)

// Config tunes a Retrier.
type Config struct {
	// MaxAttempts bounds the number of function invocations (≥1).
	MaxAttempts int
	// InitialDelay seeds the backoff sequence.
	InitialDelay time.Duration
	// MaxDelay caps every computed delay. Zero means no cap.
	MaxDelay time.Duration
	Strategy Strategy
	// Base is the exponential growth factor; defaults to 2.
	Base float64
	// Jitter applies ±25% noise to each delay.
	Jitter bool
	// RetryIf decides whether an error is retryable. nil retries all.
	RetryIf func(error) bool
}

// Retrier executes functions under a Config.
type Retrier struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Retrier, filling in defaults for zero config fields.
func New(cfg Config) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.Base <= 1 {
		cfg.Base = 2
	}
	return &Retrier{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the random source, for deterministic tests.
func (r *Retrier) WithRand(rng *rand.Rand) *Retrier {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng = rng
	return r
}

// Delay computes the sleep before attempt n (1-based; attempt 1 has no
// sleep). prev is the previous delay, which only the decorrelated strategy
// consults. The result is capped at MaxDelay and clamped non-negative.
func (r *Retrier) Delay(attempt int, prev time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	initial := r.cfg.InitialDelay
	var d time.Duration
	switch r.cfg.Strategy {
	case Fixed:
		d = initial
	case Linear:
		d = time.Duration(attempt-1) * initial
	case Exponential:
		d = initial
		for i := 2; i < attempt; i++ {
			d = time.Duration(float64(d) * r.cfg.Base)
		}
	case Fibonacci:
		d = time.Duration(fib(attempt-1)) * initial
	case DecorrelatedJitter:
		if prev < initial {
			prev = initial
		}
		d = initial + time.Duration(r.rand63n(int64(prev*3-initial)+1))
	}
	if r.cfg.Jitter && r.cfg.Strategy != DecorrelatedJitter {
		// ±25%
		noise := (r.randFloat()*0.5 - 0.25) * float64(d)
		d += time.Duration(noise)
	}
	if r.cfg.MaxDelay > 0 && d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Do invokes fn until it succeeds, a non-retryable error occurs, the
// attempt budget is spent, or ctx is cancelled. Sleeps are cancellable.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	var prev time.Duration
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if d := r.Delay(attempt, prev); d > 0 {
			prev = d
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if r.cfg.RetryIf != nil && !r.cfg.RetryIf(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (r *Retrier) rand63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63n(n)
}

func (r *Retrier) randFloat() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func fib(n int) int64 {
	a, b := int64(1), int64(1)
	for i := 1; i < n; i++ {
		a, b = b, a+b
	}
	return a
}
