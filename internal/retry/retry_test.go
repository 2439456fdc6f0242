package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoStopsOnSuccess(t *testing.T) {
	r := New(Config{MaxAttempts: 5, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsMaxAttempts(t *testing.T) {
	r := New(Config{MaxAttempts: 4, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	r := New(Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		RetryIf:      func(err error) bool { return errors.Is(err, errTransient) },
	})
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 2 {
			return fatal
		}
		return errTransient
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 2, calls)
}

func TestDoCancellable(t *testing.T) {
	r := New(Config{MaxAttempts: 10, InitialDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func(context.Context) error { return errTransient })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("retry did not respond to cancellation")
	}
}

func TestDelaysMonotone(t *testing.T) {
	for _, strat := range []Strategy{Fixed, Linear, Exponential, Fibonacci} {
		r := New(Config{MaxAttempts: 8, InitialDelay: 10 * time.Millisecond, Strategy: strat})
		var prev time.Duration
		for attempt := 2; attempt <= 8; attempt++ {
			d := r.Delay(attempt, prev)
			assert.GreaterOrEqual(t, d, prev, "strategy %d attempt %d", strat, attempt)
			prev = d
		}
	}
}

func TestDelaySequences(t *testing.T) {
	lin := New(Config{InitialDelay: 10 * time.Millisecond, Strategy: Linear})
	assert.Equal(t, 10*time.Millisecond, lin.Delay(2, 0))
	assert.Equal(t, 20*time.Millisecond, lin.Delay(3, 0))

	exp := New(Config{InitialDelay: 10 * time.Millisecond, Strategy: Exponential, Base: 3})
	assert.Equal(t, 10*time.Millisecond, exp.Delay(2, 0))
	assert.Equal(t, 30*time.Millisecond, exp.Delay(3, 0))
	assert.Equal(t, 90*time.Millisecond, exp.Delay(4, 0))

	fibr := New(Config{InitialDelay: 10 * time.Millisecond, Strategy: Fibonacci})
	want := []time.Duration{10, 10, 20, 30, 50, 80}
	for i, w := range want {
		assert.Equal(t, w*time.Millisecond, fibr.Delay(i+2, 0))
	}
}

func TestDelayCapAndClamp(t *testing.T) {
	r := New(Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Strategy: Exponential})
	assert.Equal(t, 3*time.Second, r.Delay(10, 0))
	assert.Equal(t, time.Duration(0), r.Delay(1, 0))
}

func TestDecorrelatedJitterBounds(t *testing.T) {
	r := New(Config{InitialDelay: 10 * time.Millisecond, Strategy: DecorrelatedJitter})
	r.WithRand(rand.New(rand.NewSource(42)))
	prev := 10 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := r.Delay(2, prev)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, prev*3)
		prev = d
	}
}

func TestJitterStaysNearDelay(t *testing.T) {
	r := New(Config{InitialDelay: 100 * time.Millisecond, Strategy: Fixed, Jitter: true})
	r.WithRand(rand.New(rand.NewSource(7)))
	for i := 0; i < 50; i++ {
		d := r.Delay(2, 0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
