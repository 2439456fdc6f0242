package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func testConfig() *Config {
	return &Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
		OnStateChange:    func(string, State, State) {},
	}
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig())
	require.Equal(t, StateClosed, cb.State())

	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, cb.State())

	// Rejected without invoking the protected function.
	invoked := false
	err := cb.Execute(func() error { invoked = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
	assert.Equal(t, uint64(1), cb.Counts().Rejected)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := New(testConfig())
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Error(t, cb.Execute(func() error { return errBoom }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpenHalfOpenClosed(t *testing.T) {
	cb := New(testConfig())
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(110 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Error(t, cb.Execute(func() error { return errBoom }))
	time.Sleep(110 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.Error(t, cb.Execute(func() error { return errBoom }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestPanicCountsAsFailure(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 2; i++ {
		assert.Panics(t, func() {
			_ = cb.Execute(func() error { panic("handler blew up") })
		})
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestManager(t *testing.T) {
	m := NewManager(testConfig())
	a := m.Get("router")
	b := m.Get("router")
	assert.Same(t, a, b)

	c := m.Get("webhook")
	assert.NotSame(t, a, c)
	assert.Equal(t, "webhook", c.Name())

	states := m.States()
	assert.Equal(t, "CLOSED", states["router"])
	assert.Equal(t, "CLOSED", states["webhook"])
}
