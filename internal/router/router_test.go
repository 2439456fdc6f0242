package router

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudnet/i3-gateway/internal/lpc"
	"github.com/mudnet/i3-gateway/internal/mudmode"
)

func testRng() *rand.Rand { return rand.New(rand.NewSource(1)) }

func TestBackoffSchedule(t *testing.T) {
	rng := testRng()
	r := &Info{Name: "r1"}
	assert.Equal(t, time.Duration(0), r.Backoff(rng))

	cases := []struct {
		failures int
		base     time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{6, 160 * time.Second},
		{7, 300 * time.Second},
		{20, 300 * time.Second},
	}
	for _, tc := range cases {
		r.mu.Lock()
		r.failureCount = tc.failures
		r.mu.Unlock()
		b := r.Backoff(rng)
		assert.GreaterOrEqual(t, b, tc.base, "failures=%d", tc.failures)
		assert.LessOrEqual(t, b, tc.base+tc.base/10, "failures=%d", tc.failures)
	}
}

func TestCanAttempt(t *testing.T) {
	rng := testRng()
	r := &Info{Name: "r1"}
	now := time.Now()
	assert.True(t, r.CanAttempt(now, rng))

	r.recordAttempt(now)
	r.recordFailure()
	assert.False(t, r.CanAttempt(now.Add(time.Second), rng))
	assert.True(t, r.CanAttempt(now.Add(6*time.Second), rng))

	r.recordSuccess(now)
	assert.True(t, r.CanAttempt(now, rng))
}

// pipeDialer returns a dialer handing out the client half of a pipe and a
// channel delivering the server halves.
func pipeDialer() (Dialer, chan net.Conn) {
	serverSide := make(chan net.Conn, 4)
	return func(ctx context.Context, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		serverSide <- server
		return client, nil
	}, serverSide
}

func TestConnectAndSend(t *testing.T) {
	dial, servers := pipeDialer()
	m, err := NewManager(Config{
		MudName: "TestMUD",
		Routers: []*Info{{Name: "*i4", Address: "198.51.100.1", Port: 8080}},
		Dialer:  dial,
	})
	require.NoError(t, err)
	m.WithRand(testRng())

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	require.Equal(t, StateConnected, m.State())
	assert.Equal(t, "*i4", m.CurrentRouter().Name)

	server := <-servers
	got := make(chan lpc.Value, 1)
	go func() {
		framer := mudmode.NewFramer()
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			if n > 0 {
				values, _ := framer.Feed(buf[:n])
				for _, v := range values {
					got <- v
				}
			}
			if err != nil {
				return
			}
		}
	}()

	require.NoError(t, m.Send(lpc.Array{lpc.Str("ping")}))
	select {
	case v := <-got:
		arr, ok := v.(lpc.Array)
		require.True(t, ok)
		assert.Equal(t, lpc.Str("ping"), arr[0])
	case <-time.After(time.Second):
		t.Fatal("server never received the frame")
	}
	assert.Equal(t, uint64(1), m.Stats().PacketsSent)
}

func TestReceiveCallback(t *testing.T) {
	dial, servers := pipeDialer()
	got := make(chan lpc.Value, 1)
	m, err := NewManager(Config{
		MudName: "TestMUD",
		Routers: []*Info{{Name: "*i4", Address: "198.51.100.1", Port: 8080}},
		Dialer:  dial,
		OnValue: func(v lpc.Value) { got <- v },
	})
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	server := <-servers
	frame, err := mudmode.Frame(lpc.Array{lpc.Str("mudlist"), lpc.Int(5)})
	require.NoError(t, err)
	_, err = server.Write(frame)
	require.NoError(t, err)

	select {
	case v := <-got:
		arr := v.(lpc.Array)
		assert.Equal(t, lpc.Str("mudlist"), arr[0])
	case <-time.After(time.Second):
		t.Fatal("OnValue never fired")
	}
	assert.Equal(t, uint64(1), m.Stats().PacketsReceived)
}

func TestFailoverToSecondRouter(t *testing.T) {
	var calls []string
	serverSide := make(chan net.Conn, 1)
	dial := func(ctx context.Context, addr string) (net.Conn, error) {
		calls = append(calls, addr)
		if addr == "198.51.100.1:8080" {
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		serverSide <- server
		return client, nil
	}
	m, err := NewManager(Config{
		MudName: "TestMUD",
		Routers: []*Info{
			{Name: "primary", Address: "198.51.100.1", Port: 8080, Priority: 0},
			{Name: "fallback", Address: "198.51.100.2", Port: 8080, Priority: 1},
		},
		Dialer: dial,
	})
	require.NoError(t, err)
	m.WithRand(testRng())

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	assert.Equal(t, []string{"198.51.100.1:8080", "198.51.100.2:8080"}, calls)
	assert.Equal(t, "fallback", m.CurrentRouter().Name)
	assert.Equal(t, 1, m.cfg.Routers[0].FailureCount())
}

func TestSendRejectedWhenDisconnected(t *testing.T) {
	dial, _ := pipeDialer()
	m, err := NewManager(Config{
		MudName: "TestMUD",
		Routers: []*Info{{Name: "*i4", Address: "198.51.100.1", Port: 8080}},
		Dialer:  dial,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Send(lpc.Int(1)), ErrNotConnected)
}

func TestOnConnectedAndStateProgression(t *testing.T) {
	dial, _ := pipeDialer()
	connected := make(chan struct{})
	m, err := NewManager(Config{
		MudName:     "TestMUD",
		Routers:     []*Info{{Name: "*i4", Address: "198.51.100.1", Port: 8080}},
		Dialer:      dial,
		OnConnected: func(*Manager) { close(connected) },
	})
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	<-connected
	m.BeginAuth()
	assert.Equal(t, StateAuthenticating, m.State())
	m.SetReady()
	assert.Equal(t, StateReady, m.State())
}

func TestSubscribedChannelsSurviveDisconnect(t *testing.T) {
	dial, _ := pipeDialer()
	m, err := NewManager(Config{
		MudName: "TestMUD",
		Routers: []*Info{{Name: "*i4", Address: "198.51.100.1", Port: 8080}},
		Dialer:  dial,
	})
	require.NoError(t, err)
	m.SubscribeChannel("intergossip")
	m.SubscribeChannel("intermud")
	m.UnsubscribeChannel("intermud")

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	assert.Equal(t, []string{"intergossip"}, m.SubscribedChannels())
}

func TestGenericPool(t *testing.T) {
	var created, closed int
	var mu sync.Mutex
	p, err := NewPool(context.Background(), PoolConfig[*int]{
		MinSize:        1,
		MaxSize:        2,
		AcquireTimeout: 50 * time.Millisecond,
		Factory: func(context.Context) (*int, error) {
			mu.Lock()
			defer mu.Unlock()
			created++
			n := created
			return &n, nil
		},
		Close: func(*int) {
			mu.Lock()
			defer mu.Unlock()
			closed++
		},
	})
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	// Pool is at capacity; a third acquire times out.
	_, err = p.Acquire(context.Background())
	assert.Error(t, err)

	p.Release(a)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, c)
}

func TestPoolValidateDiscards(t *testing.T) {
	var created int
	p, err := NewPool(context.Background(), PoolConfig[*int]{
		MaxSize:        2,
		AcquireTimeout: 100 * time.Millisecond,
		Factory: func(context.Context) (*int, error) {
			created++
			n := created
			return &n, nil
		},
		Validate: func(v *int) bool { return *v != 1 },
	})
	require.NoError(t, err)
	defer p.Close()

	v, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, *v)
}

func TestManagerPoolRoundRobin(t *testing.T) {
	dial, _ := pipeDialer()
	mk := func() *Manager {
		m, err := NewManager(Config{
			MudName: "TestMUD",
			Routers: []*Info{{Name: "*i4", Address: "198.51.100.1", Port: 8080}},
			Dialer:  dial,
		})
		require.NoError(t, err)
		return m
	}
	a, b, c := mk(), mk(), mk()
	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	defer a.Disconnect()
	defer c.Disconnect()

	mp := NewManagerPool([]*Manager{a, b, c})
	first := mp.GetConnection()
	second := mp.GetConnection()
	third := mp.GetConnection()
	assert.Same(t, a, first)
	assert.Same(t, c, second) // b skipped: not connected
	assert.Same(t, a, third)
}
