package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mudnet/i3-gateway/internal/lpc"
	"github.com/mudnet/i3-gateway/internal/metrics"
	"github.com/mudnet/i3-gateway/internal/mudmode"
	"github.com/mudnet/i3-gateway/internal/packet"
)

// State of the upstream connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateReady
	StateError
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateReady:
		return "READY"
	case StateError:
		return "ERROR"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

var ErrNotConnected = errors.New("router: not connected")

// Dialer opens the TCP connection; tests substitute net.Pipe.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Config wires the manager to the rest of the gateway. OnValue receives
// every framed LPC value in wire order; OnConnected fires after the TCP
// connect so the caller can start the startup handshake.
type Config struct {
	MudName           string
	Routers           []*Info
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	MaxFrameSize      int

	Dialer         Dialer
	OnValue        func(lpc.Value)
	OnConnected    func(m *Manager)
	OnDisconnected func()
	// Keepalive sends whatever no-op traffic keeps the router from
	// dropping an idle connection.
	Keepalive func(m *Manager) error

	Metrics *metrics.Metrics
}

// Stats is a point-in-time snapshot of the manager's counters.
type Stats struct {
	State           string    `json:"state"`
	CurrentRouter   string    `json:"current_router"`
	PacketsSent     uint64    `json:"packets_sent"`
	PacketsReceived uint64    `json:"packets_received"`
	Reconnects      uint64    `json:"reconnects"`
	ConnectedSince  time.Time `json:"connected_since,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

// Manager owns the single upstream session and its receive and keepalive
// loops. All state transitions happen inside the manager.
type Manager struct {
	cfg    Config
	logger *log.Logger

	state atomic.Int32

	mu             sync.Mutex
	conn           net.Conn
	current        *Info
	connectedSince time.Time
	lastError      string
	subscribed     map[string]bool
	cancelLoops    context.CancelFunc

	rngMu sync.Mutex
	rng   *rand.Rand

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	reconnects      atomic.Uint64
}

// NewManager validates the config and applies defaults.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Routers) == 0 {
		return nil, errors.New("router: no routers configured")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 60 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &Manager{
		cfg:        cfg,
		logger:     log.New(log.Writer(), "[ROUTER] ", log.LstdFlags),
		subscribed: make(map[string]bool),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// WithRand replaces the jitter source, for deterministic tests.
func (m *Manager) WithRand(r *rand.Rand) *Manager {
	m.rngMu.Lock()
	m.rng = r
	m.rngMu.Unlock()
	return m
}

// State returns the current connection state.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old != s {
		slog.Info("router state change", "from", old.String(), "to", s.String())
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RouterState.Set(float64(s))
		}
	}
}

// CurrentRouter returns the router of the live connection, or nil.
func (m *Manager) CurrentRouter() *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Connect walks the routers in ascending priority and dials the first
// eligible one. On success the receive and keepalive loops start and the
// state becomes CONNECTED. With every router exhausted it returns an error
// and the state becomes ERROR.
func (m *Manager) Connect(ctx context.Context) error {
	if s := m.State(); s == StateClosing {
		return fmt.Errorf("router: connect while %s", s)
	}
	m.setState(StateConnecting)

	routers := append([]*Info(nil), m.cfg.Routers...)
	sort.SliceStable(routers, func(i, j int) bool { return routers[i].Priority < routers[j].Priority })

	now := time.Now()
	var lastErr error
	for i, r := range routers {
		m.rngMu.Lock()
		eligible := r.CanAttempt(now, m.rng)
		m.rngMu.Unlock()
		if !eligible {
			continue
		}
		r.recordAttempt(now)

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		conn, err := m.cfg.Dialer(dialCtx, fmt.Sprintf("%s:%d", r.Address, r.Port))
		cancel()
		if err != nil {
			r.recordFailure()
			lastErr = err
			m.mu.Lock()
			m.lastError = err.Error()
			m.mu.Unlock()
			m.logger.Printf("connect to %s (%s:%d) failed: %v", r.Name, r.Address, r.Port, err)
			continue
		}

		if i > 0 && m.cfg.Metrics != nil {
			m.cfg.Metrics.RouterFailovers.Inc()
		}
		r.recordSuccess(time.Now())
		loopCtx, cancelLoops := context.WithCancel(context.Background())
		m.mu.Lock()
		m.conn = conn
		m.current = r
		m.connectedSince = time.Now()
		m.cancelLoops = cancelLoops
		m.mu.Unlock()
		m.setState(StateConnected)
		m.logger.Printf("connected to %s (%s:%d)", r.Name, r.Address, r.Port)

		go m.receiveLoop(loopCtx, conn)
		go m.keepaliveLoop(loopCtx)
		if m.cfg.OnConnected != nil {
			m.cfg.OnConnected(m)
		}
		return nil
	}

	m.setState(StateError)
	if lastErr == nil {
		lastErr = errors.New("router: all routers in backoff")
	}
	return fmt.Errorf("router: connect failed: %w", lastErr)
}

// Run keeps the manager connected until ctx is cancelled: connect, wait
// for loss, back off, reconnect. Subscribed channels survive reconnects.
func (m *Manager) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || m.State() == StateClosing {
			return
		}
		if err := m.Connect(ctx); err != nil {
			m.reconnects.Add(1)
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.RouterReconnects.Inc()
			}
			wait := m.minBackoff()
			m.logger.Printf("reconnect in %s: %v", wait, err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		// Connected; wait for the connection to drop.
		select {
		case <-m.connDone():
		case <-ctx.Done():
			m.Disconnect()
			return
		}
	}
}

// connDone returns a channel closed when the current loops stop.
func (m *Manager) connDone() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for m.State() == StateConnected || m.State() == StateAuthenticating || m.State() == StateReady {
			time.Sleep(100 * time.Millisecond)
		}
		close(ch)
	}()
	return ch
}

func (m *Manager) minBackoff() time.Duration {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	min := backoffMax
	for _, r := range m.cfg.Routers {
		if b := r.Backoff(m.rng); b < min {
			min = b
		}
	}
	if min <= 0 {
		min = time.Second
	}
	return min
}

// BeginAuth marks the startup handshake as in flight.
func (m *Manager) BeginAuth() { m.setState(StateAuthenticating) }

// SetReady marks the handshake complete; called when startup-reply arrives.
func (m *Manager) SetReady() { m.setState(StateReady) }

// Send encodes an LPC value with the MudMode framing and writes it. It is
// rejected unless the state admits traffic.
func (m *Manager) Send(v lpc.Value) error {
	switch m.State() {
	case StateConnected, StateAuthenticating, StateReady:
	default:
		return ErrNotConnected
	}
	data, err := mudmode.Frame(v)
	if err != nil {
		return fmt.Errorf("router: frame: %w", err)
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if _, err := conn.Write(data); err != nil {
		m.connectionLost(fmt.Errorf("write: %w", err))
		return fmt.Errorf("router: write: %w", err)
	}
	m.packetsSent.Add(1)
	return nil
}

// SendPacket encodes a typed packet and sends it.
func (m *Manager) SendPacket(p packet.Packet) error {
	v, err := packet.Encode(p)
	if err != nil {
		return fmt.Errorf("router: encode %s: %w", p.Hdr().Type, err)
	}
	if err := m.Send(v); err != nil {
		return err
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.PacketsSent.WithLabelValues(p.Hdr().Type).Inc()
	}
	return nil
}

func (m *Manager) receiveLoop(ctx context.Context, conn net.Conn) {
	framer := mudmode.NewFramer()
	if m.cfg.MaxFrameSize > 0 {
		framer.SetMaxFrameSize(m.cfg.MaxFrameSize)
	}
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			values, ferr := framer.Feed(buf[:n])
			for _, v := range values {
				m.packetsReceived.Add(1)
				if m.cfg.OnValue != nil {
					m.cfg.OnValue(v)
				}
			}
			if ferr != nil {
				m.connectionLost(fmt.Errorf("framing: %w", ferr))
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				m.connectionLost(err)
			}
			return
		}
	}
}

func (m *Manager) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if m.State() != StateReady && m.State() != StateConnected {
				continue
			}
			if m.cfg.Keepalive != nil {
				if err := m.cfg.Keepalive(m); err != nil {
					m.logger.Printf("keepalive failed: %v", err)
					continue
				}
			}
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.KeepalivesSent.Inc()
			}
		case <-ctx.Done():
			return
		}
	}
}

// connectionLost tears down the live connection and returns the manager to
// DISCONNECTED so Run can schedule a reconnect.
func (m *Manager) connectionLost(cause error) {
	m.mu.Lock()
	conn := m.conn
	current := m.current
	cancel := m.cancelLoops
	m.conn = nil
	m.current = nil
	if cause != nil {
		m.lastError = cause.Error()
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	conn.Close()
	if current != nil {
		current.recordFailure()
	}
	if m.State() != StateClosing {
		m.setState(StateDisconnected)
	}
	m.logger.Printf("connection lost: %v", cause)
	if m.cfg.OnDisconnected != nil {
		m.cfg.OnDisconnected()
	}
}

// Disconnect closes the session deliberately; no reconnect is scheduled
// until Connect or Run is called again.
func (m *Manager) Disconnect() {
	m.setState(StateClosing)
	m.mu.Lock()
	conn := m.conn
	cancel := m.cancelLoops
	m.conn = nil
	m.current = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	m.setState(StateDisconnected)
}

// Reconnect drops the current connection and dials again immediately.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.connectionLost(errors.New("reconnect requested"))
	m.reconnects.Add(1)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RouterReconnects.Inc()
	}
	return m.Connect(ctx)
}

// SubscribeChannel records a channel this gateway listens to so it can be
// re-subscribed after a reconnect.
func (m *Manager) SubscribeChannel(name string) {
	m.mu.Lock()
	m.subscribed[name] = true
	m.mu.Unlock()
}

// UnsubscribeChannel forgets a channel subscription.
func (m *Manager) UnsubscribeChannel(name string) {
	m.mu.Lock()
	delete(m.subscribed, name)
	m.mu.Unlock()
}

// SubscribedChannels returns the channels to re-subscribe after reconnect.
func (m *Manager) SubscribedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subscribed))
	for name := range m.subscribed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stats snapshots the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	current := ""
	if m.current != nil {
		current = m.current.Name
	}
	since := m.connectedSince
	lastErr := m.lastError
	m.mu.Unlock()
	return Stats{
		State:           m.State().String(),
		CurrentRouter:   current,
		PacketsSent:     m.packetsSent.Load(),
		PacketsReceived: m.packetsReceived.Load(),
		Reconnects:      m.reconnects.Load(),
		ConnectedSince:  since,
		LastError:       lastErr,
	}
}
