package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mudnet/i3-gateway/internal/config"
	"github.com/mudnet/i3-gateway/internal/gateway"
	"github.com/mudnet/i3-gateway/internal/metrics"
	"github.com/mudnet/i3-gateway/internal/shutdown"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Server hosts the downstream surface: JSON-RPC over WebSocket and over a
// newline-delimited TCP socket, plus health and metrics over plain HTTP.
type Server struct {
	cfg     *config.Config
	gw      *gateway.Gateway
	metrics *metrics.Metrics
	logger  *log.Logger

	tokenHashes map[string]string
	upgrader    websocket.Upgrader
	drain       *shutdown.Manager

	httpSrv *http.Server
	tcpLn   net.Listener

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// client is one downstream connection, WebSocket or TCP. The send channel
// decouples producers (RPC replies, event fan-out) from the socket writer.
type client struct {
	srv     *Server
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	remote  string
	limiter *tokenBucket

	mu            sync.Mutex
	authenticated bool
	userName      string
	sessionID     string
}

// NewServer wires the surface around an assembled gateway.
func NewServer(cfg *config.Config, gw *gateway.Gateway, m *metrics.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		gw:          gw,
		metrics:     m,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
		tokenHashes: cfg.Auth.TokenHashes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// WithDrain ties client connections into the shutdown manager's drain
// accounting: new connections are refused once draining begins.
func (s *Server) WithDrain(mgr *shutdown.Manager) *Server {
	s.drain = mgr
	return s
}

// Routes builds the HTTP router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Start brings up the HTTP listener, the TCP listener and the event fan-out.
// It returns once both listeners are bound.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	httpLn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	go func() {
		if err := s.httpSrv.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("http server: %v", err)
		}
	}()
	s.logger.Printf("websocket surface on %s", addr)

	if s.cfg.Gateway.TCPPort > 0 {
		tcpAddr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.TCPPort)
		ln, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("api: listen %s: %w", tcpAddr, err)
		}
		s.tcpLn = ln
		go s.acceptTCP(ctx)
		s.logger.Printf("tcp surface on %s", tcpAddr)
	}

	go s.fanOutEvents(ctx)
	return nil
}

// Shutdown closes the listeners and every live client connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// ===== HTTP =====

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.gw.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(s.gw.Status())
}

// ===== WEBSOCKET =====

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	c := s.newClient(r.RemoteAddr)
	if c == nil {
		conn.Close()
		return
	}
	// The request context dies when this handler returns; the pumps outlive
	// it.
	go c.wsWritePump(conn)
	go c.wsReadPump(context.Background(), conn)
}

func (c *client) wsReadPump(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.close()
		conn.Close()
	}()
	conn.SetReadLimit(int64(c.srv.cfg.Gateway.MaxPacketSize))
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if resp := c.handleMessage(ctx, data); resp != nil {
			c.push(resp)
		}
	}
}

func (c *client) wsWritePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ===== TCP =====

func (s *Server) acceptTCP(ctx context.Context) {
	for {
		conn, err := s.tcpLn.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				s.logger.Printf("tcp accept: %v", err)
			}
			return
		}
		c := s.newClient(conn.RemoteAddr().String())
		if c == nil {
			conn.Close()
			continue
		}
		go c.tcpWritePump(conn)
		go c.tcpReadPump(ctx, conn)
	}
}

func (c *client) tcpReadPump(ctx context.Context, conn net.Conn) {
	defer func() {
		c.close()
		conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), c.srv.cfg.Gateway.MaxPacketSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		if resp := c.handleMessage(ctx, data); resp != nil {
			c.push(resp)
		}
	}
}

func (c *client) tcpWritePump(conn net.Conn) {
	defer conn.Close()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if _, err := conn.Write(append(msg, '\n')); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ===== CLIENT LIFECYCLE =====

func (s *Server) newClient(remote string) *client {
	if s.drain != nil && !s.drain.ConnAdd() {
		return nil
	}
	c := &client{
		srv:     s,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		remote:  remote,
		limiter: newTokenBucket(s.cfg.Gateway.RateLimitPerMin),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if s.drain != nil {
			s.drain.ConnDone()
		}
		return nil
	}
	s.clients[c] = struct{}{}
	if s.metrics != nil {
		s.metrics.ClientsConnected.Inc()
	}
	return c
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.srv.mu.Lock()
		delete(c.srv.clients, c)
		c.srv.mu.Unlock()
		if c.srv.metrics != nil {
			c.srv.metrics.ClientsConnected.Dec()
		}
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()
		if sessionID != "" {
			c.srv.gw.Store.RemoveSession(sessionID)
		}
		if c.srv.drain != nil {
			c.srv.drain.ConnDone()
		}
	})
}

// push queues bytes for the writer. A slow client loses the message rather
// than stalling the producer.
func (c *client) push(msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
	}
}

// ===== EVENT FAN-OUT =====

// fanOutEvents forwards bus events to every authenticated client as JSON-RPC
// notifications.
func (s *Server) fanOutEvents(ctx context.Context) {
	ch := s.gw.Bus.Subscribe()
	defer s.gw.Bus.Unsubscribe(ch)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			note := Notification{JSONRPC: "2.0", Method: "event", Params: ev}
			data, err := json.Marshal(&note)
			if err != nil {
				continue
			}
			if s.metrics != nil {
				s.metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
			}
			s.mu.Lock()
			for c := range s.clients {
				if c.isAuthenticated() {
					c.push(data)
				}
			}
			s.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}
