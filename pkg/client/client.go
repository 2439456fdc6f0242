// Package client is the reference Go client for the gateway's JSON-RPC
// WebSocket surface. It handles request/response correlation, event
// callbacks and optional automatic reconnection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mudnet/i3-gateway/internal/retry"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("client: connection closed")

// Event is a server push, mirrored from the gateway's event bus.
type Event struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	Time time.Time              `json:"time"`
	Data map[string]interface{} `json:"data"`
}

// RPCError is a JSON-RPC error returned by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %d: %s", e.Code, e.Message)
}

// Config tunes a Client.
type Config struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8081/ws.
	URL string
	// Token, MudName and UserName feed the authenticate call.
	Token    string
	MudName  string
	UserName string
	// CallTimeout bounds each RPC round trip. Defaults to 10s.
	CallTimeout time.Duration
	// Reconnect enables automatic redial with exponential backoff.
	Reconnect bool
	// OnEvent receives server pushes. Called from the read loop; do not
	// block.
	OnEvent func(*Event)
	// OnDisconnect fires when the connection drops, before any redial.
	OnDisconnect func(error)
}

// Client is a connected gateway session.
type Client struct {
	cfg    Config
	logger *log.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	pendMu  sync.Mutex
	pending map[int64]chan *response
	nextID  atomic.Int64

	closed  atomic.Bool
	done    chan struct{}
	retrier *retry.Retrier
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Dial connects, starts the read loop and authenticates.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[I3CLIENT] ", log.LstdFlags),
		pending: make(map[int64]chan *response),
		done:    make(chan struct{}),
		retrier: retry.New(retry.Config{
			MaxAttempts:  8,
			InitialDelay: time.Second,
			MaxDelay:     2 * time.Minute,
			Strategy:     retry.Exponential,
			Jitter:       true,
		}),
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.Authenticate(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.cfg.URL, err)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	go c.readLoop(conn)
	return nil
}

// Close shuts the session down. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	c.failPending()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) failPending() {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call performs one JSON-RPC round trip and decodes the result into out
// when out is non-nil.
func (c *Client) Call(ctx context.Context, method string, params, out interface{}) error {
	if c.closed.Load() {
		return ErrClosed
	}
	id := c.nextID.Add(1)
	ch := make(chan *response, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	c.writeMu.Lock()
	conn := c.conn
	var err error
	if conn == nil {
		err = ErrClosed
	} else {
		err = conn.WriteJSON(&req)
	}
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("client: %s: %w", method, err)
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil {
			return json.Unmarshal(resp.Result, out)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("client: %s: timed out after %s", method, c.cfg.CallTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			c.handleDrop(err)
			return
		}
		switch {
		case resp.Method == "event":
			if c.cfg.OnEvent != nil {
				var ev Event
				if err := json.Unmarshal(resp.Params, &ev); err == nil {
					c.cfg.OnEvent(&ev)
				}
			}
		case resp.ID != nil:
			c.pendMu.Lock()
			ch, ok := c.pending[*resp.ID]
			c.pendMu.Unlock()
			if ok {
				ch <- &resp
			}
		}
	}
}

// handleDrop runs when the socket dies: notify, then redial forever if
// configured.
func (c *Client) handleDrop(err error) {
	if c.closed.Load() {
		return
	}
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(err)
	}
	if !c.cfg.Reconnect {
		c.Close()
		return
	}
	c.logger.Printf("connection lost (%v), reconnecting", err)
	go c.redial()
}

func (c *Client) redial() {
	ctx := context.Background()
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		if c.closed.Load() {
			return nil
		}
		if err := c.connect(ctx); err != nil {
			return err
		}
		return c.Authenticate(ctx)
	})
	if err != nil {
		c.logger.Printf("reconnect abandoned: %v", err)
		c.Close()
	}
}

// ===== TYPED CALLS =====

// AuthResult is the authenticate reply.
type AuthResult struct {
	SessionID string `json:"session_id"`
	MudName   string `json:"mud_name"`
}

// Authenticate establishes the session identity. Dial calls it for you.
func (c *Client) Authenticate(ctx context.Context) error {
	params := map[string]string{
		"token":     c.cfg.Token,
		"mud_name":  c.cfg.MudName,
		"user_name": c.cfg.UserName,
	}
	var res AuthResult
	return c.Call(ctx, "authenticate", params, &res)
}

// Tell sends a private message to a user on another mud.
func (c *Client) Tell(ctx context.Context, targetMud, targetUser, message string) error {
	return c.Call(ctx, "tell", map[string]string{
		"target_mud": targetMud, "target_user": targetUser, "message": message,
	}, nil)
}

// Emoteto sends a private emote.
func (c *Client) Emoteto(ctx context.Context, targetMud, targetUser, message string) error {
	return c.Call(ctx, "emoteto", map[string]string{
		"target_mud": targetMud, "target_user": targetUser, "message": message,
	}, nil)
}

// ChannelSend broadcasts a message on a channel.
func (c *Client) ChannelSend(ctx context.Context, channel, message string) error {
	return c.Call(ctx, "channel_send", map[string]string{
		"channel": channel, "message": message,
	}, nil)
}

// ChannelEmote broadcasts an emote on a channel.
func (c *Client) ChannelEmote(ctx context.Context, channel, message string) error {
	return c.Call(ctx, "channel_emote", map[string]string{
		"channel": channel, "message": message,
	}, nil)
}

// ChannelJoin subscribes the mud to a channel.
func (c *Client) ChannelJoin(ctx context.Context, channel string) error {
	return c.Call(ctx, "channel_join", map[string]string{"channel": channel}, nil)
}

// ChannelLeave unsubscribes the mud from a channel.
func (c *Client) ChannelLeave(ctx context.Context, channel string) error {
	return c.Call(ctx, "channel_leave", map[string]string{"channel": channel}, nil)
}

// ChannelInfo is one row of a channel_list reply.
type ChannelInfo struct {
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	Type         int    `json:"type"`
	Listening    int    `json:"listening"`
	MessageCount int64  `json:"message_count"`
}

// ChannelList returns the known channel directory.
func (c *Client) ChannelList(ctx context.Context) ([]ChannelInfo, error) {
	var res struct {
		Channels []ChannelInfo `json:"channels"`
	}
	if err := c.Call(ctx, "channel_list", nil, &res); err != nil {
		return nil, err
	}
	return res.Channels, nil
}

// ChannelWho lists who listens to a channel, locally or on a remote mud.
func (c *Client) ChannelWho(ctx context.Context, channel, mud string) ([]string, error) {
	var res struct {
		Users []string `json:"users"`
	}
	params := map[string]string{"channel": channel}
	if mud != "" {
		params["mud"] = mud
	}
	if err := c.Call(ctx, "channel_who", params, &res); err != nil {
		return nil, err
	}
	return res.Users, nil
}

// WhoUser is one row of a who reply.
type WhoUser struct {
	Name  string `json:"name"`
	Idle  int    `json:"idle"`
	Level int    `json:"level"`
	Extra string `json:"extra"`
}

// Who queries the online users of a remote mud.
func (c *Client) Who(ctx context.Context, targetMud string, filter map[string]interface{}) ([]WhoUser, error) {
	var res struct {
		Users []WhoUser `json:"users"`
	}
	params := map[string]interface{}{"target_mud": targetMud}
	if len(filter) > 0 {
		params["filter"] = filter
	}
	if err := c.Call(ctx, "who", params, &res); err != nil {
		return nil, err
	}
	return res.Users, nil
}

// Finger queries one user's profile on a remote mud.
func (c *Client) Finger(ctx context.Context, targetMud, user string) (map[string]interface{}, error) {
	var res struct {
		Info map[string]interface{} `json:"info"`
	}
	params := map[string]string{"target_mud": targetMud, "user": user}
	if err := c.Call(ctx, "finger", params, &res); err != nil {
		return nil, err
	}
	return res.Info, nil
}

// LocateResult is the locate reply.
type LocateResult struct {
	Found    bool   `json:"found"`
	Mud      string `json:"mud"`
	User     string `json:"user"`
	IdleTime int    `json:"idle_time"`
	Status   string `json:"status"`
}

// Locate searches the whole network for a user.
func (c *Client) Locate(ctx context.Context, user string) (*LocateResult, error) {
	var res LocateResult
	if err := c.Call(ctx, "locate", map[string]string{"user": user}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Mud is one row of a mudlist reply.
type Mud struct {
	Name       string         `json:"name"`
	Address    string         `json:"address"`
	PlayerPort int            `json:"player_port"`
	Status     string         `json:"status"`
	Driver     string         `json:"driver,omitempty"`
	MudType    string         `json:"mud_type,omitempty"`
	Services   map[string]int `json:"services"`
}

// Mudlist returns the known muds.
func (c *Client) Mudlist(ctx context.Context, onlineOnly bool) ([]Mud, error) {
	var res struct {
		Muds []Mud `json:"muds"`
	}
	if err := c.Call(ctx, "mudlist", map[string]bool{"online_only": onlineOnly}, &res); err != nil {
		return nil, err
	}
	return res.Muds, nil
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, "ping", nil, nil)
}

// Status returns the gateway's condensed health view.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	var res map[string]interface{}
	if err := c.Call(ctx, "status", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Stats returns the gateway's counters.
func (c *Client) Stats(ctx context.Context) (map[string]interface{}, error) {
	var res map[string]interface{}
	if err := c.Call(ctx, "stats", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}
