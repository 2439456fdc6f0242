package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers a fixed method table over a real WebSocket.
type fakeGateway struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conn  *websocket.Conn
	calls []string
}

func (f *fakeGateway) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.mu.Lock()
		f.calls = append(f.calls, req.Method)
		f.mu.Unlock()

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "authenticate":
			resp["result"] = map[string]string{"session_id": "s-1", "mud_name": "TestMUD"}
		case "ping":
			resp["result"] = map[string]interface{}{"pong": true}
		case "tell":
			resp["result"] = map[string]bool{"sent": true}
		case "who":
			resp["result"] = map[string]interface{}{
				"mud": "OtherMUD",
				"users": []map[string]interface{}{
					{"name": "bob", "idle": 12, "level": 30, "extra": "the Brave"},
				},
			}
		case "locate":
			resp["result"] = map[string]interface{}{
				"found": true, "mud": "FarMUD", "user": "Merlin", "status": "online",
			}
		default:
			resp["error"] = map[string]interface{}{"code": -32601, "message": "no such method"}
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (f *fakeGateway) pushEvent(ev map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0", "method": "event", "params": ev,
	})
}

func startFake(t *testing.T) (*fakeGateway, string) {
	t.Helper()
	fg := &fakeGateway{t: t}
	srv := httptest.NewServer(http.HandlerFunc(fg.handler))
	t.Cleanup(srv.Close)
	return fg, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialAuthenticatesAndCalls(t *testing.T) {
	fg, url := startFake(t)
	c, err := Dial(context.Background(), Config{
		URL: url, Token: "x", MudName: "TestMUD", UserName: "alice",
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Tell(context.Background(), "OtherMUD", "bob", "hi"))

	fg.mu.Lock()
	calls := append([]string(nil), fg.calls...)
	fg.mu.Unlock()
	assert.Equal(t, []string{"authenticate", "ping", "tell"}, calls)
}

func TestTypedWhoAndLocate(t *testing.T) {
	_, url := startFake(t)
	c, err := Dial(context.Background(), Config{
		URL: url, Token: "x", MudName: "TestMUD", UserName: "alice",
	})
	require.NoError(t, err)
	defer c.Close()

	users, err := c.Who(context.Background(), "OtherMUD", nil)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Name)
	assert.Equal(t, 30, users[0].Level)

	loc, err := c.Locate(context.Background(), "merlin")
	require.NoError(t, err)
	assert.True(t, loc.Found)
	assert.Equal(t, "FarMUD", loc.Mud)
}

func TestRPCErrorSurface(t *testing.T) {
	_, url := startFake(t)
	c, err := Dial(context.Background(), Config{
		URL: url, Token: "x", MudName: "TestMUD", UserName: "alice",
	})
	require.NoError(t, err)
	defer c.Close()

	err = c.Call(context.Background(), "nope", nil, nil)
	var rpcE *RPCError
	require.ErrorAs(t, err, &rpcE)
	assert.Equal(t, -32601, rpcE.Code)
}

func TestEventCallback(t *testing.T) {
	fg, url := startFake(t)
	events := make(chan *Event, 1)
	c, err := Dial(context.Background(), Config{
		URL: url, Token: "x", MudName: "TestMUD", UserName: "alice",
		OnEvent: func(ev *Event) { events <- ev },
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, fg.pushEvent(map[string]interface{}{
		"id": "e-1", "type": "tell_received",
		"data": map[string]interface{}{"from_user": "bob"},
	}))

	select {
	case ev := <-events:
		assert.Equal(t, "tell_received", ev.Type)
		assert.Equal(t, "bob", ev.Data["from_user"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestCallAfterClose(t *testing.T) {
	_, url := startFake(t)
	c, err := Dial(context.Background(), Config{
		URL: url, Token: "x", MudName: "TestMUD", UserName: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), ErrClosed)
}
