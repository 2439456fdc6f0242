package api

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mudnet/i3-gateway/internal/config"
	"github.com/mudnet/i3-gateway/internal/gateway"
	"github.com/mudnet/i3-gateway/internal/shutdown"
	"github.com/mudnet/i3-gateway/internal/state"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Mud.Name = "TestMUD"
	cfg.Mud.Port = 4000
	cfg.Router.Primary.Host = "i3.example.net"
	cfg.Router.Primary.Port = 8080
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 8081
	cfg.Gateway.TCPPort = 8082
	cfg.Gateway.MaxPacketSize = 1 << 20
	cfg.Gateway.Timeout = 5 * time.Second
	cfg.Gateway.RateLimitPerMin = 120
	cfg.Gateway.QueueSize = 100
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config) (*client, *gateway.Gateway) {
	t.Helper()
	gw, err := gateway.New(cfg, nil)
	require.NoError(t, err)
	srv := NewServer(cfg, gw, nil)
	c := srv.newClient("test")
	require.NotNil(t, c)
	return c, gw
}

type testResponse struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      json.RawMessage        `json:"id"`
	Result  map[string]interface{} `json:"result"`
	Error   *RPCError              `json:"error"`
}

func roundTrip(t *testing.T, c *client, msg string) *testResponse {
	t.Helper()
	data := c.handleMessage(context.Background(), []byte(msg))
	if data == nil {
		return nil
	}
	var resp testResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return &resp
}

func authClient(t *testing.T, c *client) {
	t.Helper()
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":1,"method":"authenticate","params":{"token":"x","mud_name":"TestMUD","user_name":"alice"}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
}

func TestParseErrorResponse(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	resp := roundTrip(t, c, `{not json`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParse, resp.Error.Code)
}

func TestMissingMethod(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":1}`)
	require.NotNil(t, resp)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestUnauthenticatedRejected(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnauthorized, resp.Error.Code)
}

func TestAuthenticateWithoutHashesAcceptsAnyToken(t *testing.T) {
	c, gw := newTestClient(t, testConfig())
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":1,"method":"authenticate","params":{"token":"anything","mud_name":"TestMUD","user_name":"alice"}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.Result["session_id"])
	assert.Equal(t, "TestMUD", resp.Result["mud_name"])

	sess, ok := gw.Store.FindUser("alice")
	require.True(t, ok)
	assert.True(t, sess.Authenticated)
}

func TestAuthenticateBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Auth.TokenHashes = map[string]string{"TestMUD": string(hash)}
	c, _ := newTestClient(t, cfg)

	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":1,"method":"authenticate","params":{"token":"wrong","mud_name":"TestMUD","user_name":"alice"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnauthorized, resp.Error.Code)

	resp = roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"authenticate","params":{"token":"sekrit","mud_name":"TestMUD","user_name":"alice"}}`)
	require.Nil(t, resp.Error)

	resp = roundTrip(t, c, `{"jsonrpc":"2.0","id":3,"method":"authenticate","params":{"token":"sekrit","mud_name":"NoSuchMUD","user_name":"alice"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnauthorized, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	authClient(t, c)
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"frobnicate"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestNotificationGetsNoResponse(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	authClient(t, c)
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","method":"ping"}`)
	assert.Nil(t, resp)
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	authClient(t, c)
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, true, resp.Result["pong"])
}

func TestRateLimit(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	authClient(t, c)
	c.limiter = newTokenBucket(1)
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	require.Nil(t, resp.Error)
	resp = roundTrip(t, c, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRateLimited, resp.Error.Code)
}

func TestTellRequiresUpstream(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	authClient(t, c)
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"tell","params":{"target_mud":"OtherMUD","target_user":"bob","message":"hi"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUpstreamDown, resp.Error.Code)
}

func TestTellInvalidParams(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	authClient(t, c)
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"tell","params":{"target_mud":"OtherMUD"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestMudlist(t *testing.T) {
	c, gw := newTestClient(t, testConfig())
	authClient(t, c)
	gw.Store.UpdateMudlist(map[string]*state.MudInfo{
		"UpMUD":   {Name: "UpMUD", Status: state.StatusUp},
		"DownMUD": {Name: "DownMUD", Status: state.StatusDown},
	}, 7)

	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"mudlist"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, float64(7), resp.Result["mudlist_id"])
	assert.Len(t, resp.Result["muds"], 2)

	resp = roundTrip(t, c, `{"jsonrpc":"2.0","id":3,"method":"mudlist","params":{"online_only":true}}`)
	require.Nil(t, resp.Error)
	assert.Len(t, resp.Result["muds"], 1)
}

func TestChannelListAndHistory(t *testing.T) {
	c, gw := newTestClient(t, testConfig())
	authClient(t, c)
	gw.Store.AddChannel("intergossip", "*i3", state.ChannelPublic)
	for i := 0; i < 3; i++ {
		gw.Store.RecordChannelMessage(state.ChannelRecord{
			Channel: "intergossip", FromMud: "OtherMUD", FromUser: "bob",
			Visname: "Bob", Message: fmt.Sprintf("msg %d", i), Timestamp: time.Now(),
		})
	}

	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"channel_list"}`)
	require.Nil(t, resp.Error)
	channels := resp.Result["channels"].([]interface{})
	require.Len(t, channels, 1)
	first := channels[0].(map[string]interface{})
	assert.Equal(t, "intergossip", first["name"])
	assert.Equal(t, float64(3), first["message_count"])

	resp = roundTrip(t, c, `{"jsonrpc":"2.0","id":3,"method":"channel_history","params":{"channel":"intergossip","limit":2}}`)
	require.Nil(t, resp.Error)
	assert.Len(t, resp.Result["history"], 2)
}

func TestChannelWhoLocal(t *testing.T) {
	c, gw := newTestClient(t, testConfig())
	authClient(t, c)
	sess := gw.Store.CreateSession("TestMUD", "bob")
	gw.Store.SetSessionListening(sess.SessionID, "intergossip", true)

	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"channel_who","params":{"channel":"intergossip"}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "intergossip", resp.Result["channel"])
	assert.Contains(t, resp.Result["users"], "bob")
}

func TestStatusAndStats(t *testing.T) {
	c, _ := newTestClient(t, testConfig())
	authClient(t, c)
	resp := roundTrip(t, c, `{"jsonrpc":"2.0","id":2,"method":"status"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "TestMUD", resp.Result["mud_name"])
	assert.Equal(t, false, resp.Result["ready"])

	resp = roundTrip(t, c, `{"jsonrpc":"2.0","id":3,"method":"stats"}`)
	require.Nil(t, resp.Error)
	assert.Contains(t, resp.Result, "router")
	assert.Contains(t, resp.Result, "dispatcher")
}

func TestClientCloseRemovesSession(t *testing.T) {
	c, gw := newTestClient(t, testConfig())
	authClient(t, c)
	_, ok := gw.Store.FindUser("alice")
	require.True(t, ok)

	c.close()
	_, ok = gw.Store.FindUser("alice")
	assert.False(t, ok)
}

func TestDrainCountsClientConnections(t *testing.T) {
	cfg := testConfig()
	gw, err := gateway.New(cfg, nil)
	require.NoError(t, err)
	mgr := shutdown.NewManager(shutdown.DefaultConfig())
	srv := NewServer(cfg, gw, nil).WithDrain(mgr)

	c := srv.newClient("test")
	require.NotNil(t, c)
	assert.Equal(t, int64(1), mgr.Active())

	c.close()
	assert.Equal(t, int64(0), mgr.Active())
}

func TestDrainRefusesNewClients(t *testing.T) {
	cfg := testConfig()
	gw, err := gateway.New(cfg, nil)
	require.NoError(t, err)
	mgr := shutdown.NewManager(shutdown.DefaultConfig())
	srv := NewServer(cfg, gw, nil).WithDrain(mgr)

	// With no active connections the drain phase completes immediately.
	require.Equal(t, 0, mgr.Shutdown())
	assert.Nil(t, srv.newClient("test"))
}

func TestTokenBucketRefill(t *testing.T) {
	b := newTokenBucket(60)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }
	b.last = now
	b.tokens = 0

	assert.False(t, b.Allow())
	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}
