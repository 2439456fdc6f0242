package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mudnet/i3-gateway/internal/lpc"
	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/router"
	"github.com/mudnet/i3-gateway/internal/state"
)

const replyTimeout = 5 * time.Second

// handleMessage parses one JSON-RPC message and runs it. The returned bytes
// are nil for notifications.
func (c *client) handleMessage(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return marshal(errResponse(nil, rpcErr(CodeParse, "parse error")))
	}
	if req.Method == "" {
		return marshal(errResponse(req.ID, rpcErr(CodeInvalidRequest, "missing method")))
	}

	resp := c.call(ctx, &req)
	if req.ID == nil || resp == nil {
		return nil
	}
	return marshal(resp)
}

func marshal(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(errResponse(nil, rpcErr(CodeInternal, "marshal failure")))
	}
	return data
}

func (c *client) call(ctx context.Context, req *Request) *Response {
	outcome := "ok"
	resp := c.dispatch(ctx, req)
	if resp != nil && resp.Error != nil {
		outcome = "error"
	}
	if c.srv.metrics != nil {
		c.srv.metrics.RPCRequests.WithLabelValues(req.Method, outcome).Inc()
	}
	return resp
}

func (c *client) dispatch(ctx context.Context, req *Request) *Response {
	if req.Method == "authenticate" {
		return c.authenticate(req)
	}
	if !c.isAuthenticated() {
		return errResponse(req.ID, rpcErr(CodeUnauthorized, "authenticate first"))
	}
	if !c.limiter.Allow() {
		if c.srv.metrics != nil {
			c.srv.metrics.RPCRateLimited.Inc()
		}
		return errResponse(req.ID, rpcErr(CodeRateLimited, "rate limit exceeded"))
	}

	switch req.Method {
	case "tell":
		return c.tell(ctx, req, packet.TypeTell)
	case "emoteto":
		return c.tell(ctx, req, packet.TypeEmoteto)
	case "channel_send":
		return c.channelSend(ctx, req, false)
	case "channel_emote":
		return c.channelSend(ctx, req, true)
	case "channel_join":
		return c.channelListen(ctx, req, true)
	case "channel_leave":
		return c.channelListen(ctx, req, false)
	case "channel_list":
		return c.channelList(req)
	case "channel_who":
		return c.channelWho(ctx, req)
	case "channel_history":
		return c.channelHistory(req)
	case "who":
		return c.who(ctx, req)
	case "finger":
		return c.finger(ctx, req)
	case "locate":
		return c.locate(ctx, req)
	case "mudlist":
		return c.mudlist(req)
	case "ping":
		return result(req.ID, map[string]interface{}{"pong": true, "time": time.Now().Unix()})
	case "status":
		return result(req.ID, c.srv.gw.Status())
	case "stats":
		return result(req.ID, c.srv.gw.Stats())
	case "reconnect":
		if err := c.srv.gw.Reconnect(ctx); err != nil {
			return errResponse(req.ID, rpcErr(CodeUpstreamDown, err.Error()))
		}
		return result(req.ID, map[string]bool{"reconnected": true})
	default:
		return errResponse(req.ID, rpcErr(CodeMethodNotFound, "no such method "+req.Method))
	}
}

// ===== AUTH =====

type authParams struct {
	Token    string `json:"token"`
	MudName  string `json:"mud_name"`
	UserName string `json:"user_name"`
}

// authenticate checks the token against the configured bcrypt hashes. The
// hash is looked up by the client's mud name.
func (c *client) authenticate(req *Request) *Response {
	var p authParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.UserName == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "token, mud_name and user_name required"))
	}
	if len(c.srv.tokenHashes) > 0 {
		hash, ok := c.srv.tokenHashes[p.MudName]
		if !ok {
			return errResponse(req.ID, rpcErr(CodeUnauthorized, "unknown client"))
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(p.Token)); err != nil {
			return errResponse(req.ID, rpcErr(CodeUnauthorized, "bad token"))
		}
	}

	sess := c.srv.gw.Store.CreateSession(c.srv.gw.MudName(), p.UserName)
	sess.Authenticated = true
	sess.AuthTime = time.Now()

	c.mu.Lock()
	c.authenticated = true
	c.userName = p.UserName
	c.sessionID = sess.SessionID
	c.mu.Unlock()

	return result(req.ID, map[string]interface{}{
		"session_id": sess.SessionID,
		"mud_name":   c.srv.gw.MudName(),
	})
}

func (c *client) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *client) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

// ===== TELL =====

type tellParams struct {
	TargetMud  string `json:"target_mud"`
	TargetUser string `json:"target_user"`
	Message    string `json:"message"`
	Visname    string `json:"visname,omitempty"`
}

func (c *client) tell(ctx context.Context, req *Request, typeTag string) *Response {
	var p tellParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.TargetMud == "" || p.TargetUser == "" || p.Message == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "target_mud, target_user and message required"))
	}
	if resp := c.requireUpstream(req); resp != nil {
		return resp
	}
	visname := p.Visname
	if visname == "" {
		visname = c.user()
	}
	t := &packet.Tell{Visname: visname, Message: p.Message}
	t.Header = packet.Header{
		Type: typeTag, TTL: 5,
		OrigMud: c.srv.gw.MudName(), OrigUser: c.user(),
		TargetMud: p.TargetMud, TargetUser: p.TargetUser,
	}
	c.srv.gw.Send(ctx, t)
	return result(req.ID, map[string]bool{"sent": true})
}

// ===== CHANNELS =====

type channelParams struct {
	Channel string `json:"channel"`
	Message string `json:"message,omitempty"`
	Visname string `json:"visname,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Mud     string `json:"mud,omitempty"`
}

func (c *client) channelSend(ctx context.Context, req *Request, emote bool) *Response {
	var p channelParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Channel == "" || p.Message == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "channel and message required"))
	}
	if resp := c.requireUpstream(req); resp != nil {
		return resp
	}
	visname := p.Visname
	if visname == "" {
		visname = c.user()
	}

	var pkt packet.Packet
	if emote {
		e := &packet.ChannelEmote{Channel: p.Channel, Visname: visname, Emote: p.Message}
		pkt = e
	} else {
		m := &packet.ChannelMessage{Channel: p.Channel, Visname: visname, Message: p.Message}
		pkt = m
	}
	*pkt.Hdr() = packet.Header{
		Type: packet.TypeChannelM, TTL: 5,
		OrigMud: c.srv.gw.MudName(), OrigUser: c.user(),
		TargetMud: "0",
	}
	if emote {
		pkt.Hdr().Type = packet.TypeChannelE
	}
	c.srv.gw.Send(ctx, pkt)

	c.srv.gw.Store.RecordChannelMessage(state.ChannelRecord{
		Channel: p.Channel, FromMud: c.srv.gw.MudName(), FromUser: c.user(),
		Visname: visname, Message: p.Message, Emote: emote, Timestamp: time.Now(),
	})
	return result(req.ID, map[string]bool{"sent": true})
}

func (c *client) channelListen(ctx context.Context, req *Request, on bool) *Response {
	var p channelParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Channel == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "channel required"))
	}
	if err := c.srv.gw.JoinChannel(ctx, p.Channel, on); err != nil {
		return errResponse(req.ID, rpcErr(CodeUpstreamDown, err.Error()))
	}
	c.srv.gw.Store.SetSessionListening(c.sessionID, p.Channel, on)
	return result(req.ID, map[string]bool{"listening": on})
}

func (c *client) channelList(req *Request) *Response {
	channels := c.srv.gw.Store.ListChannels()
	out := make([]map[string]interface{}, 0, len(channels))
	for _, ch := range channels {
		out = append(out, map[string]interface{}{
			"name":          ch.Name,
			"owner":         ch.Owner,
			"type":          int(ch.Type),
			"listening":     len(ch.ListeningMuds),
			"message_count": ch.MessageCount,
		})
	}
	return result(req.ID, map[string]interface{}{"channels": out})
}

func (c *client) channelWho(ctx context.Context, req *Request) *Response {
	var p channelParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Channel == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "channel required"))
	}
	if p.Mud == "" || p.Mud == c.srv.gw.MudName() {
		users := c.srv.gw.Store.ChannelListeners(p.Channel)
		return result(req.ID, map[string]interface{}{"channel": p.Channel, "users": users})
	}

	if resp := c.requireUpstream(req); resp != nil {
		return resp
	}
	key := fmt.Sprintf("channel-who:%s:%s", p.Mud, p.Channel)
	ch := c.srv.gw.Pending().Register(key)
	defer c.srv.gw.Pending().Cancel(key)

	cwr := &packet.ChannelWhoReq{Channel: p.Channel}
	cwr.Header = packet.Header{
		Type: packet.TypeChannelWhoReq, TTL: 5,
		OrigMud: c.srv.gw.MudName(), OrigUser: c.user(), TargetMud: p.Mud,
	}
	c.srv.gw.Send(ctx, cwr)

	reply, rpcE := awaitReply(ctx, ch)
	if rpcE != nil {
		return errResponse(req.ID, rpcE)
	}
	who, ok := reply.(*packet.ChannelWhoReply)
	if !ok {
		return errResponse(req.ID, upstreamError(reply))
	}
	return result(req.ID, map[string]interface{}{"channel": who.Channel, "users": who.Users})
}

func (c *client) channelHistory(req *Request) *Response {
	var p channelParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Channel == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "channel required"))
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	return result(req.ID, map[string]interface{}{
		"channel": p.Channel,
		"history": c.srv.gw.Store.ChannelHistory(p.Channel, limit),
	})
}

// ===== QUERIES =====

type whoParams struct {
	TargetMud string                 `json:"target_mud"`
	Filter    map[string]interface{} `json:"filter,omitempty"`
	User      string                 `json:"user,omitempty"`
}

func (c *client) who(ctx context.Context, req *Request) *Response {
	var p whoParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.TargetMud == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "target_mud required"))
	}
	if resp := c.requireUpstream(req); resp != nil {
		return resp
	}

	key := "who:" + p.TargetMud
	ch := c.srv.gw.Pending().Register(key)
	defer c.srv.gw.Pending().Cancel(key)

	wr := &packet.WhoReq{Filter: filterMapping(p.Filter)}
	wr.Header = packet.Header{
		Type: packet.TypeWhoReq, TTL: 5,
		OrigMud: c.srv.gw.MudName(), OrigUser: c.user(), TargetMud: p.TargetMud,
	}
	c.srv.gw.Send(ctx, wr)

	reply, rpcE := awaitReply(ctx, ch)
	if rpcE != nil {
		return errResponse(req.ID, rpcE)
	}
	who, ok := reply.(*packet.WhoReply)
	if !ok {
		return errResponse(req.ID, upstreamError(reply))
	}
	users := make([]map[string]interface{}, 0, len(who.Users))
	for _, u := range who.Users {
		users = append(users, map[string]interface{}{
			"name": u.Name, "idle": u.Idle, "level": u.Level, "extra": u.Extra,
		})
	}
	return result(req.ID, map[string]interface{}{"mud": who.OrigMud, "users": users})
}

func (c *client) finger(ctx context.Context, req *Request) *Response {
	var p whoParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.TargetMud == "" || p.User == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "target_mud and user required"))
	}
	if resp := c.requireUpstream(req); resp != nil {
		return resp
	}

	key := "finger:" + p.TargetMud
	ch := c.srv.gw.Pending().Register(key)
	defer c.srv.gw.Pending().Cancel(key)

	fr := &packet.FingerReq{User: p.User}
	fr.Header = packet.Header{
		Type: packet.TypeFingerReq, TTL: 5,
		OrigMud: c.srv.gw.MudName(), OrigUser: c.user(), TargetMud: p.TargetMud,
	}
	c.srv.gw.Send(ctx, fr)

	reply, rpcE := awaitReply(ctx, ch)
	if rpcE != nil {
		return errResponse(req.ID, rpcE)
	}
	fing, ok := reply.(*packet.FingerReply)
	if !ok {
		return errResponse(req.ID, upstreamError(reply))
	}
	return result(req.ID, map[string]interface{}{"mud": fing.OrigMud, "info": mappingToJSON(fing.Info)})
}

func (c *client) locate(ctx context.Context, req *Request) *Response {
	var p whoParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.User == "" {
		return errResponse(req.ID, rpcErr(CodeInvalidParams, "user required"))
	}
	if resp := c.requireUpstream(req); resp != nil {
		return resp
	}
	reply, err := c.srv.gw.LocateUser(ctx, c.user(), p.User, replyTimeout)
	if err != nil {
		return errResponse(req.ID, rpcErr(CodeInternal, err.Error()))
	}
	if reply == nil {
		return result(req.ID, map[string]interface{}{"found": false})
	}
	return result(req.ID, map[string]interface{}{
		"found":     reply.LocatedMud != "",
		"mud":       reply.LocatedMud,
		"user":      reply.LocatedUser,
		"idle_time": reply.IdleTime,
		"status":    reply.Status,
	})
}

func (c *client) mudlist(req *Request) *Response {
	var p struct {
		OnlineOnly bool `json:"online_only"`
	}
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &p)
	}
	var muds []state.MudInfo
	if p.OnlineOnly {
		muds = c.srv.gw.Store.OnlineMuds()
	} else {
		muds = c.srv.gw.Store.AllMuds()
	}
	return result(req.ID, map[string]interface{}{
		"mudlist_id": c.srv.gw.Store.MudlistID(),
		"muds":       muds,
	})
}

// ===== HELPERS =====

// requireUpstream rejects network-bound calls while the router session is
// down.
func (c *client) requireUpstream(req *Request) *Response {
	switch c.srv.gw.Manager.State() {
	case router.StateConnected, router.StateAuthenticating, router.StateReady:
		return nil
	}
	return errResponse(req.ID, rpcErr(CodeUpstreamDown, "not connected to an I3 router"))
}

func awaitReply(ctx context.Context, ch <-chan packet.Packet) (packet.Packet, *RPCError) {
	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	select {
	case p := <-ch:
		return p, nil
	case <-timer.C:
		return nil, rpcErr(CodeTimeout, "no reply from the remote mud")
	case <-ctx.Done():
		return nil, rpcErr(CodeInternal, ctx.Err().Error())
	}
}

// upstreamError converts an I3 error packet delivered to a waiter into an
// RPC error.
func upstreamError(p packet.Packet) *RPCError {
	if e, ok := p.(*packet.Error); ok {
		return &RPCError{Code: CodeUpstreamDown, Message: e.Code, Data: e.Message}
	}
	return rpcErr(CodeInternal, "unexpected reply packet")
}

// filterMapping converts JSON filter params into the LPC mapping a who-req
// carries. JSON numbers arrive as float64.
func filterMapping(m map[string]interface{}) lpc.Mapping {
	out := lpc.Mapping{}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out = out.Set(lpc.Str(k), lpc.Str(val))
		case float64:
			out = out.Set(lpc.Str(k), lpc.Int(int32(val)))
		case bool:
			out = out.Set(lpc.Str(k), lpc.Bool(val))
		}
	}
	return out
}

// mappingToJSON flattens an LPC mapping for a JSON result. Only scalar
// values survive; nested structures are not part of any reply we surface.
func mappingToJSON(m lpc.Mapping) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for _, pair := range m {
		key, ok := lpc.AsString(pair.Key)
		if !ok {
			continue
		}
		switch val := pair.Val.(type) {
		case lpc.Str:
			out[key] = string(val)
		case lpc.Int:
			out[key] = int(val)
		case lpc.Float:
			out[key] = float64(val)
		}
	}
	return out
}
