package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/state"
)

const selfMud = "TestMUD"

type sink struct {
	forwarded []packet.Packet
	enqueued  []packet.Packet
}

func (s *sink) forward(p packet.Packet) error { s.forwarded = append(s.forwarded, p); return nil }
func (s *sink) enqueue(p packet.Packet) bool  { s.enqueued = append(s.enqueued, p); return true }

func testRouter(t *testing.T) (*PacketRouter, *sink, *state.Store) {
	t.Helper()
	store := state.NewStore(state.NewMemoryCache())
	out := &sink{}
	return NewPacketRouter(selfMud, store, out.forward, out.enqueue, nil), out, store
}

func mkTell(ttl int, targetMud string) *packet.Tell {
	p := &packet.Tell{Visname: "alice", Message: "hi"}
	p.Header = packet.Header{
		Type: packet.TypeTell, TTL: ttl,
		OrigMud: "OtherMUD", OrigUser: "alice",
		TargetMud: targetMud, TargetUser: "bob",
	}
	return p
}

func TestRouteExpiredTTLDrops(t *testing.T) {
	pr, out, _ := testRouter(t)
	pr.Route(context.Background(), mkTell(0, selfMud), OriginUpstream)
	assert.Empty(t, out.forwarded)
	assert.Empty(t, out.enqueued)
	assert.Equal(t, uint64(1), pr.dropped.Load())
}

func TestRouteBroadcastFromLocalForwardsUpstream(t *testing.T) {
	pr, out, _ := testRouter(t)
	p := mkTell(5, "0")
	pr.Route(context.Background(), p, OriginLocal)
	require.Len(t, out.forwarded, 1)
	assert.Empty(t, out.enqueued)
	assert.Equal(t, 4, p.Hdr().TTL)
	assert.Equal(t, uint64(1), pr.broadcast.Load())
}

func TestRouteBroadcastFromUpstreamGoesLocal(t *testing.T) {
	pr, out, _ := testRouter(t)
	pr.Route(context.Background(), mkTell(5, "0"), OriginUpstream)
	assert.Empty(t, out.forwarded)
	require.Len(t, out.enqueued, 1)
}

func TestRouteLocalTargetEnqueues(t *testing.T) {
	pr, out, _ := testRouter(t)
	p := mkTell(5, selfMud)
	pr.Route(context.Background(), p, OriginUpstream)
	require.Len(t, out.enqueued, 1)
	assert.Equal(t, 4, p.Hdr().TTL)
	assert.Equal(t, uint64(1), pr.local.Load())
}

func TestRouteRemoteUnknownMudRepliesUnkDst(t *testing.T) {
	pr, out, _ := testRouter(t)
	pr.Route(context.Background(), mkTell(5, "NowhereMUD"), OriginLocal)
	require.Len(t, out.forwarded, 1)
	e, ok := out.forwarded[0].(*packet.Error)
	require.True(t, ok)
	assert.Equal(t, packet.ErrUnkDst, e.Code)
	assert.Equal(t, "OtherMUD", e.TargetMud)
	assert.Equal(t, "alice", e.TargetUser)
}

func TestRouteRemoteDownMudRepliesNotImp(t *testing.T) {
	pr, out, store := testRouter(t)
	store.UpdateMudlist(map[string]*state.MudInfo{
		"FarMUD": {Name: "FarMUD", Status: state.StatusDown},
	}, 1)
	pr.Route(context.Background(), mkTell(5, "FarMUD"), OriginLocal)
	require.Len(t, out.forwarded, 1)
	assert.Equal(t, packet.ErrNotImp, out.forwarded[0].(*packet.Error).Code)
}

func TestRouteRemoteUpMudForwards(t *testing.T) {
	pr, out, store := testRouter(t)
	store.UpdateMudlist(map[string]*state.MudInfo{
		"FarMUD": {Name: "FarMUD", Status: state.StatusUp},
	}, 1)
	p := mkTell(5, "FarMUD")
	pr.Route(context.Background(), p, OriginLocal)
	require.Len(t, out.forwarded, 1)
	assert.Equal(t, 4, p.Hdr().TTL)
	assert.Equal(t, uint64(1), pr.remote.Load())
}
