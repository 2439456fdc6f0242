package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudnet/i3-gateway/internal/lpc"
)

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	v, err := Encode(p)
	require.NoError(t, err)
	data, err := lpc.Encode(v)
	require.NoError(t, err)
	back, err := lpc.Decode(data)
	require.NoError(t, err)
	got, err := Decode(back)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	return got
}

func TestTellRoundTrip(t *testing.T) {
	p := &Tell{
		Header:  Header{Type: TypeTell, TTL: 5, OrigMud: "MudA", OrigUser: "alice", TargetMud: "MudB", TargetUser: "bob"},
		Visname: "Alice",
		Message: "Hi!",
	}
	roundTrip(t, p)

	emote := &Tell{
		Header:  Header{Type: TypeEmoteto, TTL: 5, OrigMud: "MudA", OrigUser: "alice", TargetMud: "MudB", TargetUser: "bob"},
		Visname: "Alice",
		Message: "$N waves at you.",
	}
	roundTrip(t, emote)
}

func TestBroadcastHeaderFields(t *testing.T) {
	p := &LocateReq{
		Header: Header{Type: TypeLocateReq, TTL: 5, OrigMud: "MudA", OrigUser: "alice"},
		User:   "ghost",
	}
	v, err := Encode(p)
	require.NoError(t, err)
	arr := v.(lpc.Array)

	// Empty mud/user fields travel as the integer 0.
	assert.Equal(t, lpc.Int(0), arr[4])
	assert.Equal(t, lpc.Int(0), arr[5])

	got, err := Decode(arr)
	require.NoError(t, err)
	assert.True(t, BroadcastTarget(got.Hdr().TargetMud))

	// The explicit string "0" also reads as broadcast.
	arr[4] = lpc.Str("0")
	got, err = Decode(arr)
	require.NoError(t, err)
	assert.True(t, BroadcastTarget(got.Hdr().TargetMud))
}

func TestChannelVariants(t *testing.T) {
	roundTrip(t, &ChannelMessage{
		Header:  Header{Type: TypeChannelM, TTL: 5, OrigMud: "MudA", OrigUser: "alice"},
		Channel: "intergossip", Visname: "Alice", Message: "hello all",
	})
	roundTrip(t, &ChannelEmote{
		Header:  Header{Type: TypeChannelE, TTL: 5, OrigMud: "MudA", OrigUser: "alice"},
		Channel: "intergossip", Visname: "Alice", Emote: "$N waves.",
	})
	roundTrip(t, &ChannelTargeted{
		Header:  Header{Type: TypeChannelT, TTL: 5, OrigMud: "MudA", OrigUser: "alice", TargetMud: "MudB", TargetUser: "bob"},
		Channel: "intergossip", Visname: "Alice",
		TargetMudName: "MudB", TargetName: "bob",
		MessageThis: "$N pokes $O.", MessageAll: "$N pokes $O.", TargetVisname: "Bob",
	})
	roundTrip(t, &ChannelAdmin{
		Header:  Header{Type: TypeChannelAdmin, TTL: 5, OrigMud: "MudA"},
		Channel: "dchat", AddMuds: []string{"BadMud"}, RemoveMuds: []string{},
	})
	roundTrip(t, &ChannelListen{
		Header:  Header{Type: TypeChannelListen, TTL: 5, OrigMud: "MudA"},
		Channel: "intergossip", On: true,
	})
}

func TestQueryVariants(t *testing.T) {
	roundTrip(t, &WhoReq{
		Header: Header{Type: TypeWhoReq, TTL: 5, OrigMud: "MudA", OrigUser: "alice", TargetMud: "MudB"},
		Filter: lpc.Mapping{{Key: lpc.Str("level_min"), Val: lpc.Int(10)}},
	})
	roundTrip(t, &WhoReply{
		Header: Header{Type: TypeWhoReply, TTL: 5, OrigMud: "MudB", TargetMud: "MudA", TargetUser: "alice"},
		Users: []WhoEntry{
			{Name: "bob", Idle: 30, Level: 12, Extra: "the Bold"},
			{Name: "carol", Idle: 0, Level: 50, Extra: ""},
		},
	})
	roundTrip(t, &FingerReply{
		Header: Header{Type: TypeFingerReply, TTL: 5, OrigMud: "MudB", TargetMud: "MudA", TargetUser: "alice"},
		Info: lpc.Mapping{
			{Key: lpc.Str("name"), Val: lpc.Str("bob")},
			{Key: lpc.Str("level"), Val: lpc.Int(12)},
		},
	})
	roundTrip(t, &LocateReply{
		Header:     Header{Type: TypeLocateReply, TTL: 5, OrigMud: "MudB", TargetMud: "MudA", TargetUser: "alice"},
		LocatedMud: "MudB", LocatedUser: "bob", IdleTime: 42, Status: "active",
	})
}

func TestControlVariants(t *testing.T) {
	roundTrip(t, &Mudlist{
		Header:    Header{Type: TypeMudlist, TTL: 5, OrigMud: "*router", TargetMud: "MudA"},
		MudlistID: 17,
		Muds: lpc.Mapping{
			{Key: lpc.Str("MudB"), Val: lpc.Array{lpc.Int(-1), lpc.Str("203.0.113.9"), lpc.Int(4000), lpc.Int(8080), lpc.Int(0)}},
			{Key: lpc.Str("DeadMud"), Val: lpc.Int(0)},
		},
	})
	roundTrip(t, &StartupReq3{
		Header:     Header{Type: TypeStartupReq3, TTL: 5, OrigMud: "MudA", TargetMud: "*router"},
		Password:   12345,
		PlayerPort: 4000, TCPPort: 8080,
		Mudlib: "CustomLib 2.1", BaseMudlib: "LPMud", Driver: "FluffOS",
		MudType: "LP", OpenStatus: "open", AdminEmail: "admin@muda.example",
		Services:  lpc.Mapping{{Key: lpc.Str("tell"), Val: lpc.Int(1)}, {Key: lpc.Str("channel"), Val: lpc.Int(1)}},
		OtherData: lpc.Int(0),
	})
	roundTrip(t, &StartupReply{
		Header:     Header{Type: TypeStartupReply, TTL: 5, OrigMud: "*router", TargetMud: "MudA"},
		RouterList: lpc.Array{lpc.Array{lpc.Str("*router"), lpc.Str("203.0.113.1 8080")}},
		Password:   67890,
	})
	roundTrip(t, &Error{
		Header: Header{Type: TypeError, TTL: 5, OrigMud: "MudB", TargetMud: "MudA", TargetUser: "alice"},
		Code:   ErrUnkUser, Message: "bob is not online",
		BadPacket: lpc.Int(0),
	})
}

func TestUnknownTagIsOpaque(t *testing.T) {
	v := lpc.Array{
		lpc.Str("oob-req"), lpc.Int(5),
		lpc.Str("MudA"), lpc.Int(0), lpc.Str("MudB"), lpc.Int(0),
		lpc.Str("extra"), lpc.Int(99),
	}
	p, err := Decode(v)
	require.NoError(t, err)
	op, ok := p.(*Opaque)
	require.True(t, ok)
	assert.Equal(t, "oob-req", op.Type)
	assert.Equal(t, lpc.Array{lpc.Str("extra"), lpc.Int(99)}, op.Raw)

	// Forwarding re-encodes byte-identically.
	back, err := Encode(p)
	require.NoError(t, err)
	assert.Equal(t, v, back)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode(lpc.Str("not an array"))
	require.Error(t, err)

	_, err = Decode(lpc.Array{lpc.Str("tell"), lpc.Int(5)})
	require.Error(t, err)

	_, err = Decode(lpc.Array{lpc.Int(1), lpc.Int(5), lpc.Int(0), lpc.Int(0), lpc.Int(0), lpc.Int(0)})
	require.Error(t, err)
}

func TestNewError(t *testing.T) {
	bad := &Tell{
		Header:  Header{Type: TypeTell, TTL: 5, OrigMud: "MudX", OrigUser: "alice", TargetMud: "MudM", TargetUser: "bob"},
		Visname: "Alice", Message: "hey",
	}
	e := NewError("MudM", ErrUnkUser, "bob is not online", bad)
	assert.Equal(t, "MudX", e.TargetMud)
	assert.Equal(t, "alice", e.TargetUser)
	assert.Equal(t, "MudM", e.OrigMud)
	assert.Equal(t, ErrUnkUser, e.Code)
	require.NotNil(t, e.BadPacket)

	badArr, err := Encode(bad)
	require.NoError(t, err)
	assert.Equal(t, badArr, e.BadPacket)
}
