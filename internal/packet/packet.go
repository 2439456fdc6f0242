// Package packet defines the typed Intermud-3 packet model. Every I3 wire
// message is an LPC array opening with a six-field header; the variants here
// give handlers something to switch on instead of raw LPC trees.
package packet

import (
	"fmt"

	"github.com/mudnet/i3-gateway/internal/lpc"
)

// Recognized type tags.
const (
	TypeTell            = "tell"
	TypeEmoteto         = "emoteto"
	TypeChannelM        = "channel-m"
	TypeChannelE        = "channel-e"
	TypeChannelT        = "channel-t"
	TypeChannelAdd      = "channel-add"
	TypeChannelRemove   = "channel-remove"
	TypeChannelAdmin    = "channel-admin"
	TypeChanlistReply   = "chanlist-reply"
	TypeChannelListen   = "channel-listen"
	TypeChannelWhoReq   = "channel-who-req"
	TypeChannelWhoReply = "channel-who-reply"
	TypeWhoReq          = "who-req"
	TypeWhoReply        = "who-reply"
	TypeFingerReq       = "finger-req"
	TypeFingerReply     = "finger-reply"
	TypeLocateReq       = "locate-req"
	TypeLocateReply     = "locate-reply"
	TypeMudlist         = "mudlist"
	TypeStartupReq3     = "startup-req-3"
	TypeStartupReply    = "startup-reply"
	TypeError           = "error"
)

// I3 error codes emitted by the gateway.
const (
	ErrUnkDst     = "unk-dst"
	ErrUnkType    = "unk-type"
	ErrUnkUser    = "unk-user"
	ErrUnkChannel = "unk-channel"
	ErrNotAllowed = "not-allowed"
	ErrNotImp     = "not-imp"
	ErrBadPkt     = "bad-pkt"
)

// Header is the six-field prefix shared by every packet. Mud and user fields
// hold "" where the wire carries the integer 0 (no user / broadcast target);
// encoding maps "" back to 0.
type Header struct {
	Type       string
	TTL        int
	OrigMud    string
	OrigUser   string
	TargetMud  string
	TargetUser string
}

// BroadcastTarget reports whether a target field denotes "all muds": the
// wire convention allows both the integer 0 and the string "0".
func BroadcastTarget(s string) bool {
	return s == "" || s == "0"
}

// Packet is implemented by every typed variant.
type Packet interface {
	// Hdr exposes the shared mutable header.
	Hdr() *Header
	// payload emits the positions after the header.
	payload() lpc.Array
	// parse populates variant fields from the positions after the header.
	parse(body lpc.Array) error
}

// Hdr implements Packet for every variant embedding a Header.
func (h *Header) Hdr() *Header { return h }

func headerField(s string) lpc.Value {
	if s == "" {
		return lpc.Int(0)
	}
	return lpc.Str(s)
}

func mudField(v lpc.Value) string {
	if n, ok := v.(lpc.Int); ok && n == 0 {
		return ""
	}
	return lpc.StringOr(v, "")
}

// Encode renders a packet as the LPC array the codec expects.
func Encode(p Packet) (lpc.Value, error) {
	h := p.Hdr()
	if h.Type == "" {
		return nil, fmt.Errorf("packet: missing type tag")
	}
	arr := lpc.Array{
		lpc.Str(h.Type),
		lpc.Int(h.TTL),
		headerField(h.OrigMud),
		headerField(h.OrigUser),
		headerField(h.TargetMud),
		headerField(h.TargetUser),
	}
	return append(arr, p.payload()...), nil
}

// Decode builds a typed packet from a decoded LPC value. Unknown type tags
// yield an *Opaque packet so forwarding still works.
func Decode(v lpc.Value) (Packet, error) {
	arr, ok := v.(lpc.Array)
	if !ok {
		return nil, fmt.Errorf("packet: expected array, got %T", v)
	}
	if len(arr) < 6 {
		return nil, fmt.Errorf("packet: header truncated (%d fields)", len(arr))
	}
	tag, ok := lpc.AsString(arr[0])
	if !ok {
		return nil, fmt.Errorf("packet: type tag is %T, not a string", arr[0])
	}
	p := New(tag)
	h := p.Hdr()
	h.Type = tag
	h.TTL = lpc.IntOr(arr[1], 0)
	h.OrigMud = mudField(arr[2])
	h.OrigUser = mudField(arr[3])
	h.TargetMud = mudField(arr[4])
	h.TargetUser = mudField(arr[5])
	if err := p.parse(arr[6:]); err != nil {
		return nil, fmt.Errorf("packet: %s: %w", tag, err)
	}
	return p, nil
}

// New returns an empty variant for a type tag, or an *Opaque for tags the
// gateway does not model.
func New(tag string) Packet {
	var p Packet
	switch tag {
	case TypeTell, TypeEmoteto:
		p = &Tell{}
	case TypeChannelM:
		p = &ChannelMessage{}
	case TypeChannelE:
		p = &ChannelEmote{}
	case TypeChannelT:
		p = &ChannelTargeted{}
	case TypeChannelAdd:
		p = &ChannelAdd{}
	case TypeChannelRemove:
		p = &ChannelRemove{}
	case TypeChannelAdmin:
		p = &ChannelAdmin{}
	case TypeChanlistReply:
		p = &ChanlistReply{}
	case TypeChannelListen:
		p = &ChannelListen{}
	case TypeChannelWhoReq:
		p = &ChannelWhoReq{}
	case TypeChannelWhoReply:
		p = &ChannelWhoReply{}
	case TypeWhoReq:
		p = &WhoReq{}
	case TypeWhoReply:
		p = &WhoReply{}
	case TypeFingerReq:
		p = &FingerReq{}
	case TypeFingerReply:
		p = &FingerReply{}
	case TypeLocateReq:
		p = &LocateReq{}
	case TypeLocateReply:
		p = &LocateReply{}
	case TypeMudlist:
		p = &Mudlist{}
	case TypeStartupReq3:
		p = &StartupReq3{}
	case TypeStartupReply:
		p = &StartupReply{}
	case TypeError:
		p = &Error{}
	default:
		p = &Opaque{}
	}
	p.Hdr().Type = tag
	return p
}

// NewError builds an I3 error reply addressed back at the originator of bad.
func NewError(selfMud, code, message string, bad Packet) *Error {
	var badVal lpc.Value
	if bad != nil {
		if v, err := Encode(bad); err == nil {
			badVal = v
		}
	}
	e := &Error{
		Code:      code,
		Message:   message,
		BadPacket: badVal,
	}
	e.Header = Header{
		Type:    TypeError,
		TTL:     5,
		OrigMud: selfMud,
	}
	if bad != nil {
		e.TargetMud = bad.Hdr().OrigMud
		e.TargetUser = bad.Hdr().OrigUser
	}
	return e
}
