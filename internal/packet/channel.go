package packet

import "github.com/mudnet/i3-gateway/internal/lpc"

// ChannelMessage is a channel-m broadcast message.
type ChannelMessage struct {
	Header
	Channel string
	Visname string
	Message string
}

func (p *ChannelMessage) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Channel), lpc.Str(p.Visname), lpc.Str(p.Message)}
}

func (p *ChannelMessage) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	p.Visname = lpc.StringOr(at(body, 1), "")
	p.Message = lpc.StringOr(at(body, 2), "")
	return nil
}

// ChannelEmote is a channel-e broadcast emote.
type ChannelEmote struct {
	Header
	Channel string
	Visname string
	Emote   string
}

func (p *ChannelEmote) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Channel), lpc.Str(p.Visname), lpc.Str(p.Emote)}
}

func (p *ChannelEmote) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	p.Visname = lpc.StringOr(at(body, 1), "")
	p.Emote = lpc.StringOr(at(body, 2), "")
	return nil
}

// ChannelTargeted is a channel-t targeted emote: one message rendered for
// the target, another for everyone else on the channel.
type ChannelTargeted struct {
	Header
	Channel       string
	Visname       string
	TargetMudName string
	TargetName    string
	MessageThis   string
	MessageAll    string
	TargetVisname string
}

func (p *ChannelTargeted) payload() lpc.Array {
	return lpc.Array{
		lpc.Str(p.Channel), lpc.Str(p.Visname),
		lpc.Str(p.TargetMudName), lpc.Str(p.TargetName),
		lpc.Str(p.MessageThis), lpc.Str(p.MessageAll),
		lpc.Str(p.TargetVisname),
	}
}

func (p *ChannelTargeted) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	p.Visname = lpc.StringOr(at(body, 1), "")
	p.TargetMudName = lpc.StringOr(at(body, 2), "")
	p.TargetName = lpc.StringOr(at(body, 3), "")
	p.MessageThis = lpc.StringOr(at(body, 4), "")
	p.MessageAll = lpc.StringOr(at(body, 5), "")
	p.TargetVisname = lpc.StringOr(at(body, 6), "")
	return nil
}

// ChannelAdd registers a channel with the router.
type ChannelAdd struct {
	Header
	Channel  string
	ChanType int
}

func (p *ChannelAdd) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Channel), lpc.Int(p.ChanType)}
}

func (p *ChannelAdd) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	p.ChanType = lpc.IntOr(at(body, 1), 0)
	return nil
}

// ChannelRemove unregisters a channel.
type ChannelRemove struct {
	Header
	Channel string
}

func (p *ChannelRemove) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Channel)}
}

func (p *ChannelRemove) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	return nil
}

// ChannelAdmin adjusts a channel's banned/admitted mud sets.
type ChannelAdmin struct {
	Header
	Channel    string
	AddMuds    []string
	RemoveMuds []string
}

func strArray(ss []string) lpc.Array {
	arr := lpc.Array{}
	for _, s := range ss {
		arr = append(arr, lpc.Str(s))
	}
	return arr
}

func parseStrArray(v lpc.Value) []string {
	arr, ok := v.(lpc.Array)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, elem := range arr {
		if s, ok := lpc.AsString(elem); ok {
			out = append(out, s)
		}
	}
	return out
}

func (p *ChannelAdmin) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Channel), strArray(p.AddMuds), strArray(p.RemoveMuds)}
}

func (p *ChannelAdmin) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	p.AddMuds = parseStrArray(at(body, 1))
	p.RemoveMuds = parseStrArray(at(body, 2))
	return nil
}

// ChannelListen subscribes or unsubscribes this mud from a channel.
type ChannelListen struct {
	Header
	Channel string
	On      bool
}

func (p *ChannelListen) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Channel), lpc.Bool(p.On)}
}

func (p *ChannelListen) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	p.On = lpc.IntOr(at(body, 1), 0) != 0
	return nil
}

// ChanlistReply is the router's channel directory delta. The mapping keys
// are channel names; a value of 0 deletes the channel, otherwise it is a
// ({host_mud, type}) pair. Interpretation lives in the state store.
type ChanlistReply struct {
	Header
	ChanlistID int
	Channels   lpc.Mapping
}

func (p *ChanlistReply) payload() lpc.Array {
	ch := p.Channels
	if ch == nil {
		ch = lpc.Mapping{}
	}
	return lpc.Array{lpc.Int(p.ChanlistID), ch}
}

func (p *ChanlistReply) parse(body lpc.Array) error {
	p.ChanlistID = lpc.IntOr(at(body, 0), 0)
	if m, ok := at(body, 1).(lpc.Mapping); ok {
		p.Channels = m
	} else {
		p.Channels = lpc.Mapping{}
	}
	return nil
}

// ChannelWhoReq asks a mud which of its users listen to a channel.
type ChannelWhoReq struct {
	Header
	Channel string
}

func (p *ChannelWhoReq) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Channel)}
}

func (p *ChannelWhoReq) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	return nil
}

// ChannelWhoReply lists the listening users on the replying mud.
type ChannelWhoReply struct {
	Header
	Channel string
	Users   []string
}

func (p *ChannelWhoReply) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Channel), strArray(p.Users)}
}

func (p *ChannelWhoReply) parse(body lpc.Array) error {
	p.Channel = lpc.StringOr(at(body, 0), "")
	p.Users = parseStrArray(at(body, 1))
	return nil
}
