package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mudnet/i3-gateway/internal/events"
	"github.com/mudnet/i3-gateway/internal/lpc"
	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/state"
)

// ChannelService handles channel traffic and channel directory updates.
type ChannelService struct {
	mudName string
	store   *state.Store
	bus     *events.Bus
	pending *Pending
}

func NewChannelService(mudName string, store *state.Store, bus *events.Bus, pending *Pending) *ChannelService {
	return &ChannelService{mudName: mudName, store: store, bus: bus, pending: pending}
}

func (s *ChannelService) Name() string { return "channel" }

func (s *ChannelService) Types() []string {
	return []string{
		packet.TypeChannelM, packet.TypeChannelE, packet.TypeChannelT,
		packet.TypeChannelAdd, packet.TypeChannelRemove, packet.TypeChannelAdmin,
		packet.TypeChanlistReply, packet.TypeChannelListen,
		packet.TypeChannelWhoReq, packet.TypeChannelWhoReply,
	}
}

func (s *ChannelService) RequiresAuth() bool { return false }

func (s *ChannelService) Validate(p packet.Packet) bool {
	switch t := p.(type) {
	case *packet.ChannelMessage:
		return t.Channel != "" && t.Message != ""
	case *packet.ChannelEmote:
		return t.Channel != "" && t.Emote != ""
	case *packet.ChannelTargeted:
		return t.Channel != ""
	case *packet.ChannelAdd:
		return t.Channel != ""
	case *packet.ChannelRemove:
		return t.Channel != ""
	case *packet.ChannelAdmin:
		return t.Channel != ""
	case *packet.ChannelListen:
		return t.Channel != ""
	case *packet.ChannelWhoReq:
		return t.Channel != ""
	default:
		return true
	}
}

func (s *ChannelService) Handle(ctx context.Context, p packet.Packet) (packet.Packet, error) {
	switch t := p.(type) {
	case *packet.ChannelMessage:
		return s.deliver(p, t.Channel, state.ChannelRecord{
			Channel: t.Channel, FromMud: t.OrigMud, FromUser: t.OrigUser,
			Visname: t.Visname, Message: t.Message, Timestamp: time.Now(),
		}, events.ChannelMessage)
	case *packet.ChannelEmote:
		return s.deliver(p, t.Channel, state.ChannelRecord{
			Channel: t.Channel, FromMud: t.OrigMud, FromUser: t.OrigUser,
			Visname: t.Visname, Message: t.Emote, Emote: true, Timestamp: time.Now(),
		}, events.ChannelEmote)
	case *packet.ChannelTargeted:
		return s.deliver(p, t.Channel, state.ChannelRecord{
			Channel: t.Channel, FromMud: t.OrigMud, FromUser: t.OrigUser,
			Visname: t.Visname, Message: t.MessageAll, Emote: true, Timestamp: time.Now(),
		}, events.ChannelEmote)

	case *packet.ChannelAdd:
		s.store.AddChannel(t.Channel, t.OrigMud, state.ChannelType(t.ChanType))
		return nil, nil
	case *packet.ChannelRemove:
		s.store.RemoveChannel(t.Channel)
		return nil, nil
	case *packet.ChannelAdmin:
		// add_muds are admitted, remove_muds banned.
		if !s.store.AdminChannel(t.Channel, t.RemoveMuds, nil) {
			return packet.NewError(s.mudName, packet.ErrUnkChannel,
				fmt.Sprintf("no such channel %q", t.Channel), p), nil
		}
		s.store.AdmitMuds(t.Channel, t.AddMuds)
		return nil, nil
	case *packet.ChannelListen:
		if !s.store.SetListening(t.Channel, t.OrigMud, t.On) {
			return packet.NewError(s.mudName, packet.ErrUnkChannel,
				fmt.Sprintf("no such channel %q", t.Channel), p), nil
		}
		eventType := events.ChannelJoin
		if !t.On {
			eventType = events.ChannelLeave
		}
		s.bus.Emit(eventType, map[string]interface{}{
			"channel": t.Channel,
			"mud":     t.OrigMud,
		})
		return nil, nil

	case *packet.ChanlistReply:
		s.store.UpdateChanlist(parseChanlist(t.Channels), t.ChanlistID)
		return nil, nil

	case *packet.ChannelWhoReq:
		return s.channelWho(t), nil
	case *packet.ChannelWhoReply:
		s.pending.Resolve("channel-who:"+t.OrigMud+":"+t.Channel, p)
		return nil, nil
	}
	return nil, fmt.Errorf("channel: unexpected packet %T", p)
}

// deliver records and fans out a channel message when the originating mud
// has access; otherwise it answers with the matching error packet.
func (s *ChannelService) deliver(p packet.Packet, channel string, rec state.ChannelRecord, eventType string) (packet.Packet, error) {
	known, allowed := s.store.CanAccessChannel(channel, p.Hdr().OrigMud)
	if !known {
		return packet.NewError(s.mudName, packet.ErrUnkChannel,
			fmt.Sprintf("no such channel %q", channel), p), nil
	}
	if !allowed {
		return packet.NewError(s.mudName, packet.ErrNotAllowed,
			fmt.Sprintf("%s may not use channel %q", p.Hdr().OrigMud, channel), p), nil
	}
	s.store.RecordChannelMessage(rec)
	s.bus.Emit(eventType, map[string]interface{}{
		"channel":   channel,
		"from_mud":  rec.FromMud,
		"from_user": rec.FromUser,
		"visname":   rec.Visname,
		"message":   rec.Message,
	})
	return nil, nil
}

// channelWho answers with the local users listening to the channel.
func (s *ChannelService) channelWho(req *packet.ChannelWhoReq) packet.Packet {
	reply := &packet.ChannelWhoReply{Channel: req.Channel, Users: s.store.ChannelListeners(req.Channel)}
	reply.Header = packet.Header{
		Type:       packet.TypeChannelWhoReply,
		TTL:        5,
		OrigMud:    s.mudName,
		TargetMud:  req.OrigMud,
		TargetUser: req.OrigUser,
	}
	return reply
}

// parseChanlist interprets the router's chanlist-reply mapping: a value of
// 0 deletes the channel; otherwise it is ({host_mud, type}).
func parseChanlist(m lpc.Mapping) map[string]*state.ChannelInfo {
	out := make(map[string]*state.ChannelInfo, len(m))
	for _, pair := range m {
		name, ok := lpc.AsString(pair.Key)
		if !ok {
			continue
		}
		row, ok := pair.Val.(lpc.Array)
		if !ok {
			out[name] = nil // gone
			continue
		}
		info := state.NewChannelInfo(
			name,
			lpc.StringOr(atIndex(row, 0), ""),
			state.ChannelType(lpc.IntOr(atIndex(row, 1), 0)),
		)
		out[name] = info
	}
	return out
}

func atIndex(arr lpc.Array, i int) lpc.Value {
	if i < len(arr) {
		return arr[i]
	}
	return nil
}
