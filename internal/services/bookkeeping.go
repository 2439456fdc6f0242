package services

import (
	"context"
	"log"
	"time"

	"github.com/mudnet/i3-gateway/internal/events"
	"github.com/mudnet/i3-gateway/internal/lpc"
	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/state"
)

// Upstream is the slice of the router manager the bookkeeping service
// drives once the handshake completes.
type Upstream interface {
	SetReady()
	SendPacket(p packet.Packet) error
	SubscribedChannels() []string
}

// RouterService handles the packets the I3 router itself originates:
// startup-reply, mudlist and error.
type RouterService struct {
	mudName  string
	store    *state.Store
	bus      *events.Bus
	pending  *Pending
	upstream Upstream
	logger   *log.Logger

	// OnPassword persists the password the router assigns for the next
	// startup-req-3.
	OnPassword func(password int)
}

func NewRouterService(mudName string, store *state.Store, bus *events.Bus, pending *Pending, upstream Upstream) *RouterService {
	return &RouterService{
		mudName:  mudName,
		store:    store,
		bus:      bus,
		pending:  pending,
		upstream: upstream,
		logger:   log.New(log.Writer(), "[I3] ", log.LstdFlags),
	}
}

func (s *RouterService) Name() string { return "router" }

func (s *RouterService) Types() []string {
	return []string{packet.TypeStartupReply, packet.TypeMudlist, packet.TypeError}
}

func (s *RouterService) RequiresAuth() bool { return false }

func (s *RouterService) Validate(p packet.Packet) bool { return true }

func (s *RouterService) Handle(ctx context.Context, p packet.Packet) (packet.Packet, error) {
	switch t := p.(type) {
	case *packet.StartupReply:
		s.startupReply(t)
		return nil, nil
	case *packet.Mudlist:
		s.store.UpdateMudlist(parseMudlist(t.Muds), t.MudlistID)
		return nil, nil
	case *packet.Error:
		s.routerError(t)
		return nil, nil
	}
	return nil, nil
}

// startupReply completes the handshake: record the new password, mark the
// connection READY, and re-subscribe the channels we listen to.
func (s *RouterService) startupReply(reply *packet.StartupReply) {
	s.logger.Printf("startup-reply from %s: %d routers, password %d",
		reply.OrigMud, len(reply.RouterList), reply.Password)
	if s.OnPassword != nil {
		s.OnPassword(reply.Password)
	}
	if s.upstream != nil {
		s.upstream.SetReady()
		for _, channel := range s.upstream.SubscribedChannels() {
			listen := &packet.ChannelListen{Channel: channel, On: true}
			listen.Header = packet.Header{
				Type:      packet.TypeChannelListen,
				TTL:       5,
				OrigMud:   s.mudName,
				TargetMud: reply.OrigMud,
			}
			if err := s.upstream.SendPacket(listen); err != nil {
				s.logger.Printf("re-subscribe %q failed: %v", channel, err)
			}
		}
	}
	s.bus.Emit(events.Connected, map[string]interface{}{
		"router": reply.OrigMud,
	})
}

// routerError surfaces an error packet to whichever waiter it concerns,
// or just logs it.
func (s *RouterService) routerError(e *packet.Error) {
	s.logger.Printf("error from %s: %s: %s", e.OrigMud, e.Code, e.Message)
	if e.TargetUser != "" {
		if s.pending.ResolvePrefix("locate:"+e.TargetUser+":", e) {
			return
		}
	}
	s.pending.Resolve("who:"+e.OrigMud, e)
}

// parseMudlist interprets the router's mudlist mapping. A value of 0 marks
// the mud gone; an info row is [state, ip, player_port, tcp_port, udp_port,
// mudlib, base_mudlib, driver, mud_type, open_status, admin_email,
// services, other_data] with state -1 up, 0 down, anything else rebooting.
func parseMudlist(m lpc.Mapping) map[string]*state.MudInfo {
	out := make(map[string]*state.MudInfo, len(m))
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
		info := &state.MudInfo{
			Name:       name,
			Address:    lpc.StringOr(atIndex(row, 1), ""),
			PlayerPort: lpc.IntOr(atIndex(row, 2), 0),
			TCPPort:    lpc.IntOr(atIndex(row, 3), 0),
			UDPPort:    lpc.IntOr(atIndex(row, 4), 0),
			Mudlib:     lpc.StringOr(atIndex(row, 5), ""),
			BaseMudlib: lpc.StringOr(atIndex(row, 6), ""),
			Driver:     lpc.StringOr(atIndex(row, 7), ""),
			MudType:    lpc.StringOr(atIndex(row, 8), ""),
			OpenStatus: lpc.StringOr(atIndex(row, 9), ""),
			AdminEmail: lpc.StringOr(atIndex(row, 10), ""),
			Services:   parseServices(atIndex(row, 11)),
			OtherData:  lpc.StringOr(atIndex(row, 12), ""),
			LastSeen:   time.Now(),
		}
		switch lpc.IntOr(atIndex(row, 0), 0) {
		case -1:
			info.Status = state.StatusUp
		case 0:
			info.Status = state.StatusDown
		default:
			info.Status = state.StatusReboot
		}
		out[name] = info
	}
	return out
}

func parseServices(v lpc.Value) map[string]int {
	m, ok := v.(lpc.Mapping)
	if !ok {
		return map[string]int{}
	}
	out := make(map[string]int, len(m))
	for _, pair := range m {
		if name, ok := lpc.AsString(pair.Key); ok {
			out[name] = lpc.IntOr(pair.Val, 0)
		}
	}
	return out
}
