package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mudnet/i3-gateway/internal/events"
	"github.com/mudnet/i3-gateway/internal/lpc"
	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/state"
)

const whoCacheTTL = 30 * time.Second

type cachedWho struct {
	users   []packet.WhoEntry
	expires time.Time
}

// WhoService answers who-req packets from the local session list and
// correlates who-reply packets to their waiters.
type WhoService struct {
	mudName string
	store   *state.Store
	bus     *events.Bus
	pending *Pending

	mu    sync.Mutex
	cache map[string]cachedWho
	now   func() time.Time
}

func NewWhoService(mudName string, store *state.Store, bus *events.Bus, pending *Pending) *WhoService {
	return &WhoService{
		mudName: mudName,
		store:   store,
		bus:     bus,
		pending: pending,
		cache:   make(map[string]cachedWho),
		now:     time.Now,
	}
}

func (s *WhoService) Name() string { return "who" }

func (s *WhoService) Types() []string {
	return []string{packet.TypeWhoReq, packet.TypeWhoReply}
}

func (s *WhoService) RequiresAuth() bool { return false }

func (s *WhoService) Validate(p packet.Packet) bool {
	return p.Hdr().OrigMud != ""
}

func (s *WhoService) Handle(ctx context.Context, p packet.Packet) (packet.Packet, error) {
	switch t := p.(type) {
	case *packet.WhoReq:
		return s.whoReq(t), nil
	case *packet.WhoReply:
		s.pending.Resolve("who:"+t.OrigMud, p)
		return nil, nil
	}
	return nil, nil
}

func (s *WhoService) whoReq(req *packet.WhoReq) packet.Packet {
	s.bus.Emit(events.WhoRequest, map[string]interface{}{
		"from_mud":  req.OrigMud,
		"from_user": req.OrigUser,
	})

	users := s.cached(req.OrigMud)
	if users == nil {
		users = s.build(req.Filter)
		s.mu.Lock()
		s.cache[req.OrigMud] = cachedWho{users: users, expires: s.now().Add(whoCacheTTL)}
		s.mu.Unlock()
	}

	reply := &packet.WhoReply{Users: users}
	reply.Header = packet.Header{
		Type:       packet.TypeWhoReply,
		TTL:        5,
		OrigMud:    s.mudName,
		TargetMud:  req.OrigMud,
		TargetUser: req.OrigUser,
	}
	return reply
}

func (s *WhoService) cached(origMud string) []packet.WhoEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[origMud]
	if !ok || s.now().After(c.expires) {
		delete(s.cache, origMud)
		return nil
	}
	return c.users
}

// build filters the local sessions. Recognized keys: level_min (>=),
// level_max (<=), race and guild (exact match). Unknown keys are ignored.
func (s *WhoService) build(filter lpc.Mapping) []packet.WhoEntry {
	now := s.now()
	var out []packet.WhoEntry
	for _, sess := range s.store.Sessions() {
		if !matchFilter(sess, filter) {
			continue
		}
		out = append(out, packet.WhoEntry{
			Name:  sess.UserName,
			Idle:  int(now.Sub(sess.LastActivity).Seconds()),
			Level: sess.Level,
			Extra: sess.Title,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	if out == nil {
		out = []packet.WhoEntry{}
	}
	return out
}

func matchFilter(sess *state.UserSession, filter lpc.Mapping) bool {
	if v, ok := filter.GetStr("level_min"); ok {
		if min, ok := lpc.AsInt(v); ok && sess.Level < min {
			return false
		}
	}
	if v, ok := filter.GetStr("level_max"); ok {
		if max, ok := lpc.AsInt(v); ok && sess.Level > max {
			return false
		}
	}
	if v, ok := filter.GetStr("race"); ok {
		if race, ok := lpc.AsString(v); ok && sess.Race != race {
			return false
		}
	}
	if v, ok := filter.GetStr("guild"); ok {
		if guild, ok := lpc.AsString(v); ok && sess.Guild != guild {
			return false
		}
	}
	return true
}
