package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mudnet/i3-gateway/internal/events"
	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/state"
)

const (
	locateCacheTTL       = 30 * time.Second
	defaultLocateTimeout = 5 * time.Second
)

type cachedLocate struct {
	reply   *packet.LocateReply
	expires time.Time
}

// LocateService answers locate-req packets and runs outbound user searches
// across the network.
type LocateService struct {
	mudName string
	store   *state.Store
	bus     *events.Bus
	pending *Pending
	send    SendFunc

	mu    sync.Mutex
	cache map[string]cachedLocate
	now   func() time.Time
}

func NewLocateService(mudName string, store *state.Store, bus *events.Bus, pending *Pending, send SendFunc) *LocateService {
	return &LocateService{
		mudName: mudName,
		store:   store,
		bus:     bus,
		pending: pending,
		send:    send,
		cache:   make(map[string]cachedLocate),
		now:     time.Now,
	}
}

func (s *LocateService) Name() string { return "locate" }

func (s *LocateService) Types() []string {
	return []string{packet.TypeLocateReq, packet.TypeLocateReply}
}

func (s *LocateService) RequiresAuth() bool { return false }

func (s *LocateService) Validate(p packet.Packet) bool {
	if req, ok := p.(*packet.LocateReq); ok {
		return req.User != ""
	}
	return true
}

func (s *LocateService) Handle(ctx context.Context, p packet.Packet) (packet.Packet, error) {
	switch t := p.(type) {
	case *packet.LocateReq:
		return s.locateReq(t), nil
	case *packet.LocateReply:
		s.locateReply(t)
		return nil, nil
	}
	return nil, nil
}

// locateReq answers a search. Broadcast requests stay silent when the user
// is not here; direct requests always answer, empty-handed if need be.
func (s *LocateService) locateReq(req *packet.LocateReq) packet.Packet {
	s.bus.Emit(events.LocateRequest, map[string]interface{}{
		"from_mud":  req.OrigMud,
		"from_user": req.OrigUser,
		"user":      req.User,
	})

	sess, found := s.store.FindUser(req.User)
	broadcast := packet.BroadcastTarget(req.TargetMud)
	if !found && broadcast {
		return nil
	}

	reply := &packet.LocateReply{}
	if found {
		reply.LocatedMud = s.mudName
		reply.LocatedUser = sess.UserName
		reply.IdleTime = int(s.now().Sub(sess.LastActivity).Seconds())
		reply.Status = "online"
	}
	reply.Header = packet.Header{
		Type:       packet.TypeLocateReply,
		TTL:        5,
		OrigMud:    s.mudName,
		TargetMud:  req.OrigMud,
		TargetUser: req.OrigUser,
	}
	return reply
}

// locateReply caches positive results and wakes the matching waiter.
func (s *LocateService) locateReply(reply *packet.LocateReply) {
	if reply.LocatedUser != "" {
		s.mu.Lock()
		s.cache[strings.ToLower(reply.LocatedUser)] = cachedLocate{
			reply:   reply,
			expires: s.now().Add(locateCacheTTL),
		}
		s.mu.Unlock()
	}

	requester := strings.ToLower(reply.TargetUser)
	if reply.LocatedUser != "" {
		if s.pending.Resolve(locateKey(requester, reply.LocatedUser), reply) {
			return
		}
	}
	s.pending.ResolvePrefix("locate:"+requester+":", reply)
}

func locateKey(requester, target string) string {
	return fmt.Sprintf("locate:%s:%s", strings.ToLower(requester), strings.ToLower(target))
}

// Cached returns a still-valid positive locate result for a user.
func (s *LocateService) Cached(user string) (*packet.LocateReply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[strings.ToLower(user)]
	if !ok || s.now().After(c.expires) {
		delete(s.cache, strings.ToLower(user))
		return nil, false
	}
	return c.reply, true
}

// LocateUser broadcasts a locate-req and waits for the first reply. A nil
// result with a nil error means nobody answered within the timeout.
func (s *LocateService) LocateUser(ctx context.Context, fromUser, target string, timeout time.Duration) (*packet.LocateReply, error) {
	if timeout <= 0 {
		timeout = defaultLocateTimeout
	}
	if cached, ok := s.Cached(target); ok {
		return cached, nil
	}

	key := locateKey(fromUser, target)
	ch := s.pending.Register(key)
	defer s.pending.Cancel(key)

	req := &packet.LocateReq{User: target}
	req.Header = packet.Header{
		Type:      packet.TypeLocateReq,
		TTL:       5,
		OrigMud:   s.mudName,
		OrigUser:  fromUser,
		TargetMud: "0",
	}
	if err := s.send(req); err != nil {
		return nil, fmt.Errorf("locate: send: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-ch:
		if reply, ok := p.(*packet.LocateReply); ok {
			return reply, nil
		}
		return nil, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
