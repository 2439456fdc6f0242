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

// FingerService answers finger-req packets from the local session profile.
type FingerService struct {
	mudName string
	store   *state.Store
	bus     *events.Bus
	pending *Pending
}

func NewFingerService(mudName string, store *state.Store, bus *events.Bus, pending *Pending) *FingerService {
	return &FingerService{mudName: mudName, store: store, bus: bus, pending: pending}
}

func (s *FingerService) Name() string { return "finger" }

func (s *FingerService) Types() []string {
	return []string{packet.TypeFingerReq, packet.TypeFingerReply}
}

func (s *FingerService) RequiresAuth() bool { return false }

func (s *FingerService) Validate(p packet.Packet) bool {
	if req, ok := p.(*packet.FingerReq); ok {
		return req.User != ""
	}
	return true
}

func (s *FingerService) Handle(ctx context.Context, p packet.Packet) (packet.Packet, error) {
	switch t := p.(type) {
	case *packet.FingerReq:
		return s.fingerReq(t), nil
	case *packet.FingerReply:
		s.pending.Resolve("finger:"+t.OrigMud, p)
		return nil, nil
	}
	return nil, nil
}

func (s *FingerService) fingerReq(req *packet.FingerReq) packet.Packet {
	s.bus.Emit(events.FingerRequest, map[string]interface{}{
		"from_mud":  req.OrigMud,
		"from_user": req.OrigUser,
		"user":      req.User,
	})

	sess, ok := s.store.FindUser(req.User)
	if !ok {
		msg := fmt.Sprintf("%s is not known at %s", req.User, s.mudName)
		return packet.NewError(s.mudName, packet.ErrUnkUser, msg, req)
	}

	reply := &packet.FingerReply{Info: profileMapping(sess)}
	reply.Header = packet.Header{
		Type:       packet.TypeFingerReply,
		TTL:        5,
		OrigMud:    s.mudName,
		TargetMud:  req.OrigMud,
		TargetUser: req.OrigUser,
	}
	return reply
}

// profileMapping assembles the finger fields, omitting the absent ones.
func profileMapping(sess *state.UserSession) lpc.Mapping {
	m := lpc.Mapping{}
	put := func(key, val string) {
		if val != "" {
			m = m.Set(lpc.Str(key), lpc.Str(val))
		}
	}
	put("name", sess.UserName)
	put("title", sess.Title)
	put("real_name", sess.RealName)
	put("email", sess.Email)
	if sess.Level > 0 {
		m = m.Set(lpc.Str("level"), lpc.Int(sess.Level))
	}
	put("class", sess.Class)
	put("race", sess.Race)
	put("last_login", sess.LastLogin)
	m = m.Set(lpc.Str("idle"), lpc.Int(int(time.Since(sess.LastActivity).Seconds())))
	put("plan", sess.Plan)
	return m
}
