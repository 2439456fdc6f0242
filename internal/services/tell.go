package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mudnet/i3-gateway/internal/events"
	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/state"
)

// TellService delivers tell and emoteto packets to local users.
type TellService struct {
	mudName string
	store   *state.Store
	bus     *events.Bus
}

func NewTellService(mudName string, store *state.Store, bus *events.Bus) *TellService {
	return &TellService{mudName: mudName, store: store, bus: bus}
}

func (s *TellService) Name() string { return "tell" }

func (s *TellService) Types() []string {
	return []string{packet.TypeTell, packet.TypeEmoteto}
}

func (s *TellService) RequiresAuth() bool { return true }

// Validate requires both user names and a non-empty message.
func (s *TellService) Validate(p packet.Packet) bool {
	t, ok := p.(*packet.Tell)
	if !ok {
		return false
	}
	h := t.Hdr()
	return h.OrigUser != "" && h.TargetUser != "" && t.Message != ""
}

func (s *TellService) Handle(ctx context.Context, p packet.Packet) (packet.Packet, error) {
	t := p.(*packet.Tell)
	h := t.Hdr()

	sess, ok := s.store.FindUser(h.TargetUser)
	if !ok {
		msg := fmt.Sprintf("%s is not online at %s", h.TargetUser, s.mudName)
		return packet.NewError(s.mudName, packet.ErrUnkUser, msg, p), nil
	}

	s.store.RecordTell(sess.UserName, state.TellRecord{
		FromMud:   h.OrigMud,
		FromUser:  h.OrigUser,
		Message:   t.Message,
		Timestamp: time.Now(),
	})

	eventType := events.TellReceived
	if h.Type == packet.TypeEmoteto {
		eventType = events.EmotetoReceived
	}
	s.bus.Emit(eventType, map[string]interface{}{
		"to_user":   sess.UserName,
		"from_mud":  h.OrigMud,
		"from_user": h.OrigUser,
		"visname":   t.Visname,
		"message":   t.Message,
	})
	return nil, nil
}
