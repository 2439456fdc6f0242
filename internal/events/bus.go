// Package events is the in-process pub/sub bus between the I3 core and the
// downstream JSON-RPC surface. Service handlers publish here; the WebSocket
// and TCP sessions subscribe and forward to their clients as notifications.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to downstream clients.
const (
	Connected       = "connected"
	Disconnected    = "disconnected"
	TellReceived    = "tell_received"
	EmotetoReceived = "emoteto_received"
	ChannelMessage  = "channel_message"
	ChannelEmote    = "channel_emote"
	ChannelJoin     = "channel_join"
	ChannelLeave    = "channel_leave"
	WhoRequest      = "who_request"
	FingerRequest   = "finger_request"
	LocateRequest   = "locate_request"
)

// Event is the envelope every subscriber receives.
type Event struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	Time time.Time              `json:"time"`
	Data map[string]interface{} `json:"data"`
}

// JSON serializes the event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Bus fans events out to subscriber channels. Delivery is best-effort: a
// subscriber whose buffer is full misses the event rather than blocking
// the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event
	allSubs     []chan *Event
	logger      *log.Logger
	bufferSize  int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		logger:      log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize:  100,
	}
}

// Subscribe creates a channel receiving the given event types, or every
// event when none are named.
func (b *Bus) Subscribe(eventTypes ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *Event, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		filtered := subs[:0]
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		b.subscribers[et] = filtered
	}
	filtered := b.allSubs[:0]
	for _, s := range b.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.allSubs = filtered
	close(ch)
}

// Publish delivers an event to all matching subscribers without blocking.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit builds and publishes an event.
func (b *Bus) Emit(eventType string, data map[string]interface{}) {
	b.Publish(&Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Time: time.Now(),
		Data: data,
	})
}

// SubscriberCount reports the number of live subscriptions, for stats.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
