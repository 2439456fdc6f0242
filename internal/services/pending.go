package services

import (
	"strings"
	"sync"
	"time"

	"github.com/mudnet/i3-gateway/internal/packet"
)

// pendingSlot is one outstanding request awaiting its reply packet.
type pendingSlot struct {
	ch      chan packet.Packet
	created time.Time
}

// Pending correlates request/reply pairs across the I3 network. Keys are
// service-specific ("who:<mud>", "locate:<requester>:<user>"). Stale slots
// are removed by Sweep.
type Pending struct {
	mu sync.Mutex
	m  map[string]*pendingSlot
}

func NewPending() *Pending {
	return &Pending{m: make(map[string]*pendingSlot)}
}

// Register creates a slot and returns the channel its reply arrives on.
// Re-registering a key abandons the previous waiter.
func (p *Pending) Register(key string) <-chan packet.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot := &pendingSlot{ch: make(chan packet.Packet, 1), created: time.Now()}
	p.m[key] = slot
	return slot.ch
}

// Resolve delivers a reply to the waiter under key, if any.
func (p *Pending) Resolve(key string, pkt packet.Packet) bool {
	p.mu.Lock()
	slot, ok := p.m[key]
	if ok {
		delete(p.m, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	slot.ch <- pkt
	return true
}

// ResolvePrefix delivers to the first waiter whose key starts with prefix.
// Used when a reply does not echo enough fields to rebuild the exact key.
func (p *Pending) ResolvePrefix(prefix string, pkt packet.Packet) bool {
	p.mu.Lock()
	var hit string
	var slot *pendingSlot
	for key, s := range p.m {
		if strings.HasPrefix(key, prefix) {
			hit, slot = key, s
			break
		}
	}
	if slot != nil {
		delete(p.m, hit)
	}
	p.mu.Unlock()
	if slot == nil {
		return false
	}
	slot.ch <- pkt
	return true
}

// Cancel removes a waiter without delivering anything.
func (p *Pending) Cancel(key string) {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
}

// Sweep drops slots older than maxAge and returns how many were removed.
func (p *Pending) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key, slot := range p.m {
		if slot.created.Before(cutoff) {
			delete(p.m, key)
			removed++
		}
	}
	return removed
}

// Len reports outstanding slots, for stats.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
