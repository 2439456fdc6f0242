// Package services implements the gateway's I3 service layer: a registry of
// handlers keyed by service name, a queued dispatcher that decouples the
// receive loop from handling, and the handlers for tell, channel, who,
// finger, locate and router bookkeeping.
package services

import (
	"context"
	"sort"
	"sync"

	"github.com/mudnet/i3-gateway/internal/packet"
)

// Handler is one I3 service. Validate runs before Handle; a false return
// drops the packet without a reply. Handle may return a reply packet to be
// sent back through the router.
type Handler interface {
	Name() string
	Types() []string
	RequiresAuth() bool
	Validate(p packet.Packet) bool
	Handle(ctx context.Context, p packet.Packet) (packet.Packet, error)
}

// Registry maps service names and packet type tags to handlers.
type Registry struct {
	mu        sync.RWMutex
	byService map[string]Handler
	byType    map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		byService: make(map[string]Handler),
		byType:    make(map[string]Handler),
	}
}

// Register adds a handler; later registrations win on type-tag conflicts.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byService[h.Name()] = h
	for _, t := range h.Types() {
		r.byType[t] = h
	}
}

// ForType returns the handler accepting a packet type tag.
func (r *Registry) ForType(tag string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byType[tag]
	return h, ok
}

// ForService returns a handler by service name.
func (r *Registry) ForService(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byService[name]
	return h, ok
}

// Services lists registered service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byService))
	for name := range r.byService {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
