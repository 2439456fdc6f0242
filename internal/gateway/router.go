// Package gateway ties the subsystems together: the packet router deciding
// local/remote/broadcast direction, and the Gateway wiring config, state,
// services, upstream manager and downstream event bus into one process.
package gateway

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/mudnet/i3-gateway/internal/metrics"
	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/state"
)

// Origin says which side of the gateway a packet entered from.
type Origin int

const (
	OriginLocal Origin = iota
	OriginUpstream
)

// PacketRouter applies the direction rules: expired TTLs are dropped,
// broadcasts fan toward the other side, local packets go to the dispatcher
// queue, and remote packets are forwarded upstream after a mudlist check.
type PacketRouter struct {
	mudName string
	store   *state.Store
	forward func(p packet.Packet) error // toward the I3 network
	enqueue func(p packet.Packet) bool  // toward the local dispatcher
	logger  *log.Logger
	metrics *metrics.Metrics

	dropped   atomic.Uint64
	broadcast atomic.Uint64
	local     atomic.Uint64
	remote    atomic.Uint64
}

func NewPacketRouter(mudName string, store *state.Store, forward func(packet.Packet) error, enqueue func(packet.Packet) bool, m *metrics.Metrics) *PacketRouter {
	return &PacketRouter{
		mudName: mudName,
		store:   store,
		forward: forward,
		enqueue: enqueue,
		logger:  log.New(log.Writer(), "[ROUTE] ", log.LstdFlags),
		metrics: m,
	}
}

// Route decides what to do with one packet. Any error reply it generates is
// sent back through forward.
func (r *PacketRouter) Route(ctx context.Context, p packet.Packet, origin Origin) {
	h := p.Hdr()
	if h.TTL <= 0 {
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.RecordDropped("ttl_expired")
		}
		return
	}

	switch {
	case packet.BroadcastTarget(h.TargetMud):
		r.broadcast.Add(1)
		if r.metrics != nil {
			r.metrics.PacketsBroadcast.Inc()
		}
		h.TTL--
		if origin == OriginLocal {
			r.sendUpstream(p)
		} else {
			r.enqueue(p)
		}

	case h.TargetMud == r.mudName:
		r.local.Add(1)
		if r.metrics != nil {
			r.metrics.RoutedLocal.Inc()
		}
		h.TTL--
		r.enqueue(p)

	default:
		r.routeRemote(ctx, p)
	}
}

func (r *PacketRouter) routeRemote(ctx context.Context, p packet.Packet) {
	h := p.Hdr()
	info, known := r.store.GetMudInfo(ctx, h.TargetMud)
	if !known {
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.RecordDropped("unknown_mud")
		}
		r.errorReply(packet.ErrUnkDst, "unknown mud "+h.TargetMud, p)
		return
	}
	if info.Status != state.StatusUp {
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.RecordDropped("mud_down")
		}
		r.errorReply(packet.ErrNotImp, h.TargetMud+" is not up", p)
		return
	}
	r.remote.Add(1)
	if r.metrics != nil {
		r.metrics.RoutedRemote.Inc()
	}
	h.TTL--
	r.sendUpstream(p)
}

func (r *PacketRouter) sendUpstream(p packet.Packet) {
	if err := r.forward(p); err != nil {
		r.dropped.Add(1)
		r.logger.Printf("forward %s failed: %v", p.Hdr().Type, err)
	}
}

func (r *PacketRouter) errorReply(code, message string, bad packet.Packet) {
	if r.metrics != nil {
		r.metrics.ErrorsSent.WithLabelValues(code).Inc()
	}
	e := packet.NewError(r.mudName, code, message, bad)
	if err := r.forward(e); err != nil {
		r.logger.Printf("error reply %s failed: %v", code, err)
	}
}

// Stats reports the router's counters.
func (r *PacketRouter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"dropped":   r.dropped.Load(),
		"broadcast": r.broadcast.Load(),
		"local":     r.local.Load(),
		"remote":    r.remote.Load(),
	}
}
