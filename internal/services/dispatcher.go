package services

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/mudnet/i3-gateway/internal/metrics"
	"github.com/mudnet/i3-gateway/internal/packet"
)

// SendFunc forwards a reply packet back toward the I3 network.
type SendFunc func(p packet.Packet) error

// Dispatcher pulls locally-addressed packets off a bounded queue and runs
// them through the matching handler. The queue keeps a slow handler from
// stalling the router receive loop.
type Dispatcher struct {
	mudName string
	reg     *Registry
	send    SendFunc
	queue   chan packet.Packet
	logger  *log.Logger
	metrics *metrics.Metrics

	handled   atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
	panicked  atomic.Uint64
	unhandled atomic.Uint64
}

// NewDispatcher builds a dispatcher with a queue of the given size.
func NewDispatcher(mudName string, reg *Registry, queueSize int, send SendFunc, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Dispatcher{
		mudName: mudName,
		reg:     reg,
		send:    send,
		queue:   make(chan packet.Packet, queueSize),
		logger:  log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		metrics: m,
	}
}

// Enqueue queues a packet for handling; false means the queue was full and
// the packet was dropped.
func (d *Dispatcher) Enqueue(p packet.Packet) bool {
	select {
	case d.queue <- p:
		if d.metrics != nil {
			d.metrics.QueueDepth.Set(float64(len(d.queue)))
		}
		return true
	default:
		d.dropped.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDropped("queue_full")
		}
		d.logger.Printf("queue full, dropping %s from %s", p.Hdr().Type, p.Hdr().OrigMud)
		return false
	}
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case p := <-d.queue:
			if d.metrics != nil {
				d.metrics.QueueDepth.Set(float64(len(d.queue)))
			}
			d.Dispatch(ctx, p)
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch runs one packet through its handler. Unknown type tags produce
// an unk-type error reply; validation failures drop silently; handler
// panics are recovered and counted.
func (d *Dispatcher) Dispatch(ctx context.Context, p packet.Packet) {
	tag := p.Hdr().Type
	h, ok := d.reg.ForType(tag)
	if !ok {
		d.unhandled.Add(1)
		d.reply(packet.NewError(d.mudName, packet.ErrUnkType, "unknown packet type "+tag, p))
		return
	}

	if !h.Validate(p) {
		d.rejected.Add(1)
		if d.metrics != nil {
			d.metrics.RecordHandler(h.Name(), "rejected", 0)
		}
		return
	}

	start := time.Now()
	reply, err := d.safeHandle(ctx, h, p)
	elapsed := time.Since(start).Seconds()
	switch {
	case err != nil:
		d.logger.Printf("%s handler failed on %s: %v", h.Name(), tag, err)
		if d.metrics != nil {
			d.metrics.RecordHandler(h.Name(), "error", elapsed)
		}
	default:
		d.handled.Add(1)
		if d.metrics != nil {
			d.metrics.RecordHandler(h.Name(), "ok", elapsed)
		}
	}
	if reply != nil {
		d.reply(reply)
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, h Handler, p packet.Packet) (reply packet.Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			if d.metrics != nil {
				d.metrics.HandlerPanics.WithLabelValues(h.Name()).Inc()
			}
			d.logger.Printf("%s handler panic on %s: %v", h.Name(), p.Hdr().Type, r)
			reply, err = nil, nil
		}
	}()
	return h.Handle(ctx, p)
}

func (d *Dispatcher) reply(p packet.Packet) {
	if d.send == nil {
		return
	}
	if err := d.send(p); err != nil {
		d.logger.Printf("reply %s failed: %v", p.Hdr().Type, err)
	}
}

// Stats reports the dispatcher's counters.
func (d *Dispatcher) Stats() map[string]interface{} {
	return map[string]interface{}{
		"handled":    d.handled.Load(),
		"dropped":    d.dropped.Load(),
		"rejected":   d.rejected.Load(),
		"panicked":   d.panicked.Load(),
		"unhandled":  d.unhandled.Load(),
		"queue_len":  len(d.queue),
		"queue_size": cap(d.queue),
	}
}
