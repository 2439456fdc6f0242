package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("router: pool closed")

// PoolConfig tunes the generic connection pool.
type PoolConfig[T any] struct {
	MinSize        int
	MaxSize        int
	MaxLifetime    time.Duration
	MaxIdle        time.Duration
	AcquireTimeout time.Duration
	MaintainEvery  time.Duration

	Factory  func(ctx context.Context) (T, error)
	Close    func(T)
	Validate func(T) bool
	Reset    func(T) error
}

type pooledEntry[T any] struct {
	value    T
	created  time.Time
	lastUsed time.Time
}

// Pool is a bounded pool with lifetime and idle expiry. Acquired entries
// are tracked until Release returns them; a maintenance loop evicts
// expired entries and refills to the minimum.
type Pool[T any] struct {
	cfg       PoolConfig[T]
	available chan *pooledEntry[T]

	mu     sync.Mutex
	active map[*pooledEntry[T]]struct{}
	total  int
	closed bool

	stop chan struct{}
	once sync.Once

	acquired atomic.Uint64
	evicted  atomic.Uint64
}

// NewPool builds the pool and pre-warms it to MinSize.
func NewPool[T any](ctx context.Context, cfg PoolConfig[T]) (*Pool[T], error) {
	if cfg.Factory == nil {
		return nil, errors.New("router: pool needs a factory")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 4
	}
	if cfg.MinSize < 0 || cfg.MinSize > cfg.MaxSize {
		return nil, errors.New("router: pool min size out of range")
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	if cfg.MaintainEvery <= 0 {
		cfg.MaintainEvery = 30 * time.Second
	}
	p := &Pool[T]{
		cfg:       cfg,
		available: make(chan *pooledEntry[T], cfg.MaxSize),
		active:    make(map[*pooledEntry[T]]struct{}),
		stop:      make(chan struct{}),
	}
	for i := 0; i < cfg.MinSize; i++ {
		if err := p.add(ctx); err != nil {
			slog.Warn("pool pre-warm failed", "error", err)
			break
		}
	}
	go p.maintain()
	return p, nil
}

func (p *Pool[T]) add(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || p.total >= p.cfg.MaxSize {
		p.mu.Unlock()
		return nil
	}
	p.total++
	p.mu.Unlock()

	v, err := p.cfg.Factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return err
	}
	now := time.Now()
	p.available <- &pooledEntry[T]{value: v, created: now, lastUsed: now}
	return nil
}

// Acquire returns a pooled value, creating one when under MaxSize, or
// waits up to AcquireTimeout for a release.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	deadline := time.NewTimer(p.cfg.AcquireTimeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, ErrPoolClosed
		}
		canGrow := p.total < p.cfg.MaxSize
		p.mu.Unlock()

		select {
		case e := <-p.available:
			if p.cfg.Validate != nil && !p.cfg.Validate(e.value) {
				p.discard(e)
				continue
			}
			e.lastUsed = time.Now()
			p.mu.Lock()
			p.active[e] = struct{}{}
			p.mu.Unlock()
			p.acquired.Add(1)
			return e.value, nil
		default:
		}

		if canGrow {
			if err := p.add(ctx); err != nil {
				return zero, err
			}
			continue
		}

		select {
		case e := <-p.available:
			if p.cfg.Validate != nil && !p.cfg.Validate(e.value) {
				p.discard(e)
				continue
			}
			e.lastUsed = time.Now()
			p.mu.Lock()
			p.active[e] = struct{}{}
			p.mu.Unlock()
			p.acquired.Add(1)
			return e.value, nil
		case <-deadline.C:
			return zero, errors.New("router: pool acquire timeout")
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Release returns a value to the pool, running the reset callback first.
// A value that fails reset is discarded.
func (p *Pool[T]) Release(v T) {
	p.mu.Lock()
	var entry *pooledEntry[T]
	for e := range p.active {
		if any(e.value) == any(v) {
			entry = e
			break
		}
	}
	if entry != nil {
		delete(p.active, entry)
	}
	closed := p.closed
	p.mu.Unlock()

	if entry == nil {
		return
	}
	if closed {
		p.discard(entry)
		return
	}
	if p.cfg.Reset != nil {
		if err := p.cfg.Reset(entry.value); err != nil {
			slog.Warn("pool reset failed, discarding", "error", err)
			p.discard(entry)
			return
		}
	}
	entry.lastUsed = time.Now()
	p.available <- entry
}

func (p *Pool[T]) discard(e *pooledEntry[T]) {
	p.mu.Lock()
	p.total--
	delete(p.active, e)
	p.mu.Unlock()
	p.evicted.Add(1)
	if p.cfg.Close != nil {
		p.cfg.Close(e.value)
	}
}

// maintain evicts lifetime- and idle-expired idle entries and refills to
// the minimum.
func (p *Pool[T]) maintain() {
	ticker := time.NewTicker(p.cfg.MaintainEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepIdle()
			p.mu.Lock()
			deficit := p.cfg.MinSize - p.total
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			for i := 0; i < deficit; i++ {
				if err := p.add(context.Background()); err != nil {
					slog.Warn("pool refill failed", "error", err)
					break
				}
			}
		case <-p.stop:
			return
		}
	}
}

func (p *Pool[T]) sweepIdle() {
	now := time.Now()
	n := len(p.available)
	for i := 0; i < n; i++ {
		select {
		case e := <-p.available:
			expired := (p.cfg.MaxLifetime > 0 && now.Sub(e.created) > p.cfg.MaxLifetime) ||
				(p.cfg.MaxIdle > 0 && now.Sub(e.lastUsed) > p.cfg.MaxIdle)
			if expired {
				p.discard(e)
			} else {
				p.available <- e
			}
		default:
			return
		}
	}
}

// Close drains and closes every idle entry; active entries are closed as
// they are released.
func (p *Pool[T]) Close() {
	p.once.Do(func() {
		close(p.stop)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		for {
			select {
			case e := <-p.available:
				p.discard(e)
			default:
				return
			}
		}
	})
}

// PoolStats reports current pool occupancy.
func (p *Pool[T]) PoolStats() map[string]interface{} {
	p.mu.Lock()
	active := len(p.active)
	total := p.total
	p.mu.Unlock()
	return map[string]interface{}{
		"active":   active,
		"idle":     len(p.available),
		"total":    total,
		"max_size": p.cfg.MaxSize,
		"acquired": p.acquired.Load(),
		"evicted":  p.evicted.Load(),
	}
}

// ManagerPool load-balances sends over several upstream managers in
// round-robin order, skipping any that are not connected.
type ManagerPool struct {
	mu       sync.Mutex
	managers []*Manager
	next     int
}

// NewManagerPool wraps an existing set of managers.
func NewManagerPool(managers []*Manager) *ManagerPool {
	return &ManagerPool{managers: managers}
}

// GetConnection returns the next connected manager, or nil when none are.
func (mp *ManagerPool) GetConnection() *Manager {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for i := 0; i < len(mp.managers); i++ {
		m := mp.managers[mp.next%len(mp.managers)]
		mp.next++
		switch m.State() {
		case StateConnected, StateReady:
			return m
		}
	}
	return nil
}

// Broadcast sends a value on every connected manager and reports how many
// accepted it.
func (mp *ManagerPool) Broadcast(v func(m *Manager) error) int {
	mp.mu.Lock()
	managers := append([]*Manager(nil), mp.managers...)
	mp.mu.Unlock()
	sent := 0
	for _, m := range managers {
		switch m.State() {
		case StateConnected, StateReady:
			if err := v(m); err == nil {
				sent++
			}
		}
	}
	return sent
}
