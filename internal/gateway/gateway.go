package gateway

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/mudnet/i3-gateway/internal/circuitbreaker"
	"github.com/mudnet/i3-gateway/internal/config"
	"github.com/mudnet/i3-gateway/internal/events"
	"github.com/mudnet/i3-gateway/internal/lpc"
	"github.com/mudnet/i3-gateway/internal/metrics"
	"github.com/mudnet/i3-gateway/internal/packet"
	"github.com/mudnet/i3-gateway/internal/retry"
	"github.com/mudnet/i3-gateway/internal/router"
	"github.com/mudnet/i3-gateway/internal/services"
	"github.com/mudnet/i3-gateway/internal/state"
)

const pendingSweepEvery = time.Minute

// Gateway is the assembled process: state store, upstream manager, service
// dispatcher, packet router and downstream event bus.
type Gateway struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Metrics

	Store   *state.Store
	Bus     *events.Bus
	Manager *router.Manager

	managers []*router.Manager
	pool     *router.ManagerPool

	registry   *services.Registry
	dispatcher *services.Dispatcher
	pending    *services.Pending
	locate     *services.LocateService
	pr         *PacketRouter
	breakers   *circuitbreaker.Manager
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier

	password atomic.Int64
	started  time.Time
}

// New wires a gateway from its config. Nothing connects until Start.
func New(cfg *config.Config, m *metrics.Metrics) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[GATEWAY] ", log.LstdFlags),
		metrics: m,
		Bus:     events.NewBus(),
		pending: services.NewPending(),
	}
	g.password.Store(int64(cfg.Router.Password))

	g.Store = state.NewStore(openCache(cfg))
	g.Store.LoadSnapshot(cfg.State.Dir)

	// Each manager gets its own Info set; backoff state is per connection.
	newInfos := func() []*router.Info {
		routers := make([]*router.Info, 0, len(cfg.Routers()))
		for i, ep := range cfg.Routers() {
			name := ep.Host
			if i == 0 {
				name = "primary"
			}
			routers = append(routers, &router.Info{
				Name:     name,
				Address:  ep.Host,
				Port:     ep.Port,
				Priority: i,
			})
		}
		return routers
	}
	poolSize := 1
	if cfg.Router.Pool.Enabled && cfg.Router.Pool.MinSize > 1 {
		poolSize = cfg.Router.Pool.MinSize
		if cfg.Router.Pool.MaxSize > 0 && poolSize > cfg.Router.Pool.MaxSize {
			poolSize = cfg.Router.Pool.MaxSize
		}
	}
	for i := 0; i < poolSize; i++ {
		mgr, err := router.NewManager(router.Config{
			MudName:        cfg.Mud.Name,
			Routers:        newInfos(),
			ConnectTimeout: cfg.Gateway.Timeout,
			MaxFrameSize:   cfg.Gateway.MaxPacketSize,
			OnValue:        g.onUpstreamValue,
			OnConnected:    g.startupHandshake,
			OnDisconnected: g.onDisconnected,
			Keepalive:      g.keepalive,
			Metrics:        m,
		})
		if err != nil {
			return nil, err
		}
		g.managers = append(g.managers, mgr)
	}
	g.Manager = g.managers[0]
	g.pool = router.NewManagerPool(g.managers)

	g.breakers = circuitbreaker.NewManager(circuitbreaker.DefaultConfig("upstream"))
	g.breaker = g.breakers.Get("upstream")
	g.retrier = retry.New(retry.Config{
		MaxAttempts:  cfg.Gateway.RetryAttempts,
		InitialDelay: cfg.Gateway.RetryDelay,
		Strategy:     retry.Exponential,
		Jitter:       true,
	})

	g.registry = services.NewRegistry()
	g.dispatcher = services.NewDispatcher(cfg.Mud.Name, g.registry, cfg.Gateway.QueueSize, g.sendUpstream, m)
	g.pr = NewPacketRouter(cfg.Mud.Name, g.Store, g.sendUpstream, g.dispatcher.Enqueue, m)

	g.locate = services.NewLocateService(cfg.Mud.Name, g.Store, g.Bus, g.pending, g.sendUpstream)
	routerSvc := services.NewRouterService(cfg.Mud.Name, g.Store, g.Bus, g.pending, g.Manager)
	routerSvc.OnPassword = func(p int) { g.password.Store(int64(p)) }

	g.registry.Register(services.NewTellService(cfg.Mud.Name, g.Store, g.Bus))
	g.registry.Register(services.NewChannelService(cfg.Mud.Name, g.Store, g.Bus, g.pending))
	g.registry.Register(services.NewWhoService(cfg.Mud.Name, g.Store, g.Bus, g.pending))
	g.registry.Register(services.NewFingerService(cfg.Mud.Name, g.Store, g.Bus, g.pending))
	g.registry.Register(g.locate)
	g.registry.Register(routerSvc)

	return g, nil
}

// openCache picks the Redis cache when configured and reachable, otherwise
// the in-memory one.
func openCache(cfg *config.Config) state.Cache {
	if cfg.State.Redis.Addr == "" {
		return state.NewMemoryCache()
	}
	rc, err := state.NewRedisCache(cfg.State.Redis.Addr, cfg.State.Redis.Password, cfg.State.Redis.DB, "i3")
	if err != nil {
		log.Printf("[GATEWAY] redis %s unavailable, using memory cache: %v", cfg.State.Redis.Addr, err)
		return state.NewMemoryCache()
	}
	return rc
}

// Start launches the background loops and the upstream connect cycle.
func (g *Gateway) Start(ctx context.Context) {
	g.started = time.Now()
	for _, mgr := range g.managers {
		go mgr.Run(ctx)
	}
	go g.dispatcher.Run(ctx)
	go g.Store.RunSweeper(ctx)
	go g.sweepPending(ctx)
}

func (g *Gateway) sweepPending(ctx context.Context) {
	ticker := time.NewTicker(pendingSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := g.pending.Sweep(pendingSweepEvery); n > 0 {
				g.logger.Printf("swept %d stale pending requests", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stop closes the upstream sessions and persists a snapshot.
func (g *Gateway) Stop() error {
	for _, mgr := range g.managers {
		mgr.Disconnect()
	}
	if err := g.Store.SaveSnapshot(g.cfg.State.Dir); err != nil {
		return fmt.Errorf("gateway: snapshot: %w", err)
	}
	return nil
}

// Send routes a locally-originated packet (from a downstream client).
func (g *Gateway) Send(ctx context.Context, p packet.Packet) {
	g.pr.Route(ctx, p, OriginLocal)
}

// LocateUser runs a network-wide locate on behalf of a downstream client.
func (g *Gateway) LocateUser(ctx context.Context, fromUser, target string, timeout time.Duration) (*packet.LocateReply, error) {
	return g.locate.LocateUser(ctx, fromUser, target, timeout)
}

// Pending exposes the correlation table to the downstream surface.
func (g *Gateway) Pending() *services.Pending { return g.pending }

// JoinChannel flips this mud's subscription to a channel: state, the
// manager's resubscribe list, and a channel-listen at the router.
func (g *Gateway) JoinChannel(ctx context.Context, channel string, on bool) error {
	if on {
		g.Store.AddChannel(channel, "", state.ChannelPublic)
		g.Store.SetListening(channel, g.cfg.Mud.Name, true)
		g.Manager.SubscribeChannel(channel)
		g.Bus.Emit(events.ChannelJoin, map[string]interface{}{"channel": channel, "mud": g.cfg.Mud.Name})
	} else {
		g.Store.SetListening(channel, g.cfg.Mud.Name, false)
		g.Manager.UnsubscribeChannel(channel)
		g.Bus.Emit(events.ChannelLeave, map[string]interface{}{"channel": channel, "mud": g.cfg.Mud.Name})
	}

	routerName := "*i3"
	if cur := g.Manager.CurrentRouter(); cur != nil {
		routerName = cur.Name
	}
	l := &packet.ChannelListen{Channel: channel, On: on}
	l.Header = packet.Header{
		Type:      packet.TypeChannelListen,
		TTL:       5,
		OrigMud:   g.cfg.Mud.Name,
		TargetMud: routerName,
	}
	return g.sendUpstream(l)
}

// sendUpstream pushes a packet to an I3 router connection behind the
// circuit breaker. With a connection pool configured, sends round-robin
// over the connected managers.
func (g *Gateway) sendUpstream(p packet.Packet) error {
	return g.breaker.Execute(func() error {
		if mgr := g.pool.GetConnection(); mgr != nil {
			return mgr.SendPacket(p)
		}
		return g.Manager.SendPacket(p)
	})
}

// onUpstreamValue is the router manager's receive callback: decode, count,
// route.
func (g *Gateway) onUpstreamValue(v lpc.Value) {
	p, err := packet.Decode(v)
	if err != nil {
		if g.metrics != nil {
			g.metrics.DecodeFailures.Inc()
		}
		g.logger.Printf("undecodable packet: %v", err)
		return
	}
	if g.metrics != nil {
		g.metrics.PacketsReceived.WithLabelValues(p.Hdr().Type).Inc()
	}
	g.pr.Route(context.Background(), p, OriginUpstream)
}

// startupHandshake sends startup-req-3 right after the TCP connect.
func (g *Gateway) startupHandshake(m *router.Manager) {
	m.BeginAuth()
	routerName := "*i3"
	if cur := m.CurrentRouter(); cur != nil {
		routerName = cur.Name
	}

	svcMap := lpc.Mapping{}
	for name, v := range g.cfg.Mud.Services {
		svcMap = svcMap.Set(lpc.Str(name), lpc.Int(v))
	}
	req := &packet.StartupReq3{
		Password:      int(g.password.Load()),
		OldMudlistID:  g.Store.MudlistID(),
		OldChanlistID: g.Store.ChanlistID(),
		PlayerPort:    g.cfg.Mud.Port,
		TCPPort:       g.cfg.Gateway.TCPPort,
		// UDPPort stays 0: the gateway runs no OOB UDP listener, and 0
		// advertises the service as absent.
		Mudlib:        g.cfg.Mud.Mudlib,
		BaseMudlib:    g.cfg.Mud.BaseMudlib,
		Driver:        g.cfg.Mud.Driver,
		MudType:       g.cfg.Mud.MudType,
		OpenStatus:    g.cfg.Mud.OpenStatus,
		AdminEmail:    g.cfg.Mud.AdminEmail,
		Services:      svcMap,
	}
	req.Header = packet.Header{
		Type:      packet.TypeStartupReq3,
		TTL:       5,
		OrigMud:   g.cfg.Mud.Name,
		TargetMud: routerName,
	}
	err := g.retrier.Do(context.Background(), func(context.Context) error {
		return m.SendPacket(req)
	})
	if err != nil {
		g.logger.Printf("startup-req-3 failed: %v", err)
	}
}

// keepalive sends a harmless who-req at the router so the connection never
// idles out.
func (g *Gateway) keepalive(m *router.Manager) error {
	cur := m.CurrentRouter()
	if cur == nil {
		return nil
	}
	req := &packet.WhoReq{}
	req.Header = packet.Header{
		Type:      packet.TypeWhoReq,
		TTL:       5,
		OrigMud:   g.cfg.Mud.Name,
		TargetMud: cur.Name,
	}
	return m.SendPacket(req)
}

func (g *Gateway) onDisconnected() {
	g.Bus.Emit(events.Disconnected, map[string]interface{}{
		"mud_name": g.cfg.Mud.Name,
	})
}

// Ready reports whether the upstream handshake has completed.
func (g *Gateway) Ready() bool {
	return g.Manager.State() == router.StateReady
}

// MudName returns the configured identity.
func (g *Gateway) MudName() string { return g.cfg.Mud.Name }

// Stats aggregates the per-subsystem counters for the stats RPC.
func (g *Gateway) Stats() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": int(time.Since(g.started).Seconds()),
		"router":         g.Manager.Stats(),
		"routing":        g.pr.Stats(),
		"dispatcher":     g.dispatcher.Stats(),
		"state":          g.Store.Stats(),
		"pending":        g.pending.Len(),
		"subscribers":    g.Bus.SubscriberCount(),
		"breakers":       g.breakers.States(),
		"pool_size":      len(g.managers),
	}
}

// Status is the condensed health view for the status RPC and /readyz.
func (g *Gateway) Status() map[string]interface{} {
	return map[string]interface{}{
		"mud_name":   g.cfg.Mud.Name,
		"state":      g.Manager.State().String(),
		"ready":      g.Ready(),
		"mudlist_id": g.Store.MudlistID(),
		"muds_up":    len(g.Store.OnlineMuds()),
	}
}

// Reconnect forces a fresh upstream connection.
func (g *Gateway) Reconnect(ctx context.Context) error {
	return g.Manager.Reconnect(ctx)
}
