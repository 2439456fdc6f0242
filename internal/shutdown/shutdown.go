// Package shutdown coordinates the gateway's phased exit: stop accepting,
// drain active downstream connections, close long-lived resources, then run
// cleanup tasks, all bounded by per-phase timeouts and an overall force
// timeout.
package shutdown

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Phase of the shutdown state machine.
type Phase int32

const (
	PhaseRunning Phase = iota
	PhaseDraining
	PhaseClosing
	PhaseCleanup
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "RUNNING"
	case PhaseDraining:
		return "DRAINING"
	case PhaseClosing:
		return "CLOSING"
	case PhaseCleanup:
		return "CLEANUP"
	case PhaseTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Config sets the per-phase budgets.
type Config struct {
	DrainTimeout   time.Duration
	CloseTimeout   time.Duration
	CleanupTimeout time.Duration
	// ForceTimeout bounds the whole shutdown; when it expires the process
	// exits non-zero.
	ForceTimeout time.Duration
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		DrainTimeout:   10 * time.Second,
		CloseTimeout:   10 * time.Second,
		CleanupTimeout: 10 * time.Second,
		ForceTimeout:   45 * time.Second,
	}
}

type namedTask struct {
	name string
	fn   func(context.Context) error
}

// Manager runs the shutdown sequence. One manager exists per process,
// created in main before any handler runs.
type Manager struct {
	cfg    Config
	logger *log.Logger
	exit   func(int)

	phase    atomic.Int32
	draining chan struct{}
	once     sync.Once

	active   atomic.Int64
	progress chan struct{}

	mu       sync.Mutex
	closers  []namedTask
	cleanups []namedTask
}

// NewManager builds a Manager with the given budgets.
func NewManager(cfg Config) *Manager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 10 * time.Second
	}
	if cfg.ForceTimeout <= 0 {
		cfg.ForceTimeout = 45 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[SHUTDOWN] ", log.LstdFlags),
		exit:     os.Exit,
		draining: make(chan struct{}),
		progress: make(chan struct{}, 1),
	}
}

// Phase returns the current phase.
func (m *Manager) Phase() Phase { return Phase(m.phase.Load()) }

// Done is closed the moment shutdown begins; accept loops select on it.
func (m *Manager) Done() <-chan struct{} { return m.draining }

// ConnAdd registers an active downstream connection. It returns false once
// draining has begun, meaning the connection must be refused.
func (m *Manager) ConnAdd() bool {
	if m.Phase() != PhaseRunning {
		return false
	}
	m.active.Add(1)
	return true
}

// ConnDone removes an active connection and nudges the drain loop.
func (m *Manager) ConnDone() {
	m.active.Add(-1)
	select {
	case m.progress <- struct{}{}:
	default:
	}
}

// Active reports the current downstream connection count.
func (m *Manager) Active() int64 { return m.active.Load() }

// RegisterCloser adds a resource whose Close runs during the CLOSING phase.
func (m *Manager) RegisterCloser(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, namedTask{name: name, fn: fn})
}

// RegisterCleanup adds a task for the CLEANUP phase.
func (m *Manager) RegisterCleanup(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, namedTask{name: name, fn: fn})
}

// HandleSignals installs SIGTERM/SIGINT/SIGHUP handlers that initiate
// shutdown. The returned channel yields the exit code when shutdown ends.
func (m *Manager) HandleSignals() <-chan int {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	done := make(chan int, 1)
	go func() {
		sig := <-sigs
		m.logger.Printf("received %v, shutting down", sig)
		done <- m.Shutdown()
	}()
	return done
}

// Shutdown runs the phase sequence and returns the exit code: 0 for a clean
// shutdown, 1 when the force timeout fired. Safe to call more than once;
// later calls wait behind the first.
func (m *Manager) Shutdown() int {
	code := 0
	m.once.Do(func() {
		forced := make(chan struct{})
		forceTimer := time.AfterFunc(m.cfg.ForceTimeout, func() {
			close(forced)
			m.logger.Printf("force timeout (%s) expired, exiting", m.cfg.ForceTimeout)
			m.exit(1)
		})
		defer forceTimer.Stop()

		m.setPhase(PhaseDraining)
		close(m.draining)
		m.drain()

		m.setPhase(PhaseClosing)
		m.runTasks(m.closersSnapshot(), m.cfg.CloseTimeout, "close")

		m.setPhase(PhaseCleanup)
		m.runTasks(m.cleanupsSnapshot(), m.cfg.CleanupTimeout, "cleanup")

		m.setPhase(PhaseTerminated)
		select {
		case <-forced:
			code = 1
		default:
		}
	})
	return code
}

func (m *Manager) setPhase(p Phase) {
	m.phase.Store(int32(p))
	m.logger.Printf("phase %s", p)
}

// drain waits for the active connection count to reach zero. The timer
// restarts whenever a connection finishes, so a busy-but-progressing
// gateway is not cut off mid-drain.
func (m *Manager) drain() {
	if m.active.Load() == 0 {
		return
	}
	timer := time.NewTimer(m.cfg.DrainTimeout)
	defer timer.Stop()
	for {
		select {
		case <-m.progress:
			if m.active.Load() == 0 {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(m.cfg.DrainTimeout)
		case <-timer.C:
			m.logger.Printf("drain timeout with %d connections still active", m.active.Load())
			return
		}
	}
}

func (m *Manager) closersSnapshot() []namedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]namedTask(nil), m.closers...)
}

func (m *Manager) cleanupsSnapshot() []namedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]namedTask(nil), m.cleanups...)
}

// runTasks executes tasks concurrently under one phase budget and records
// per-task success or failure.
func (m *Manager) runTasks(tasks []namedTask, budget time.Duration, phase string) {
	if len(tasks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t namedTask) {
			defer wg.Done()
			if err := t.fn(ctx); err != nil {
				m.logger.Printf("%s task %q failed: %v", phase, t.name, err)
			} else {
				m.logger.Printf("%s task %q done", phase, t.name)
			}
		}(t)
	}

	finished := make(chan struct{})
	go func() { wg.Wait(); close(finished) }()
	select {
	case <-finished:
	case <-ctx.Done():
		m.logger.Printf("%s phase exceeded its %s budget", phase, budget)
	}
}
