package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-db/nexus-pool/pkg/poollog"
)

// Scheduler is the maintenance scheduler: a single
// process-wide worker that periodically drives idle eviction, keepalive
// checks, and peak-size accounting across every registered pool. It never
// holds a pool's lock during I/O — Manager.Shrink and
// Manager.KeepalivePing already pop candidates under lock and act on them
// outside it.
type Scheduler struct {
	interval   time.Duration
	keepaliveN atomic.Int32
	logger     poollog.Logger

	mu    sync.Mutex
	pools map[string]*Manager

	resetCh  chan time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler that runs every interval, probing up
// to keepaliveN of each pool's oldest-idle proxies per tick.
func NewScheduler(interval time.Duration, keepaliveN int, logger poollog.Logger) *Scheduler {
	if logger == nil {
		logger = poollog.Noop
	}
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Scheduler{
		interval: interval,
		logger:   logger,
		pools:    make(map[string]*Manager),
		resetCh:  make(chan time.Duration, 1),
		stopCh:   make(chan struct{}),
	}
	s.keepaliveN.Store(int32(keepaliveN))
	return s
}

// SetKeepaliveProbeCount hot-applies a new per-tick probe count.
func (s *Scheduler) SetKeepaliveProbeCount(n int) {
	s.keepaliveN.Store(int32(n))
}

// SetInterval hot-applies a new sweep cadence. Takes effect on the
// running ticker without requiring Stop/Start.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case s.resetCh <- d:
	default:
		// A reset is already pending; dropping this one is fine for a
		// live-tuning knob.
	}
}

// Register adds a pool to the scheduler's sweep set.
func (s *Scheduler) Register(m *Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[m.Name()] = m
}

// Deregister removes a pool, e.g. after it has been shut down.
func (s *Scheduler) Deregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools, name)
}

// Start runs the scheduler's sweep loop in a background goroutine until
// ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case d := <-s.resetCh:
				s.interval = d
				ticker.Reset(d)
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit. Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// RunOnce performs one maintenance sweep across every registered pool.
// Exported so callers can drive a sweep without waiting for the ticker.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	snapshot := make([]*Manager, 0, len(s.pools))
	for _, m := range s.pools {
		snapshot = append(snapshot, m)
	}
	s.mu.Unlock()

	for _, m := range snapshot {
		if m.Closed() {
			s.Deregister(m.Name())
			continue
		}
		if m.PoolSize() > m.Config().CorePoolSize {
			m.Shrink(timeNow())
		}
		m.KeepalivePing(ctx, int(s.keepaliveN.Load()))
		s.logger.Log(poollog.LevelDebug, "maintenance sweep", map[string]interface{}{
			"pool":           m.Name(),
			"pool_size":      m.PoolSize(),
			"idle_count":     m.IdleCount(),
			"peak_pool_size": m.PeakPoolSize(),
		})
	}
}

// timeNow is a seam so tests can't accidentally depend on wall-clock
// flakiness beyond what time.Now already implies; kept as a plain alias
// rather than a package variable since nothing currently needs to fake it.
func timeNow() time.Time { return time.Now() }
