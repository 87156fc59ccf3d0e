// Package pool implements the pool manager and its collaborators: the
// bounded reservoir of physical connections, the priority
// chain of idle proxies (§4.A), the connection proxy state machine
// (§4.B), and the process-wide maintenance scheduler (§4.D).
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nexus-db/nexus-pool/pkg/datasource"
	"github.com/nexus-db/nexus-pool/pkg/poolerrors"
	"github.com/nexus-db/nexus-pool/pkg/poollog"
)

// Manager is the pool manager. It owns the chain and the
// full set of live proxies and implements acquire/release/grow/shrink/
// validation/shutdown.
type Manager struct {
	cfg     Config
	factory datasource.Factory
	logger  poollog.Logger
	stats   *poollog.StatsCollector

	mu         sync.Mutex
	cond       *sync.Cond
	chain      *Chain
	allProxies map[*Proxy]struct{}

	poolSize     atomic.Int32
	peakPoolSize atomic.Int32
	closed       atomic.Bool

	// acquireIncrement and limitIdleTimeNanos shadow the same-named
	// Config fields so pkg/poolconfig's file watcher can hot-apply them
	// without a lock on the rest of cfg, which stays
	// fixed for the pool's lifetime.
	acquireIncrement   atomic.Int32
	limitIdleTimeNanos atomic.Int64
}

// NewManager builds a Manager. It does not open any connections — call
// Init for that.
func NewManager(cfg Config, factory datasource.Factory, logger poollog.Logger) (*Manager, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = poollog.Noop
	}
	m := &Manager{
		cfg:        cfg,
		factory:    factory,
		logger:     logger,
		stats:      poollog.NewStatsCollector(),
		chain:      NewChain(),
		allProxies: make(map[*Proxy]struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	m.acquireIncrement.Store(int32(cfg.AcquireIncrement))
	m.limitIdleTimeNanos.Store(int64(cfg.LimitIdleTime))
	return m, nil
}

// SetAcquireIncrement hot-applies a new growth batch size without
// requiring a restart.
func (m *Manager) SetAcquireIncrement(n int) {
	if n < 1 {
		n = 1
	}
	m.acquireIncrement.Store(int32(n))
}

// SetLimitIdleTime hot-applies a new idle-eviction threshold for Shrink.
func (m *Manager) SetLimitIdleTime(d time.Duration) {
	if d <= 0 {
		return
	}
	m.limitIdleTimeNanos.Store(int64(d))
}

// Name returns the pool's configured name.
func (m *Manager) Name() string { return m.cfg.Name }

// Config returns the pool's resolved configuration.
func (m *Manager) Config() Config { return m.cfg }

// Stats returns a snapshot of acquire/release/grow counters.
func (m *Manager) Stats() poollog.Stats { return m.stats.Snapshot() }

// PoolSize returns the current count of live proxies (idle + in-use).
func (m *Manager) PoolSize() int { return int(m.poolSize.Load()) }

// PeakPoolSize returns the water-mark of PoolSize since creation.
func (m *Manager) PeakPoolSize() int { return int(m.peakPoolSize.Load()) }

// IdleCount returns the number of currently-chained (idle) proxies.
func (m *Manager) IdleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.Len()
}

// Closed reports whether Shutdown has been called.
func (m *Manager) Closed() bool { return m.closed.Load() }

// Init pre-populates core_pool_size proxies and, if configured,
// provisions the liveness-probe table exactly once.
func (m *Manager) Init(ctx context.Context) error {
	if m.closed.Load() {
		return poolerrors.New(poolerrors.PoolClosed, m.cfg.Name, "init on a closed pool")
	}
	if m.cfg.TestCreateSQL != "" {
		phys, err := m.tryGetConnection(ctx, m.cfg.AcquireRetryTimes)
		if err != nil {
			return err
		}
		_, execErr := phys.Conn.ExecContext(ctx, m.cfg.TestCreateSQL)
		if execErr != nil {
			_ = m.factory.Close(phys)
			return poolerrors.Wrap(poolerrors.ConnectFailed, m.cfg.Name, "provisioning probe table", execErr)
		}
		p := newProxy(m, phys)
		m.mu.Lock()
		m.allProxies[p] = struct{}{}
		m.chain.Add(p, time.Now())
		m.mu.Unlock()
		m.poolSize.Add(1)
		m.updatePeak()
	}
	remaining := m.cfg.CorePoolSize - m.PoolSize()
	if remaining <= 0 {
		return nil
	}
	return m.fillPool(ctx, remaining)
}

func (m *Manager) updatePeak() {
	size := m.poolSize.Load()
	for {
		peak := m.peakPoolSize.Load()
		if size <= peak {
			return
		}
		if m.peakPoolSize.CompareAndSwap(peak, size) {
			return
		}
	}
}

// tryGetConnection loops the factory's GetConnection until success or
// retryTimes+1 total failures, backing off between
// attempts with an exponential schedule.
func (m *Manager) tryGetConnection(ctx context.Context, retryTimes int) (*datasource.Physical, error) {
	if retryTimes < 0 {
		retryTimes = 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.RetryBaseInterval
	eb.MaxInterval = 20 * m.cfg.RetryBaseInterval
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retryTimes)), ctx)

	var phys *datasource.Physical
	var lastErr error
	err := backoff.Retry(func() error {
		p, err := m.factory.GetConnection(ctx)
		if err != nil {
			lastErr = err
			return err
		}
		phys = p
		return nil
	}, bo)
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, poolerrors.Wrap(poolerrors.ConnectFailed, m.cfg.Name, "connecting to data source", lastErr)
	}
	return phys, nil
}

// fillPool acquires n physical connections and adds them to the chain,
// updating pool_size and peak_pool_size once at the end.
// If the pool closes mid-fill it aborts and tears down what it opened.
func (m *Manager) fillPool(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	acquired := make([]*Proxy, 0, n)
	for i := 0; i < n; i++ {
		if m.closed.Load() {
			break
		}
		phys, err := m.tryGetConnection(ctx, m.cfg.AcquireRetryTimes)
		if err != nil {
			for _, p := range acquired {
				_ = m.factory.Close(p.physical)
			}
			return err
		}
		acquired = append(acquired, newProxy(m, phys))
	}

	if m.closed.Load() {
		for _, p := range acquired {
			_ = m.factory.Close(p.physical)
		}
		return poolerrors.New(poolerrors.PoolClosed, m.cfg.Name, "pool closed during growth")
	}

	m.mu.Lock()
	now := time.Now()
	for _, p := range acquired {
		m.allProxies[p] = struct{}{}
		m.chain.Add(p, now)
	}
	m.mu.Unlock()

	m.poolSize.Add(int32(len(acquired)))
	m.updatePeak()
	m.stats.RecordGrow()
	m.logger.Log(poollog.LevelInfo, "pool grown", map[string]interface{}{
		"pool": m.cfg.Name, "added": len(acquired), "pool_size": m.PoolSize(),
	})
	m.cond.Broadcast()
	return nil
}

func (m *Manager) growAmount(size int32) int {
	remaining := m.cfg.MaxPoolSize - int(size)
	if remaining < 1 {
		return 0
	}
	inc := int(m.acquireIncrement.Load())
	if inc <= 0 {
		inc = 1
	}
	if inc > remaining {
		inc = remaining
	}
	return inc
}

// popOrGrow pops an idle proxy, growing the pool first if there's room,
// or blocking/failing per useless_connection_exception once at capacity.
func (m *Manager) popOrGrow(ctx context.Context) (*Proxy, error) {
	for {
		m.mu.Lock()
		if proxy, ok := m.chain.PopMostRecent(); ok {
			m.mu.Unlock()
			return proxy, nil
		}
		size := m.poolSize.Load()
		if grow := m.growAmount(size); grow > 0 {
			m.mu.Unlock()
			if err := m.fillPool(ctx, grow); err != nil {
				return nil, err
			}
			continue
		}
		if m.cfg.UselessConnectionException {
			m.mu.Unlock()
			return nil, poolerrors.New(poolerrors.Exhausted, m.cfg.Name, "pool exhausted at max_pool_size")
		}
		// Block until release(), a completed growth batch, or Shutdown
		// signals the non-empty condition. waitLocked handles ctx cancellation
		// and returns with m.mu released either way.
		if err := m.waitLocked(ctx); err != nil {
			return nil, err
		}
	}
}

// waitLocked must be called with m.mu held. It waits on the non-empty
// condition, honoring ctx cancellation, and always releases m.mu before
// returning (matching the lock discipline the rest of popOrGrow expects).
func (m *Manager) waitLocked(ctx context.Context) error {
	done := make(chan struct{})
	var ctxErr error
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				ctxErr = ctx.Err()
				m.mu.Lock()
				m.cond.Broadcast()
				m.mu.Unlock()
			case <-done:
			}
		}()
	}
	m.cond.Wait()
	close(done)
	defer m.mu.Unlock()

	if ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return poolerrors.New(poolerrors.Timeout, m.cfg.Name, "timed out waiting for an available connection")
		}
		return poolerrors.New(poolerrors.Interrupted, m.cfg.Name, "wait for an available connection was cancelled")
	}
	if m.closed.Load() {
		return poolerrors.New(poolerrors.PoolClosed, m.cfg.Name, "pool closed while waiting for a connection")
	}
	return nil
}

// Acquire is the critical acquire path. Fairness is signal-one,
// not strict FIFO: a waiter woken by release() re-checks the
// chain rather than being guaranteed the freed proxy.
//
// If test_before_use is false, an invalid idle proxy is handed out
// as-is — it remains eligible for the
// maintenance scheduler's keepalive probe, which will eventually destroy
// it on a later sweep.
func (m *Manager) Acquire(ctx context.Context) (*Proxy, error) {
	if m.closed.Load() {
		return nil, poolerrors.New(poolerrors.PoolClosed, m.cfg.Name, "acquire on a closed pool")
	}
	start := time.Now()
	for {
		proxy, err := m.popOrGrow(ctx)
		if err != nil {
			if poolerrors.Is(err, poolerrors.Timeout) {
				m.stats.RecordTimeout()
			}
			return nil, err
		}
		proxy.markInUse()

		if m.cfg.TestBeforeUse {
			if verr := m.validate(ctx, proxy); verr != nil {
				m.stats.RecordValidationFailure()
				m.logger.Log(poollog.LevelWarn, "validation failed, destroying and replacing", map[string]interface{}{
					"pool": m.cfg.Name,
				})
				// Validation failures are not counted against
				// acquire_retry_times: the invalid proxy is destroyed and
				// one replacement is opened in its place before the loop
				// retries. A failed replacement is logged; the next
				// popOrGrow still grows if the chain is empty.
				m.destroyProxy(proxy)
				if ferr := m.fillPool(ctx, 1); ferr != nil {
					m.logger.Log(poollog.LevelWarn, "replacement after validation failure failed", map[string]interface{}{
						"pool": m.cfg.Name, "error": ferr.Error(),
					})
				}
				continue
			}
		}

		m.stats.RecordAcquire(time.Since(start))
		return proxy, nil
	}
}

// validate runs the configured liveness probe. An empty TestQuerySQL
// disables validation (always considered valid).
func (m *Manager) validate(ctx context.Context, p *Proxy) error {
	if m.cfg.TestQuerySQL == "" {
		return nil
	}
	conn, err := p.Conn()
	if err != nil {
		return err
	}
	rows, err := conn.QueryContext(ctx, m.cfg.TestQuerySQL)
	if err != nil {
		return poolerrors.Wrap(poolerrors.ValidationFailed, m.cfg.Name, "liveness probe failed", err)
	}
	if rows != nil {
		_ = rows.Close()
	}
	return nil
}

// release is Proxy.Close()'s target: it re-chains a released proxy and
// wakes exactly one waiter. A proxy that is not currently IN_USE fails
// with ProxyClosed — a double-release is a fault here, not a no-op (see
// DESIGN.md's Open Question decision), because a silent no-op would let
// the same proxy reach the chain twice and be handed to two concurrent
// acquirers, violating the "delivered to at most one subsequent
// acquirer" property.
func (m *Manager) release(p *Proxy) error {
	drained, ok := p.releaseFromInUse()
	if !ok {
		return poolerrors.New(poolerrors.ProxyClosed, m.cfg.Name, "release of a proxy that is not in use")
	}
	for _, d := range drained {
		_ = d.Close()
	}

	if m.closed.Load() {
		m.destroyProxy(p)
		return nil
	}

	m.mu.Lock()
	m.chain.Add(p, time.Now())
	m.mu.Unlock()

	m.stats.RecordRelease()
	m.cond.Signal()
	return nil
}

// destroyProxy closes p's physical connection, removes it from the live
// set, and decrements pool_size. Errors closing the physical handle are
// logged and swallowed: errors closing a proxy are logged
// and swallowed to avoid cascading shutdown failure").
func (m *Manager) destroyProxy(p *Proxy) {
	p.markClosed()
	m.mu.Lock()
	m.chain.Remove(p)
	delete(m.allProxies, p)
	m.mu.Unlock()

	if err := m.factory.Close(p.physical); err != nil {
		m.logger.Log(poollog.LevelWarn, "error closing physical connection", map[string]interface{}{
			"pool": m.cfg.Name, "error": err.Error(),
		})
	}
	m.poolSize.Add(-1)
}

// Shrink evicts idle proxies older than limit_idle_time, never going
// below core_pool_size. Candidates are popped under
// the pool lock; the actual close happens outside it. Returns how many
// proxies were destroyed.
func (m *Manager) Shrink(now time.Time) int {
	if m.closed.Load() {
		return 0
	}

	m.mu.Lock()
	size := m.poolSize.Load()
	floor := int32(m.cfg.CorePoolSize)
	if size <= floor {
		m.mu.Unlock()
		return 0
	}
	allowedToRemove := int(size - floor)
	cutoff := now.Add(-time.Duration(m.limitIdleTimeNanos.Load()))
	var candidates []*Proxy
	for _, p := range m.chain.PeekOldest(allowedToRemove) {
		if !p.IdleSince().Before(cutoff) {
			break
		}
		m.chain.Remove(p)
		candidates = append(candidates, p)
	}
	m.mu.Unlock()

	for _, p := range candidates {
		m.destroyProxy(p)
	}
	if len(candidates) > 0 {
		m.logger.Log(poollog.LevelInfo, "idle proxies evicted", map[string]interface{}{
			"pool": m.cfg.Name, "evicted": len(candidates), "pool_size": m.PoolSize(),
		})
	}
	return len(candidates)
}

// KeepalivePing runs the liveness probe against up to n of the
// oldest-idle proxies without removing them from the chain unless the
// probe fails.
func (m *Manager) KeepalivePing(ctx context.Context, n int) {
	if m.cfg.TestQuerySQL == "" || n <= 0 || m.closed.Load() {
		return
	}
	m.mu.Lock()
	targets := m.chain.PeekOldest(n)
	m.mu.Unlock()

	for _, p := range targets {
		if p.State() != StateIdle {
			continue // acquired by someone else since PeekOldest
		}
		if err := m.validate(ctx, p); err != nil {
			m.mu.Lock()
			removed := m.chain.Remove(p)
			m.mu.Unlock()
			if removed {
				m.stats.RecordValidationFailure()
				m.destroyProxy(p)
			}
		}
	}
}

// Shutdown sets closed permanently, closes every currently-idle proxy,
// and lets in-use proxies close on their next release instead of
// forcibly interrupting the caller holding them. Idempotent.
func (m *Manager) Shutdown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	snapshot := make([]*Proxy, 0, len(m.allProxies))
	for p := range m.allProxies {
		snapshot = append(snapshot, p)
	}
	m.allProxies = make(map[*Proxy]struct{})
	m.chain = NewChain()
	m.mu.Unlock()

	m.cond.Broadcast()

	for _, p := range snapshot {
		if p.State() == StateIdle {
			m.destroyProxy(p)
		}
	}
}
