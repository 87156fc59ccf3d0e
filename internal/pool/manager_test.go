package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nexus-db/nexus-pool/pkg/datasource"
	"github.com/nexus-db/nexus-pool/pkg/poolerrors"
)

func testConfig(name string) Config {
	return Config{
		Name:              name,
		CorePoolSize:      2,
		MaxPoolSize:       3,
		AcquireIncrement:  1,
		AcquireRetryTimes: 2,
		LimitIdleTime:     50 * time.Millisecond,
		RetryBaseInterval: time.Millisecond,
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *datasource.StaticFactory) {
	t.Helper()
	factory := datasource.NewStaticFactory(cfg.Name)
	m, err := NewManager(cfg, factory, nil)
	require.NoError(t, err)
	require.NoError(t, m.Init(context.Background()))
	return m, factory
}

func TestManager_WarmPoolAcquireIsImmediate(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _ := newTestManager(t, testConfig("warm"))
	defer m.Shutdown()

	require.Equal(t, 2, m.PoolSize())
	require.Equal(t, 2, m.IdleCount())

	p, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInUse, p.State())
	assert.Equal(t, 1, m.IdleCount())

	require.NoError(t, p.Close())
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 2, m.IdleCount())
}

func TestManager_GrowsOnDemandUpToMax(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig("grow")
	m, _ := newTestManager(t, cfg)
	defer m.Shutdown()

	ctx := context.Background()
	p1, err := m.Acquire(ctx)
	require.NoError(t, err)
	p2, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.PoolSize())

	p3, err := m.Acquire(ctx) // exceeds core size, should grow to max
	require.NoError(t, err)
	assert.Equal(t, 3, m.PoolSize())
	assert.Equal(t, 3, m.PeakPoolSize())

	require.NoError(t, p1.Close())
	require.NoError(t, p2.Close())
	require.NoError(t, p3.Close())
}

func TestManager_ExhaustionFailsFastWhenConfigured(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig("exhaust-failfast")
	cfg.UselessConnectionException = true
	m, _ := newTestManager(t, cfg)
	defer m.Shutdown()

	ctx := context.Background()
	var held []*Proxy
	for i := 0; i < cfg.MaxPoolSize; i++ {
		p, err := m.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, p)
	}

	_, err := m.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, poolerrors.Is(err, poolerrors.Exhausted))

	for _, p := range held {
		require.NoError(t, p.Close())
	}
}

func TestManager_ExhaustionBlocksThenWakesOnRelease(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig("exhaust-block")
	cfg.UselessConnectionException = false
	m, _ := newTestManager(t, cfg)
	defer m.Shutdown()

	ctx := context.Background()
	var held []*Proxy
	for i := 0; i < cfg.MaxPoolSize; i++ {
		p, err := m.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, p)
	}

	done := make(chan *Proxy, 1)
	go func() {
		p, err := m.Acquire(ctx)
		if err != nil {
			close(done)
			return
		}
		done <- p
	}()

	time.Sleep(20 * time.Millisecond) // let the acquirer start blocking
	require.NoError(t, held[0].Close())

	select {
	case p, ok := <-done:
		require.True(t, ok)
		require.NoError(t, p.Close())
	case <-time.After(2 * time.Second):
		t.Fatal("blocked acquirer was never woken")
	}

	for _, p := range held[1:] {
		require.NoError(t, p.Close())
	}
}

func TestManager_ExhaustionBlockRespectsContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig("exhaust-cancel")
	cfg.UselessConnectionException = false
	m, _ := newTestManager(t, cfg)
	defer m.Shutdown()

	ctx := context.Background()
	var held []*Proxy
	for i := 0; i < cfg.MaxPoolSize; i++ {
		p, err := m.Acquire(ctx)
		require.NoError(t, err)
		held = append(held, p)
	}

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(cctx)
	require.Error(t, err)
	assert.True(t, poolerrors.Is(err, poolerrors.Timeout))

	for _, p := range held {
		require.NoError(t, p.Close())
	}
}

func TestManager_ValidationFailureDestroysAndReplaces(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig("validate")
	cfg.TestBeforeUse = true
	cfg.TestQuerySQL = "SELECT 1"
	m, factory := newTestManager(t, cfg)
	defer m.Shutdown()

	// PopMostRecent pops LIFO, so the last connection fillPool opened is
	// the "head" of the chain the next acquire will see first. Poison
	// only that one: one invalid
	// proxy destroyed and replaced, pool_size back at core_pool_size.
	opened := factory.Opened()
	opened[len(opened)-1].QueryErr = assertErr

	p, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInUse, p.State())
	assert.Equal(t, cfg.CorePoolSize, m.PoolSize())
	require.NoError(t, p.Close())
}

func TestManager_ShrinkEvictsPastLimitIdleTimeNotBelowCore(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig("shrink")
	cfg.CorePoolSize = 1
	cfg.MaxPoolSize = 3
	cfg.LimitIdleTime = time.Millisecond
	m, _ := newTestManager(t, cfg)
	defer m.Shutdown()

	ctx := context.Background()
	p1, err := m.Acquire(ctx)
	require.NoError(t, err)
	p2, err := m.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p1.Close())
	require.NoError(t, p2.Close())
	require.Equal(t, 2, m.PoolSize())

	time.Sleep(5 * time.Millisecond)
	evicted := m.Shrink(time.Now())
	assert.Equal(t, 1, evicted)
	assert.Equal(t, cfg.CorePoolSize, m.PoolSize())
}

func TestManager_DoubleReleaseIsAFault(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, _ := newTestManager(t, testConfig("double-release"))
	defer m.Shutdown()

	p, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	err = p.Close()
	require.Error(t, err)
	assert.True(t, poolerrors.Is(err, poolerrors.ProxyClosed))
}

func TestManager_KeepalivePingDestroysFailingIdleProxy(t *testing.T) {
	defer goleak.VerifyNone(t)
	cfg := testConfig("keepalive")
	cfg.TestQuerySQL = "SELECT 1"
	m, factory := newTestManager(t, cfg)
	defer m.Shutdown()

	for _, c := range factory.Opened() {
		c.QueryErr = assertErr
	}

	m.KeepalivePing(context.Background(), 10)
	assert.Equal(t, 0, m.PoolSize())
}

func TestManager_ShutdownIsIdempotentAndDrainsIdle(t *testing.T) {
	defer goleak.VerifyNone(t)
	m, factory := newTestManager(t, testConfig("shutdown"))

	m.Shutdown()
	m.Shutdown() // must not panic or double-close

	assert.True(t, m.Closed())
	assert.Equal(t, 2, factory.ClosedCount())

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, poolerrors.Is(err, poolerrors.PoolClosed))
}

var assertErr = poolerrors.New(poolerrors.ValidationFailed, "test", "simulated probe failure")
