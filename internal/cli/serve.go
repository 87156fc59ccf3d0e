package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nexus-db/nexus-pool/internal/pool"
	"github.com/nexus-db/nexus-pool/pkg/datasource"
	"github.com/nexus-db/nexus-pool/pkg/poolconfig"
	"github.com/nexus-db/nexus-pool/pkg/poollog"
)

// Serve loads a pool configuration file, starts every pool it names plus
// the shared maintenance scheduler, hot-applies live-safe settings as the
// file changes on disk, and blocks until SIGINT/SIGTERM.
func Serve(configPath string) error {
	file, err := poolconfig.Load(configPath)
	if err != nil {
		return err
	}
	logger := poollog.NewLogger(os.Stdout, poollog.LevelInfo)

	scheduler := pool.NewScheduler(file.MaintenanceIntervalDuration(), file.KeepaliveProbeCount, logger)

	managers := make(map[string]*pool.Manager, len(file.Pools))
	factories := make(map[string]*datasource.DriverFactory, len(file.Pools))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, spec := range file.Pools {
		factory, err := datasource.NewDriverFactory(spec.Name, spec.Driver, spec.DSN, spec.XA)
		if err != nil {
			shutdownAll(managers, factories)
			return fmt.Errorf("pool %q: %w", spec.Name, err)
		}
		cfg, err := spec.ToPoolConfig()
		if err != nil {
			shutdownAll(managers, factories)
			return err
		}
		m, err := pool.NewManager(cfg, factory, logger)
		if err != nil {
			shutdownAll(managers, factories)
			return err
		}
		if err := m.Init(ctx); err != nil {
			shutdownAll(managers, factories)
			return fmt.Errorf("pool %q: init: %w", spec.Name, err)
		}
		managers[spec.Name] = m
		factories[spec.Name] = factory
		scheduler.Register(m)
		logger.Log(poollog.LevelInfo, "pool started", map[string]interface{}{
			"pool": spec.Name, "core_pool_size": cfg.CorePoolSize, "max_pool_size": cfg.MaxPoolSize,
		})
	}

	scheduler.Start(ctx)
	defer scheduler.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher := poolconfig.NewWatcher(configPath, 0, logger, func(u poolconfig.LiveUpdate) {
			if m, ok := managers[u.PoolName]; ok {
				m.SetLimitIdleTime(u.LimitIdleTime)
				m.SetAcquireIncrement(u.AcquireIncrement)
			}
			scheduler.SetKeepaliveProbeCount(u.KeepaliveProbeCount)
			scheduler.SetInterval(u.MaintenanceInterval)
		})
		if err := watcher.Run(ctx); err != nil {
			logger.Log(poollog.LevelWarn, "config watcher stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Log(poollog.LevelInfo, "shutting down", nil)

	cancel()
	wg.Wait()
	shutdownAll(managers, factories)
	return nil
}

func shutdownAll(managers map[string]*pool.Manager, factories map[string]*datasource.DriverFactory) {
	for _, m := range managers {
		m.Shutdown()
	}
	for _, f := range factories {
		_ = f.CloseFactory()
	}
}
