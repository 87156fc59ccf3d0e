package cli

import (
	"context"
	"fmt"

	"github.com/nexus-db/nexus-pool/internal/pool"
	"github.com/nexus-db/nexus-pool/pkg/datasource"
	"github.com/nexus-db/nexus-pool/pkg/poolconfig"
)

// Stats loads a pool configuration file, initializes every pool it names
// long enough to read its observability surface, and prints
// pool_size/peak_pool_size/idle_count/closed for each. There is no
// running-process attachment protocol, so this is an in-process demo:
// it stands each pool up fresh, reports its state immediately after
// Init, and tears it down again.
func Stats(configPath string) error {
	file, err := poolconfig.Load(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, spec := range file.Pools {
		factory, err := datasource.NewDriverFactory(spec.Name, spec.Driver, spec.DSN, spec.XA)
		if err != nil {
			return fmt.Errorf("pool %q: %w", spec.Name, err)
		}
		cfg, err := spec.ToPoolConfig()
		if err != nil {
			_ = factory.CloseFactory()
			return err
		}
		m, err := pool.NewManager(cfg, factory, nil)
		if err != nil {
			_ = factory.CloseFactory()
			return err
		}
		if err := m.Init(ctx); err != nil {
			_ = factory.CloseFactory()
			return fmt.Errorf("pool %q: init: %w", spec.Name, err)
		}

		fmt.Printf("%s: pool_size=%d peak_pool_size=%d idle_count=%d closed=%t\n",
			spec.Name, m.PoolSize(), m.PeakPoolSize(), m.IdleCount(), m.Closed())

		m.Shutdown()
		_ = factory.CloseFactory()
	}
	return nil
}
