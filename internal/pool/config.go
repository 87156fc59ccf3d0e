package pool

import (
	"fmt"
	"time"
)

// Config is the pool configuration. pkg/poolconfig loads
// these from disk (JSON/YAML) and resolves driver-default probe SQL;
// internal/pool itself stays free of any file-format or dialect
// dependency, consuming only the resolved values.
type Config struct {
	// Name must be unique among pools registered with a Scheduler.
	Name string

	// CorePoolSize is pre-opened at Init. Must be >= 0.
	CorePoolSize int
	// MaxPoolSize is the hard ceiling on live proxies. Must be >= CorePoolSize.
	MaxPoolSize int
	// AcquireIncrement is the batch size for growth on demand. Clamped
	// to at least 1.
	AcquireIncrement int
	// AcquireRetryTimes bounds try_get_connection's attempts (attempts =
	// AcquireRetryTimes + 1) before surfacing ConnectFailed.
	AcquireRetryTimes int

	// UselessConnectionException: true fails Acquire fast with Exhausted
	// once the pool is at MaxPoolSize; false blocks until a proxy frees up.
	UselessConnectionException bool

	// TestQuerySQL, run against a proxy to validate it. Empty disables
	// validation entirely (see DESIGN.md's Open Question decision).
	TestQuerySQL string
	// TestCreateSQL, run once at Init to provision the probe table.
	// Empty means no table needs provisioning.
	TestCreateSQL string
	// TestBeforeUse: when true, Acquire validates a proxy before handing
	// it out and destroys+replaces it on failure.
	TestBeforeUse bool

	// LimitIdleTime: proxies idle longer are eligible for eviction down
	// to CorePoolSize, by the maintenance scheduler.
	LimitIdleTime time.Duration

	// RetryBaseInterval seeds try_get_connection's exponential backoff
	// between connect attempts. Defaults to 10ms, appropriate for a
	// local or same-datacenter database; raise it for a flakier one.
	RetryBaseInterval time.Duration
}

// WithDefaults returns a copy of c with zero-value optional fields filled
// in sensibly.
func (c Config) WithDefaults() Config {
	if c.AcquireIncrement <= 0 {
		c.AcquireIncrement = 1
	}
	if c.LimitIdleTime <= 0 {
		c.LimitIdleTime = 5 * time.Minute
	}
	if c.RetryBaseInterval <= 0 {
		c.RetryBaseInterval = 10 * time.Millisecond
	}
	return c
}

// Validate checks the invariants a configuration must satisfy.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("pool config: name is required")
	}
	if c.CorePoolSize < 0 {
		return fmt.Errorf("pool %q: core_pool_size must be >= 0", c.Name)
	}
	if c.MaxPoolSize < c.CorePoolSize {
		return fmt.Errorf("pool %q: max_pool_size must be >= core_pool_size", c.Name)
	}
	if c.AcquireRetryTimes < 0 {
		return fmt.Errorf("pool %q: acquire_retry_times must be >= 0", c.Name)
	}
	return nil
}
