// Package poolconfig loads pool definitions from a JSON or YAML file via
// spf13/viper, resolves per-driver defaults through pkg/dialect, and
// enforces the process-wide pool-name-uniqueness invariant the
// configuration layer requires.
package poolconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/nexus-db/nexus-pool/internal/pool"
	"github.com/nexus-db/nexus-pool/pkg/dialect"
)

// PoolSpec is one pool's entry in a configuration file. Field names match
// the pool configuration's JSON/YAML keys.
type PoolSpec struct {
	Name                       string `mapstructure:"name"`
	Driver                     string `mapstructure:"driver"`
	DSN                        string `mapstructure:"dsn"`
	XA                         bool   `mapstructure:"xa"`
	CorePoolSize               int    `mapstructure:"core_pool_size"`
	MaxPoolSize                int    `mapstructure:"max_pool_size"`
	AcquireIncrement           int    `mapstructure:"acquire_increment"`
	AcquireRetryTimes          int    `mapstructure:"acquire_retry_times"`
	UselessConnectionException bool   `mapstructure:"useless_connection_exception"`
	TestTableName              string `mapstructure:"test_table_name"`
	TestQuerySQL               string `mapstructure:"test_query_sql"`
	TestCreateSQL              string `mapstructure:"test_create_sql"`
	TestBeforeUse              bool   `mapstructure:"test_before_use"`
	LimitIdleTime              string `mapstructure:"limit_idle_time"`
	RetryBaseInterval          string `mapstructure:"retry_base_interval"`
}

// defaultProbeTable names the liveness-probe table when a pool's
// test_table_name is left blank.
const defaultProbeTable = "nexuspool_probe"

// File is the top-level shape of a pool configuration file: a list of
// pools plus the settings that drive the shared maintenance scheduler.
type File struct {
	Pools               []PoolSpec `mapstructure:"pools"`
	MaintenanceInterval string     `mapstructure:"maintenance_interval"`
	KeepaliveProbeCount int        `mapstructure:"keepalive_probe_count"`
}

// Load reads and unmarshals a pool configuration file. The format is
// inferred from its extension (.json, .yaml, .yml), matching viper's
// default behavior.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("poolconfig: reading %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("poolconfig: parsing %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate enforces pool-name uniqueness and per-pool driver validity
// before any pool is built from this file.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Pools))
	for _, p := range f.Pools {
		if p.Name == "" {
			return fmt.Errorf("poolconfig: a pool entry is missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("poolconfig: duplicate pool name %q", p.Name)
		}
		seen[p.Name] = true
		if _, ok := dialect.Lookup(p.Driver); !ok {
			return fmt.Errorf("poolconfig: pool %q: unknown driver %q", p.Name, p.Driver)
		}
	}
	return nil
}

// MaintenanceIntervalDuration parses MaintenanceInterval, defaulting to
// one minute when blank or unparseable.
func (f *File) MaintenanceIntervalDuration() time.Duration {
	d, err := time.ParseDuration(f.MaintenanceInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// ToPoolConfig converts one PoolSpec into an internal/pool.Config,
// resolving test_create_sql/test_query_sql from the dialect's defaults
// when the file leaves them blank.
func (p PoolSpec) ToPoolConfig() (pool.Config, error) {
	d, ok := dialect.Lookup(p.Driver)
	if !ok {
		return pool.Config{}, fmt.Errorf("poolconfig: pool %q: unknown driver %q", p.Name, p.Driver)
	}

	table := p.TestTableName
	if table == "" {
		table = defaultProbeTable
	}
	createSQL := p.TestCreateSQL
	querySQL := p.TestQuerySQL
	if createSQL == "" {
		createSQL = d.DefaultCreateSQL(table)
	}
	if querySQL == "" {
		querySQL = d.DefaultQuerySQL(table)
	}

	cfg := pool.Config{
		Name:                       p.Name,
		CorePoolSize:               p.CorePoolSize,
		MaxPoolSize:                p.MaxPoolSize,
		AcquireIncrement:           p.AcquireIncrement,
		AcquireRetryTimes:          p.AcquireRetryTimes,
		UselessConnectionException: p.UselessConnectionException,
		TestQuerySQL:               querySQL,
		TestCreateSQL:              createSQL,
		TestBeforeUse:              p.TestBeforeUse,
	}
	if p.LimitIdleTime != "" {
		d, err := time.ParseDuration(p.LimitIdleTime)
		if err != nil {
			return pool.Config{}, fmt.Errorf("poolconfig: pool %q: invalid limit_idle_time: %w", p.Name, err)
		}
		cfg.LimitIdleTime = d
	}
	if p.RetryBaseInterval != "" {
		d, err := time.ParseDuration(p.RetryBaseInterval)
		if err != nil {
			return pool.Config{}, fmt.Errorf("poolconfig: pool %q: invalid retry_base_interval: %w", p.Name, err)
		}
		cfg.RetryBaseInterval = d
	}
	return cfg.WithDefaults(), nil
}
