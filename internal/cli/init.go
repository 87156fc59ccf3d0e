// Package cli implements the nexuspool CLI command handlers.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the default pool configuration file name written by
// Init and read by Serve/Stats when no explicit path is given.
const ConfigFileName = "nexuspool.json"

// starterConfig is the shape Init writes: one example pool plus the
// process-wide maintenance settings.
type starterConfig struct {
	Pools               []starterPool `json:"pools"`
	MaintenanceInterval string        `json:"maintenance_interval"`
	KeepaliveProbeCount int           `json:"keepalive_probe_count"`
}

type starterPool struct {
	Name                       string `json:"name"`
	Driver                     string `json:"driver"`
	DSN                        string `json:"dsn"`
	XA                         bool   `json:"xa"`
	CorePoolSize               int    `json:"core_pool_size"`
	MaxPoolSize                int    `json:"max_pool_size"`
	AcquireIncrement           int    `json:"acquire_increment"`
	AcquireRetryTimes          int    `json:"acquire_retry_times"`
	UselessConnectionException bool   `json:"useless_connection_exception"`
	TestBeforeUse              bool   `json:"test_before_use"`
	LimitIdleTime              string `json:"limit_idle_time"`
}

func defaultStarterConfig(poolName string) starterConfig {
	return starterConfig{
		Pools: []starterPool{{
			Name:              poolName,
			Driver:            "sqlite3",
			DSN:               "file:./nexuspool.db?cache=shared",
			CorePoolSize:      2,
			MaxPoolSize:       10,
			AcquireIncrement:  2,
			AcquireRetryTimes: 3,
			TestBeforeUse:     true,
			LimitIdleTime:     "5m",
		}},
		MaintenanceInterval: "30s",
		KeepaliveProbeCount: 2,
	}
}

// Init writes a starter pool configuration file (ConfigFileName) into dir,
// holding one pool entry named poolName. It refuses to overwrite an
// existing file.
func Init(dir, poolName string) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if poolName == "" {
		poolName = "default"
	}

	configPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("project already initialized: %s exists", ConfigFileName)
	}

	cfg := defaultStarterConfig(poolName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return err
	}
	fmt.Printf("created %s\n", configPath)
	fmt.Println("edit it to point at a real database, then run 'nexuspool serve'")
	return nil
}
