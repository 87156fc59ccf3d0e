package poolconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nexuspool.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

const sampleConfig = `{
  "pools": [
    {
      "name": "primary",
      "driver": "sqlite3",
      "dsn": "file::memory:",
      "core_pool_size": 2,
      "max_pool_size": 5,
      "acquire_increment": 1,
      "test_before_use": true,
      "limit_idle_time": "1m"
    }
  ],
  "maintenance_interval": "15s",
  "keepalive_probe_count": 3
}`

func TestLoad_ParsesPoolsAndSettings(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	f, err := Load(path)
	require.NoError(t, err)

	require.Len(t, f.Pools, 1)
	p := f.Pools[0]
	assert.Equal(t, "primary", p.Name)
	assert.Equal(t, "sqlite3", p.Driver)
	assert.Equal(t, 2, p.CorePoolSize)
	assert.Equal(t, 15*time.Second, f.MaintenanceIntervalDuration())
	assert.Equal(t, 3, f.KeepaliveProbeCount)
}

func TestLoad_RejectsDuplicatePoolNames(t *testing.T) {
	path := writeConfig(t, `{
  "pools": [
    {"name": "dup", "driver": "sqlite3", "dsn": "file::memory:"},
    {"name": "dup", "driver": "sqlite3", "dsn": "file::memory:"}
  ]
}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `{"pools": [{"name": "p", "driver": "oracle", "dsn": "x"}]}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestPoolSpec_ToPoolConfigFillsDialectDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	f, err := Load(path)
	require.NoError(t, err)

	cfg, err := f.Pools[0].ToPoolConfig()
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Name)
	assert.NotEmpty(t, cfg.TestCreateSQL)
	assert.NotEmpty(t, cfg.TestQuerySQL)
	assert.Equal(t, time.Minute, cfg.LimitIdleTime)
}

func TestPoolSpec_ToPoolConfigRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `{"pools": [{"name": "p", "driver": "sqlite3", "dsn": "x", "limit_idle_time": "not-a-duration"}]}`)
	f, err := Load(path)
	require.NoError(t, err)

	_, err = f.Pools[0].ToPoolConfig()
	assert.Error(t, err)
}

func TestMaintenanceIntervalDuration_DefaultsWhenBlank(t *testing.T) {
	f := &File{}
	assert.Equal(t, time.Minute, f.MaintenanceIntervalDuration())
}
