package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, EngineDurable, cfg.Engine)
	require.EqualValues(t, 1<<30, cfg.Oplog.MaxBytes)
	require.Equal(t, time.Second, cfg.Oplog.TruncateInterval.Std())
	require.Equal(t, time.Minute, cfg.CheckpointInterval())
	require.NoError(t, cfg.Validate())
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "oplogd.json")
	data := []byte(`{"engine":"inMemory","oplog":{"maxBytes":4096,"truncateInterval":"250ms"},"checkpoint":{"intervalSeconds":5},"secondaries":[{"name":"s1"}]}`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, EngineInMemory, cfg.Engine)
	require.EqualValues(t, 4096, cfg.Oplog.MaxBytes)
	require.Equal(t, 250*time.Millisecond, cfg.Oplog.TruncateInterval.Std())
	require.Equal(t, 5, cfg.Checkpoint.IntervalSeconds)
	require.Equal(t, []SecondaryConfig{{Name: "s1"}}, cfg.Secondaries)
	// Unset fields keep their defaults.
	require.Equal(t, 1024, cfg.Oplog.DeleteBatch)
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "oplogd.yaml")
	data := []byte(`
node:
  name: east
engine: durable
oplog:
  maxBytes: 1048576
  truncateInterval: 2s
  deleteRatePerSec: 50
checkpoint:
  intervalSeconds: 30
  dir: /tmp/ckpt
  keep: 3
txn:
  format: single
secondaries:
  - name: west
    engine: inMemory
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(file, data, 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, "east", cfg.Node.Name)
	require.EqualValues(t, 1<<20, cfg.Oplog.MaxBytes)
	require.Equal(t, 2*time.Second, cfg.Oplog.TruncateInterval.Std())
	require.Equal(t, 50.0, cfg.Oplog.DeleteRatePerSec)
	require.Equal(t, "/tmp/ckpt", cfg.Checkpoint.Dir)
	require.Equal(t, 3, cfg.Checkpoint.Keep)
	require.Equal(t, "single", cfg.Txn.Format)
	require.Equal(t, []SecondaryConfig{{Name: "west", Engine: EngineInMemory}}, cfg.Secondaries)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"oplog":{"truncateInterval":"soon"}}`), 0o644))
	_, err := Load(file)
	require.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("OPLOGD_ENGINE", "inMemory")
	t.Setenv("OPLOGD_OPLOG_MAX_BYTES", "2048")
	t.Setenv("OPLOGD_OPLOG_TRUNCATE_INTERVAL", "100ms")
	t.Setenv("OPLOGD_CHECKPOINT_INTERVAL_SECONDS", "not-a-number")
	t.Setenv("OPLOGD_SECONDARIES", "s1, s2:inMemory,")
	FromEnv(&cfg)

	require.Equal(t, EngineInMemory, cfg.Engine)
	require.EqualValues(t, 2048, cfg.Oplog.MaxBytes)
	require.Equal(t, 100*time.Millisecond, cfg.Oplog.TruncateInterval.Std())
	require.Equal(t, 60, cfg.Checkpoint.IntervalSeconds, "malformed values are ignored")
	require.Equal(t, []SecondaryConfig{{Name: "s1"}, {Name: "s2", Engine: EngineInMemory}}, cfg.Secondaries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad engine", func(c *Config) { c.Engine = "tape" }},
		{"zero max", func(c *Config) { c.Oplog.MaxBytes = 0 }},
		{"zero interval", func(c *Config) { c.Checkpoint.IntervalSeconds = 0 }},
		{"duplicate names", func(c *Config) { c.Secondaries = []SecondaryConfig{{Name: "primary"}} }},
		{"bad secondary engine", func(c *Config) { c.Secondaries = []SecondaryConfig{{Name: "s", Engine: "x"}} }},
		{"durable secondary without dataDir", func(c *Config) {
			c.Engine, c.DataDir = EngineInMemory, ""
			c.Secondaries = []SecondaryConfig{{Name: "s", Engine: EngineDurable}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
