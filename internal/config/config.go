package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine names.
const (
	EngineDurable  = "durable"
	EngineInMemory = "inMemory"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Node        NodeConfig        `json:"node" yaml:"node"`
	DataDir     string            `json:"dataDir" yaml:"dataDir"`
	Engine      string            `json:"engine" yaml:"engine"`
	Fsync       string            `json:"fsync" yaml:"fsync"`
	Oplog       OplogConfig       `json:"oplog" yaml:"oplog"`
	Checkpoint  CheckpointConfig  `json:"checkpoint" yaml:"checkpoint"`
	Txn         TxnConfig         `json:"txn" yaml:"txn"`
	Secondaries []SecondaryConfig `json:"secondaries" yaml:"secondaries"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// NodeConfig names the primary node.
type NodeConfig struct {
	Name string `json:"name" yaml:"name"`
}

// OplogConfig captures retention settings.
type OplogConfig struct {
	// MaxBytes is the configured maximum oplog size.
	MaxBytes         int64    `json:"maxBytes" yaml:"maxBytes"`
	TruncateInterval Duration `json:"truncateInterval" yaml:"truncateInterval"`
	DeleteBatch      int      `json:"deleteBatch" yaml:"deleteBatch"`
	DeleteRatePerSec float64  `json:"deleteRatePerSec" yaml:"deleteRatePerSec"`
}

// CheckpointConfig applies to the durable engine.
type CheckpointConfig struct {
	IntervalSeconds int    `json:"intervalSeconds" yaml:"intervalSeconds"`
	Dir             string `json:"dir" yaml:"dir"`
	Keep            int    `json:"keep" yaml:"keep"`
}

// TxnConfig selects the transaction log layout: multi or single.
type TxnConfig struct {
	Format string `json:"format" yaml:"format"`
}

// SecondaryConfig declares an in-process secondary replicating the primary.
type SecondaryConfig struct {
	Name   string `json:"name" yaml:"name"`
	Engine string `json:"engine" yaml:"engine"`
}

// HTTPConfig configures the status/driver API.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig mirrors pkg/log.Config.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
}

// Duration accepts Go duration strings in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Node:    NodeConfig{Name: "primary"},
		DataDir: DefaultDataDir(),
		Engine:  EngineDurable,
		Fsync:   "always",
		Oplog: OplogConfig{
			MaxBytes:         1 << 30,
			TruncateInterval: Duration(time.Second),
			DeleteBatch:      1024,
		},
		Checkpoint: CheckpointConfig{
			IntervalSeconds: 60,
			Keep:            2,
		},
		Txn:  TxnConfig{Format: "multi"},
		HTTP: HTTPConfig{Addr: ":8027"},
		Log:  LogConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// CheckpointInterval returns the checkpoint cadence.
func (c Config) CheckpointInterval() time.Duration {
	return time.Duration(c.Checkpoint.IntervalSeconds) * time.Second
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := validEngine(c.Engine); err != nil {
		return err
	}
	if c.Engine == EngineDurable && c.DataDir == "" {
		return errors.New("dataDir is required for the durable engine")
	}
	if c.Oplog.MaxBytes <= 0 {
		return fmt.Errorf("oplog.maxBytes must be positive, got %d", c.Oplog.MaxBytes)
	}
	if c.Oplog.TruncateInterval <= 0 {
		return errors.New("oplog.truncateInterval must be positive")
	}
	if c.Checkpoint.IntervalSeconds <= 0 {
		return fmt.Errorf("checkpoint.intervalSeconds must be positive, got %d", c.Checkpoint.IntervalSeconds)
	}
	seen := map[string]bool{c.Node.Name: true}
	for _, s := range c.Secondaries {
		if s.Name == "" {
			return errors.New("secondary name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate node name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Engine != "" {
			if err := validEngine(s.Engine); err != nil {
				return fmt.Errorf("secondary %s: %w", s.Name, err)
			}
		}
		if s.Engine == EngineDurable && c.DataDir == "" {
			return fmt.Errorf("secondary %s: dataDir is required for the durable engine", s.Name)
		}
	}
	return nil
}

func validEngine(e string) error {
	switch e {
	case EngineDurable, EngineInMemory:
		return nil
	}
	return fmt.Errorf("invalid engine %q; use %s|%s", e, EngineDurable, EngineInMemory)
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
