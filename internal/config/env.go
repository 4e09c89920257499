package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv overlays OPLOGD_* environment variables onto cfg. Malformed values
// are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("OPLOGD_NODE_NAME"); v != "" {
		cfg.Node.Name = v
	}
	if v := os.Getenv("OPLOGD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OPLOGD_ENGINE"); v != "" {
		cfg.Engine = v
	}
	if v := os.Getenv("OPLOGD_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("OPLOGD_OPLOG_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Oplog.MaxBytes = n
		}
	}
	if v := os.Getenv("OPLOGD_OPLOG_TRUNCATE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Oplog.TruncateInterval = Duration(d)
		}
	}
	if v := os.Getenv("OPLOGD_OPLOG_DELETE_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Oplog.DeleteBatch = n
		}
	}
	if v := os.Getenv("OPLOGD_OPLOG_DELETE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Oplog.DeleteRatePerSec = f
		}
	}
	if v := os.Getenv("OPLOGD_CHECKPOINT_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checkpoint.IntervalSeconds = n
		}
	}
	if v := os.Getenv("OPLOGD_CHECKPOINT_DIR"); v != "" {
		cfg.Checkpoint.Dir = v
	}
	if v := os.Getenv("OPLOGD_CHECKPOINT_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checkpoint.Keep = n
		}
	}
	if v := os.Getenv("OPLOGD_TXN_FORMAT"); v != "" {
		cfg.Txn.Format = v
	}
	if v := os.Getenv("OPLOGD_SECONDARIES"); v != "" {
		cfg.Secondaries = ParseSecondaries(v)
	}
	if v := os.Getenv("OPLOGD_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("OPLOGD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OPLOGD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OPLOGD_LOG_OUTPUT"); v != "" {
		cfg.Log.Output = v
	}
}

// ParseSecondaries reads "name[:engine],..." into secondary declarations.
func ParseSecondaries(v string) []SecondaryConfig {
	var out []SecondaryConfig
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, engine, _ := strings.Cut(p, ":")
		out = append(out, SecondaryConfig{Name: name, Engine: engine})
	}
	return out
}
