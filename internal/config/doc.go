// Package config provides loading and environment overlay for oplogd
// configuration. It exposes a Default() baseline, JSON or YAML files, and an
// OPLOGD_* environment overlay. CLI flags are applied last by the caller.
//
// Example:
//
//	cfg, err := config.Load("/etc/oplogd.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
package config
