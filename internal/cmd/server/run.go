package serverrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cfgpkg "github.com/rzbill/oplogd/internal/config"
	"github.com/rzbill/oplogd/internal/metrics"
	"github.com/rzbill/oplogd/internal/runtime"
	httpserver "github.com/rzbill/oplogd/internal/server/http"
	logpkg "github.com/rzbill/oplogd/pkg/log"
)

// Overrides are command-line values applied on top of file and environment
// configuration. Zero values leave the configuration untouched.
type Overrides struct {
	NodeName    string
	DataDir     string
	Engine      string
	Fsync       string
	MaxBytes    int64
	TxnFormat   string
	Secondaries string
	HTTPAddr    string
	LogLevel    string
	LogFormat   string
}

// BuildConfig loads path (defaults when empty), overlays OPLOGD_* variables,
// applies overrides and validates the result.
func BuildConfig(path string, o Overrides) (cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	cfgpkg.FromEnv(&cfg)
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Node.Name, o.NodeName)
	set(&cfg.DataDir, o.DataDir)
	set(&cfg.Engine, o.Engine)
	set(&cfg.Fsync, o.Fsync)
	set(&cfg.Txn.Format, o.TxnFormat)
	set(&cfg.HTTP.Addr, o.HTTPAddr)
	set(&cfg.Log.Level, o.LogLevel)
	set(&cfg.Log.Format, o.LogFormat)
	if o.MaxBytes > 0 {
		cfg.Oplog.MaxBytes = o.MaxBytes
	}
	if o.Secondaries != "" {
		cfg.Secondaries = cfgpkg.ParseSecondaries(o.Secondaries)
	}
	return cfg, cfg.Validate()
}

// Options for Run.
type Options struct {
	Config cfgpkg.Config
	// Logger overrides the logger built from Config.Log.
	Logger logpkg.Logger
}

// Run opens the runtime, starts every node and the HTTP server, and blocks
// until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	procLogger := opts.Logger
	if procLogger == nil {
		l, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
		if err != nil {
			return err
		}
		procLogger = l
	}
	restore := logpkg.RedirectStdLog(procLogger)
	defer restore()

	procLogger.Info("Starting oplogd",
		logpkg.Str("node", cfg.Node.Name),
		logpkg.Str("engine", cfg.Engine),
		logpkg.Str("dataDir", cfg.DataDir),
		logpkg.Int64("maxBytes", cfg.Oplog.MaxBytes),
		logpkg.Int("checkpointIntervalSeconds", cfg.Checkpoint.IntervalSeconds),
		logpkg.Int("secondaries", len(cfg.Secondaries)),
		logpkg.Str("http", cfg.HTTP.Addr),
	)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger, Metrics: metrics.New()})
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.Start(sctx); err != nil {
		return err
	}

	hsrv := httpserver.New(rt, procLogger)
	var (
		wg      sync.WaitGroup
		httpErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTP.Addr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server failed", logpkg.Err(err))
			httpErr = err
			stop()
		}
	}()

	<-sctx.Done()
	// Stop serving before the nodes close their stores.
	hsrv.Close()
	wg.Wait()
	stopErr := rt.Stop()
	procLogger.Info("oplogd stopped")
	return errors.Join(httpErr, stopErr)
}
