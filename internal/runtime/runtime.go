package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	cfgpkg "github.com/rzbill/oplogd/internal/config"
	"github.com/rzbill/oplogd/internal/metrics"
	"github.com/rzbill/oplogd/internal/node"
	pebblestore "github.com/rzbill/oplogd/internal/storage/pebble"
	"github.com/rzbill/oplogd/internal/txn"
	"github.com/rzbill/oplogd/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config  cfgpkg.Config
	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Runtime owns every node of the process.
type Runtime struct {
	config  cfgpkg.Config
	metrics *metrics.Metrics
	lg      log.Logger
	primary *node.Node
	nodes   []*node.Node
	byName  map[string]*node.Node
}

// Open validates the configuration and opens the primary followed by its
// secondaries.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	rt := &Runtime{
		config:  cfg,
		metrics: opts.Metrics,
		lg:      opts.Logger.WithComponent("runtime"),
		byName:  make(map[string]*node.Node),
	}

	po, err := NodeOptions(cfg, cfg.Node.Name, cfg.Engine)
	if err != nil {
		return nil, err
	}
	po.Role = node.RolePrimary
	po.Logger, po.Metrics = opts.Logger, opts.Metrics
	primary, err := node.Open(po)
	if err != nil {
		return nil, fmt.Errorf("open primary %s: %w", cfg.Node.Name, err)
	}
	rt.add(primary)
	rt.primary = primary

	for _, sc := range cfg.Secondaries {
		engine := sc.Engine
		if engine == "" {
			engine = cfg.Engine
		}
		so, err := NodeOptions(cfg, sc.Name, engine)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		so.Role = node.RoleSecondary
		so.Source = primary.Log()
		so.Logger, so.Metrics = opts.Logger, opts.Metrics
		n, err := node.Open(so)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("open secondary %s: %w", sc.Name, err)
		}
		rt.add(n)
	}
	rt.lg.Info("runtime opened", log.Int("nodes", len(rt.nodes)))
	return rt, nil
}

// NodeOptions derives the options of one node from the process configuration.
// Durable nodes keep their store under DataDir/<name>.
func NodeOptions(cfg cfgpkg.Config, name, engine string) (node.Options, error) {
	fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return node.Options{}, err
	}
	format, err := txn.ParseFormat(cfg.Txn.Format)
	if err != nil {
		return node.Options{}, err
	}
	o := node.Options{
		Name:               name,
		Engine:             engine,
		Fsync:              fsync,
		MaxBytes:           cfg.Oplog.MaxBytes,
		TruncateInterval:   cfg.Oplog.TruncateInterval.Std(),
		DeleteBatch:        cfg.Oplog.DeleteBatch,
		DeleteRatePerSec:   cfg.Oplog.DeleteRatePerSec,
		CheckpointInterval: cfg.CheckpointInterval(),
		CheckpointKeep:     cfg.Checkpoint.Keep,
		TxnFormat:          format,
	}
	if engine == cfgpkg.EngineDurable {
		o.DataDir = filepath.Join(cfg.DataDir, name)
		if cfg.Checkpoint.Dir != "" {
			o.CheckpointDir = filepath.Join(cfg.Checkpoint.Dir, name)
		}
	}
	return o, nil
}

func (r *Runtime) add(n *node.Node) {
	r.nodes = append(r.nodes, n)
	r.byName[n.Name()] = n
}

// Start launches the background tasks of every node.
func (r *Runtime) Start(ctx context.Context) error {
	for _, n := range r.nodes {
		if err := n.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", n.Name(), err)
		}
	}
	return nil
}

// Stop stops every node, secondaries first.
func (r *Runtime) Stop() error {
	var errs []error
	for i := len(r.nodes) - 1; i >= 0; i-- {
		errs = append(errs, r.nodes[i].Stop())
	}
	return errors.Join(errs...)
}

// Close closes underlying resources, secondaries first.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.nodes) - 1; i >= 0; i-- {
		errs = append(errs, r.nodes[i].Close())
	}
	r.nodes = nil
	return errors.Join(errs...)
}

// CheckHealth checks the storage of every node.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if len(r.nodes) == 0 {
		return errors.New("runtime closed")
	}
	for _, n := range r.nodes {
		if err := n.CheckHealth(ctx); err != nil {
			return fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return nil
}

// Primary returns the primary node.
func (r *Runtime) Primary() *node.Node { return r.primary }

// Node looks a node up by name.
func (r *Runtime) Node(name string) (*node.Node, bool) {
	n, ok := r.byName[name]
	return n, ok
}

// Nodes returns every node, primary first.
func (r *Runtime) Nodes() []*node.Node { return append([]*node.Node(nil), r.nodes...) }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Metrics returns the process metrics.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }
