package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/oplogd/internal/checkpoint"
	"github.com/rzbill/oplogd/internal/config"
	"github.com/rzbill/oplogd/internal/metrics"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/replication"
	"github.com/rzbill/oplogd/internal/retention"
	pebblestore "github.com/rzbill/oplogd/internal/storage/pebble"
	"github.com/rzbill/oplogd/internal/txn"
	"github.com/rzbill/oplogd/internal/txntable"
	"github.com/rzbill/oplogd/internal/txntracker"
	"github.com/rzbill/oplogd/pkg/log"
	"github.com/rzbill/oplogd/pkg/optime"
	"golang.org/x/sync/errgroup"
)

// Namespace is the oplog namespace every node uses.
const Namespace = "rs"

var (
	ErrNotPrimary = errors.New("node: not a primary")
	ErrRunning    = errors.New("node: already started")
)

// Role distinguishes primaries from secondaries.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Options for building a Node.
type Options struct {
	Name   string
	Role   Role
	Engine string
	// DataDir holds the Pebble store of a durable node.
	DataDir string
	Fsync   pebblestore.FsyncMode

	MaxBytes         int64
	TruncateInterval time.Duration
	DeleteBatch      int
	DeleteRatePerSec float64

	CheckpointInterval time.Duration
	CheckpointDir      string
	CheckpointKeep     int

	TxnFormat txn.Format
	// ResolvedRetention is how long committed and aborted side-table rows
	// are kept before being purged. Defaults to 10m.
	ResolvedRetention time.Duration
	// Source is the primary's oplog; required for secondaries.
	Source replication.Source
	// ApplyBatch is the applier read size on a secondary. Defaults to 256.
	ApplyBatch int

	// Clock overrides the timestamp source of the oplog. Optional.
	Clock   *optime.Clock
	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Node is one member of the topology.
type Node struct {
	opts Options
	lg   log.Logger
	nm   *metrics.Node

	db       *pebblestore.DB
	log      *oplog.Log
	table    *txntable.Table
	tracker  *txntracker.Tracker
	clock    checkpoint.Clock
	durable  *checkpoint.Durable
	volatile *checkpoint.Volatile
	engine   *retention.Engine
	trunc    *retention.Truncator
	txns     *txn.Manager
	applier  *replication.Applier

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Open initializes storage and every component of the node.
func Open(opts Options) (*Node, error) {
	if opts.Name == "" {
		return nil, errors.New("node: name is required")
	}
	if opts.Role == "" {
		opts.Role = RolePrimary
	}
	if opts.Engine == "" {
		opts.Engine = config.EngineDurable
	}
	if opts.Role == RoleSecondary && opts.Source == nil {
		return nil, errors.New("node: secondary requires a source")
	}
	if opts.ResolvedRetention <= 0 {
		opts.ResolvedRetention = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	n := &Node{
		opts: opts,
		lg:   opts.Logger.With(log.Str("node", opts.Name), log.Str("role", string(opts.Role))),
		nm:   opts.Metrics.Node(opts.Name),
	}

	inMemory := opts.Engine == config.EngineInMemory
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:  opts.DataDir,
		InMemory: inMemory,
		Fsync:    opts.Fsync,
		Logger:   log.PebbleLogger{L: n.lg.WithComponent("pebble")},
		Metrics:  n.nm,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	n.db = db
	if err := n.wire(inMemory); err != nil {
		_ = db.Close()
		return nil, err
	}
	n.lg.Info("node opened",
		log.Str("engine", opts.Engine),
		log.Stringer("newest", n.log.Newest()),
		log.Int64("sizeBytes", n.log.SizeBytes()),
		log.Int("prepared", n.tracker.Len()),
	)
	return n, nil
}

func (n *Node) wire(inMemory bool) error {
	logOpts := []oplog.Option{oplog.WithTruncateHook(truncateLogger{lg: n.lg})}
	if n.opts.Clock != nil {
		logOpts = append(logOpts, oplog.WithClock(n.opts.Clock))
	}
	l, err := oplog.OpenLog(n.db, Namespace, logOpts...)
	if err != nil {
		return fmt.Errorf("open oplog: %w", err)
	}
	n.log = l
	n.table = txntable.Open(n.db, Namespace)
	n.tracker = txntracker.New()

	if n.opts.Role == RolePrimary {
		n.txns = txn.NewManager(l, n.table, n.tracker, txn.Options{Format: n.opts.TxnFormat, Logger: n.lg})
		if err := n.txns.Recover(); err != nil {
			return fmt.Errorf("recover transactions: %w", err)
		}
	} else {
		if err := n.restoreTracker(); err != nil {
			return err
		}
		n.applier = replication.New(n.opts.Source, l, n.table, n.tracker, replication.Options{
			Member:    n.opts.Name,
			BatchSize: n.opts.ApplyBatch,
			Logger:    n.lg,
		})
	}

	sampler := func() (optime.Timestamp, optime.Timestamp, bool) {
		return n.tracker.Snapshot(n.log.Newest)
	}
	if inMemory {
		n.volatile = checkpoint.NewVolatile(sampler)
		n.clock = n.volatile
	} else {
		d, err := checkpoint.NewDurable(checkpoint.DurableOptions{
			DB:        n.db,
			Namespace: Namespace,
			Sampler:   sampler,
			Interval:  n.opts.CheckpointInterval,
			Dir:       n.opts.CheckpointDir,
			Keep:      n.opts.CheckpointKeep,
			Logger:    n.lg,
		})
		if err != nil {
			return err
		}
		n.durable = d
		n.clock = d
	}

	n.engine = retention.NewEngine(l, n.clock)
	n.trunc = retention.NewTruncator(n.engine, retention.TruncatorOptions{
		MaxBytes:         n.opts.MaxBytes,
		Interval:         n.opts.TruncateInterval,
		DeleteBatch:      n.opts.DeleteBatch,
		DeleteRatePerSec: n.opts.DeleteRatePerSec,
		Logger:           n.lg,
		Observer:         observer{n: n},
	})
	return nil
}

func (n *Node) restoreTracker() error {
	recs, err := n.table.ListByState(txntable.StatePrepared)
	if err != nil {
		return fmt.Errorf("load prepared transactions: %w", err)
	}
	entries := make([]txntracker.Entry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, txntracker.Entry{TxnID: r.TxnID, StartOpTime: r.StartOpTime})
	}
	return n.tracker.Restore(entries)
}

// Start runs the background tasks: the truncator, the durable checkpoint loop
// and, on secondaries, the applier.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.trunc.Run(gctx) })
	if n.durable != nil {
		g.Go(func() error { return n.durable.Run(gctx) })
	}
	if n.applier != nil {
		g.Go(func() error { return n.applier.Run(gctx) })
	}
	g.Go(func() error { return n.purgeLoop(gctx) })
	n.cancel, n.group = cancel, g
	n.lg.Info("node started")
	return nil
}

// Stop cancels background tasks and waits for them.
func (n *Node) Stop() error {
	n.mu.Lock()
	cancel, g := n.cancel, n.group
	n.cancel, n.group = nil, nil
	n.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := g.Wait()
	n.lg.Info("node stopped")
	return err
}

// Close stops the node and closes storage.
func (n *Node) Close() error {
	stopErr := n.Stop()
	if n.db == nil {
		return stopErr
	}
	return errors.Join(stopErr, n.db.Close())
}

// CheckHealth performs a simple storage round trip.
func (n *Node) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := n.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Checkpoint takes a checkpoint immediately.
func (n *Node) Checkpoint(ctx context.Context) (checkpoint.Mark, error) {
	var (
		m   checkpoint.Mark
		err error
	)
	if n.durable != nil {
		m, err = n.durable.Checkpoint(ctx)
	} else {
		m, err = n.volatile.CheckpointNow(ctx)
	}
	if err == nil {
		n.nm.ObserveCheckpoint(m)
	}
	return m, err
}

// Truncate runs one truncation tick immediately.
func (n *Node) Truncate(ctx context.Context) (retention.TickResult, error) {
	return n.trunc.Tick(ctx)
}

// PurgeResolved drops side-table rows of transactions resolved longer than
// ResolvedRetention ago.
func (n *Node) PurgeResolved(ctx context.Context) (int, error) {
	return n.table.PurgeResolved(ctx, time.Now().Add(-n.opts.ResolvedRetention))
}

func (n *Node) purgeLoop(ctx context.Context) error {
	every := n.opts.ResolvedRetention / 2
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purged, err := n.PurgeResolved(ctx)
			if err != nil {
				n.lg.Warn("purge resolved transactions failed", log.Err(err))
				continue
			}
			if purged > 0 {
				n.lg.Debug("purged resolved transactions", log.Int("count", purged))
			}
		}
	}
}

// Txns returns the transaction manager of a primary.
func (n *Node) Txns() (*txn.Manager, error) {
	if n.txns == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotPrimary, n.opts.Name)
	}
	return n.txns, nil
}

func (n *Node) Name() string                    { return n.opts.Name }
func (n *Node) Role() Role                      { return n.opts.Role }
func (n *Node) Log() *oplog.Log                 { return n.log }
func (n *Node) Table() *txntable.Table          { return n.table }
func (n *Node) Tracker() *txntracker.Tracker    { return n.tracker }
func (n *Node) Clock() checkpoint.Clock         { return n.clock }
func (n *Node) Engine() *retention.Engine       { return n.engine }
func (n *Node) Truncator() *retention.Truncator { return n.trunc }
func (n *Node) Applier() *replication.Applier   { return n.applier }

// observer forwards truncation outcomes to metrics and refreshes the gauges
// that describe the log.
type observer struct{ n *Node }

func (o observer) ObserveBoundary(b retention.Boundary, enforced optime.Timestamp) {
	o.n.nm.ObserveBoundary(b, enforced)
	o.n.nm.SetLog(o.n.log.SizeBytes(), o.n.log.Count())
	o.n.nm.SetPrepared(o.n.tracker.Len())
}

func (o observer) ObserveTruncation(res oplog.DeleteResult) { o.n.nm.ObserveTruncation(res) }

func (o observer) ObserveFailure() { o.n.nm.ObserveFailure() }

type truncateLogger struct{ lg log.Logger }

func (t truncateLogger) EmitTruncatedRange(ns string, first, last optime.Timestamp) {
	t.lg.Debug("oplog range deleted", log.Str("ns", ns), log.Stringer("first", first), log.Stringer("last", last))
}
