package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rzbill/oplogd/internal/checkpoint"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/pkg/log"
	"github.com/rzbill/oplogd/pkg/optime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/rzbill/oplogd/internal/retention"

// Observer receives truncation outcomes, typically to export metrics.
type Observer interface {
	ObserveBoundary(b Boundary, enforced optime.Timestamp)
	ObserveTruncation(res oplog.DeleteResult)
	ObserveFailure()
}

type noopObserver struct{}

func (noopObserver) ObserveBoundary(Boundary, optime.Timestamp) {}
func (noopObserver) ObserveTruncation(oplog.DeleteResult)       {}
func (noopObserver) ObserveFailure()                            {}

// TruncatorOptions configures a Truncator.
type TruncatorOptions struct {
	// MaxBytes is the configured oplog size budget.
	MaxBytes int64
	// Interval between ticks. Defaults to 1s.
	Interval time.Duration
	// DeleteBatch caps keys per delete batch. Defaults to 1024.
	DeleteBatch int
	// DeleteRatePerSec limits delete batch commits per second. Zero is unlimited.
	DeleteRatePerSec float64
	Logger           log.Logger
	Observer         Observer
}

// TickResult summarizes one tick.
type TickResult struct {
	Boundary Boundary           `json:"boundary"`
	Enforced optime.Timestamp   `json:"enforced"`
	Deleted  oplog.DeleteResult `json:"deleted"`
	// Skipped is set when the boundary had not advanced.
	Skipped bool `json:"skipped"`
}

// Truncator is the only component that deletes oplog entries for retention.
type Truncator struct {
	engine  *Engine
	log     LogStore
	clock   checkpoint.Clock
	opts    TruncatorOptions
	limiter *rate.Limiter
	lg      log.Logger
	obs     Observer
	tracer  trace.Tracer

	// mu serializes ticks.
	mu       sync.Mutex
	enforced optime.Timestamp
	warned   bool
}

// NewTruncator wires a truncator over the engine's log and clock.
func NewTruncator(engine *Engine, opts TruncatorOptions) *Truncator {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.DeleteBatch <= 0 {
		opts.DeleteBatch = 1024
	}
	t := &Truncator{
		engine: engine,
		log:    engine.log,
		clock:  engine.clock,
		opts:   opts,
		lg:     opts.Logger,
		obs:    opts.Observer,
		tracer: otel.Tracer(tracerName),
	}
	if t.lg == nil {
		t.lg = log.NewNopLogger()
	}
	t.lg = t.lg.WithComponent("truncator")
	if t.obs == nil {
		t.obs = noopObserver{}
	}
	if opts.DeleteRatePerSec > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(opts.DeleteRatePerSec), 1)
	}
	return t
}

// Enforced returns the boundary applied by the last successful tick.
func (t *Truncator) Enforced() optime.Timestamp {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enforced
}

// MaxBytes returns the configured size budget.
func (t *Truncator) MaxBytes() int64 { return t.opts.MaxBytes }

// Tick computes the boundary and deletes every entry older than it. On error
// the enforced boundary is unchanged and the next tick retries.
func (t *Truncator) Tick(ctx context.Context) (TickResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, span := t.tracer.Start(ctx, "oplog.truncate")
	defer span.End()

	if s, ok := t.clock.(checkpoint.Synchronous); ok {
		if _, err := s.CheckpointNow(ctx); err != nil {
			if !errors.Is(err, checkpoint.ErrOutOfOrderCheckpoint) {
				return t.fail(span, TickResult{Enforced: t.enforced}, err, "synchronous checkpoint failed")
			}
			t.lg.Warn("checkpoint mark ignored", log.Err(err))
		}
	}

	b, err := t.engine.ComputeBoundary(ctx, t.opts.MaxBytes)
	if err != nil {
		return t.fail(span, TickResult{Enforced: t.enforced}, err, "compute boundary failed")
	}
	res := TickResult{Boundary: b, Enforced: t.enforced}
	span.SetAttributes(
		attribute.String("oplog.boundary", b.TS.String()),
		attribute.Bool("oplog.pinned", b.Pinned),
		attribute.Int64("oplog.size_bytes", b.SizeBytes),
	)
	t.warnPinned(b)

	if b.TS <= t.enforced {
		res.Skipped = true
		t.obs.ObserveBoundary(b, t.enforced)
		return res, nil
	}

	del, err := t.log.DeleteOlderThan(ctx, b.TS, oplog.DeleteOptions{BatchLimit: t.opts.DeleteBatch, Limiter: t.limiter})
	res.Deleted = del
	if del.Deleted > 0 {
		t.obs.ObserveTruncation(del)
	}
	if err != nil {
		return t.fail(span, res, err, "truncate failed", log.Stringer("boundary", b.TS), log.Int("deleted", del.Deleted))
	}

	t.enforced = b.TS
	res.Enforced = b.TS
	t.obs.ObserveBoundary(b, t.enforced)
	span.SetAttributes(attribute.Int("oplog.deleted", del.Deleted))
	t.lg.Debug("oplog truncated",
		log.Stringer("boundary", b.TS),
		log.Int("deleted", del.Deleted),
		log.Int64("bytes", del.Bytes),
		log.Int64("sizeBytes", t.log.SizeBytes()),
	)
	return res, nil
}

func (t *Truncator) fail(span trace.Span, res TickResult, err error, msg string, fields ...log.Field) (TickResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	t.obs.ObserveFailure()
	t.lg.Warn(msg, append(fields, log.Err(err))...)
	return res, err
}

// warnPinned logs once per episode in which a prepared transaction keeps the
// log above its budget.
func (t *Truncator) warnPinned(b Boundary) {
	over := b.Pinned && b.SizeBytes > b.MaxBytes
	if over && !t.warned {
		t.lg.Warn("oplog exceeds max size: prepared transaction pins truncation",
			log.Stringer("floor", b.Floor),
			log.Int64("sizeBytes", b.SizeBytes),
			log.Int64("maxBytes", b.MaxBytes),
		)
	}
	t.warned = over
}

// Run ticks every Interval until ctx is done. Tick errors never stop the loop.
func (t *Truncator) Run(ctx context.Context) error {
	tk := time.NewTicker(t.opts.Interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			_, _ = t.Tick(ctx)
		}
	}
}
