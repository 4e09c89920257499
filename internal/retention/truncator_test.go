package retention

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rzbill/oplogd/internal/checkpoint"
	"github.com/rzbill/oplogd/internal/oplog"
	pebblestore "github.com/rzbill/oplogd/internal/storage/pebble"
	"github.com/rzbill/oplogd/pkg/log"
	"github.com/rzbill/oplogd/pkg/optime"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errDisk = errors.New("disk on fire")

// flakyLog fails DeleteOlderThan while failing is set.
type flakyLog struct {
	*oplog.Log
	mu      sync.Mutex
	failing bool
	calls   int
}

func (f *flakyLog) DeleteOlderThan(ctx context.Context, ts optime.Timestamp, opts oplog.DeleteOptions) (oplog.DeleteResult, error) {
	f.mu.Lock()
	f.calls++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return oplog.DeleteResult{}, errDisk
	}
	return f.Log.DeleteOlderThan(ctx, ts, opts)
}

type countingObserver struct {
	failures  int
	truncated int
	last      Boundary
}

func (c *countingObserver) ObserveBoundary(b Boundary, _ optime.Timestamp) { c.last = b }
func (c *countingObserver) ObserveTruncation(res oplog.DeleteResult)       { c.truncated += res.Deleted }
func (c *countingObserver) ObserveFailure()                                { c.failures++ }

func newLog(t *testing.T) *oplog.Log {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := oplog.OpenLog(db, "ns", oplog.WithClock(optime.NewClockWithSource(func() uint32 { return 1 })))
	require.NoError(t, err)
	return l
}

func fill(t *testing.T, l *oplog.Log, n int) []optime.Timestamp {
	t.Helper()
	var out []optime.Timestamp
	for i := 0; i < n; i++ {
		tss, err := l.Append(context.Background(), []oplog.Entry{{Op: oplog.OpInsert, Payload: []byte("0123456789abcdef")}})
		require.NoError(t, err)
		out = append(out, tss...)
	}
	return out
}

func TestTickDeletesBelowBoundary(t *testing.T) {
	l := newLog(t)
	tss := fill(t, l, 10)
	per := l.SizeBytes() / 10

	var clock checkpoint.AtomicClock
	require.NoError(t, clock.Advance(checkpoint.Mark{TS: l.Newest()}))
	obs := &countingObserver{}
	tr := NewTruncator(NewEngine(l, &clock), TruncatorOptions{MaxBytes: per * 3, DeleteBatch: 4, Observer: obs})

	res, err := tr.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, tss[7], res.Boundary.TS)
	require.Equal(t, 7, res.Deleted.Deleted)
	require.Equal(t, tss[7], tr.Enforced())
	require.LessOrEqual(t, l.SizeBytes(), per*3)
	require.Equal(t, 7, obs.truncated)

	res, err = tr.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Zero(t, res.Deleted.Deleted)
}

func TestTickRetriesAfterFailure(t *testing.T) {
	fl := &flakyLog{Log: newLog(t), failing: true}
	tss := fill(t, fl.Log, 6)
	per := fl.SizeBytes() / 6

	var clock checkpoint.AtomicClock
	require.NoError(t, clock.Advance(checkpoint.Mark{TS: fl.Newest()}))
	obs := &countingObserver{}
	tr := NewTruncator(NewEngine(fl, &clock), TruncatorOptions{MaxBytes: per * 2, Observer: obs})

	_, err := tr.Tick(context.Background())
	require.ErrorIs(t, err, errDisk)
	require.True(t, tr.Enforced().IsNull(), "boundary not recorded on failure")
	require.Equal(t, 1, obs.failures)
	require.EqualValues(t, 6, fl.Count())

	fl.mu.Lock()
	fl.failing = false
	fl.mu.Unlock()
	res, err := tr.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, tss[4], res.Enforced)
	require.EqualValues(t, 2, fl.Count())
	require.Equal(t, 2, fl.calls)
}

func TestTickPinnedByFloorWarnsOnce(t *testing.T) {
	l := newLog(t)
	tss := fill(t, l, 8)
	per := l.SizeBytes() / 8

	core, logs := observer.New(zapcore.WarnLevel)
	lg := log.NewLogger(log.WithCore(core), log.WithLevel(log.DebugLevel))

	var clock checkpoint.AtomicClock
	require.NoError(t, clock.Advance(checkpoint.Mark{TS: l.Newest(), Floor: tss[2], HasFloor: true}))
	tr := NewTruncator(NewEngine(l, &clock), TruncatorOptions{MaxBytes: per * 2, Logger: lg})

	ctx := context.Background()
	res, err := tr.Tick(ctx)
	require.NoError(t, err)
	require.True(t, res.Boundary.Pinned)
	require.Equal(t, tss[2], res.Enforced)
	_, err = l.Get(tss[2])
	require.NoError(t, err, "floor entry kept")
	_, err = l.Get(tss[1])
	require.ErrorIs(t, err, oplog.ErrNotFound)
	require.Greater(t, l.SizeBytes(), per*2)

	_, err = tr.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, logs.FilterMessageSnippet("pins truncation").Len())

	// Resolving the transaction releases the pin at the next checkpoint.
	require.NoError(t, clock.Advance(checkpoint.Mark{TS: l.Newest()}))
	res, err = tr.Tick(ctx)
	require.NoError(t, err)
	require.False(t, res.Boundary.Pinned)
	require.Equal(t, tss[6], res.Enforced)
	require.LessOrEqual(t, l.SizeBytes(), per*2)
}

func TestTickUsesSynchronousCheckpoint(t *testing.T) {
	l := newLog(t)
	fill(t, l, 5)
	per := l.SizeBytes() / 5
	calls := 0
	clock := checkpoint.NewVolatile(func() (optime.Timestamp, optime.Timestamp, bool) {
		calls++
		return l.Newest(), optime.Null, false
	})
	tr := NewTruncator(NewEngine(l, clock), TruncatorOptions{MaxBytes: per})

	res, err := tr.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, l.Newest(), res.Boundary.CheckpointTS)
	require.EqualValues(t, 1, l.Count())
}
