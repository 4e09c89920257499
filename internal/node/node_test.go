package node

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rzbill/oplogd/internal/config"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/txn"
	"github.com/rzbill/oplogd/internal/txntable"
	"github.com/stretchr/testify/require"
)

const testMaxBytes = 4096

var payload = []byte(strings.Repeat("x", 100))

func openNode(t *testing.T, opts Options) *Node {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "primary"
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = testMaxBytes
	}
	if opts.Engine == config.EngineDurable && opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	n, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func insertN(t *testing.T, m *txn.Manager, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := m.Insert(context.Background(), oplog.OpInsert, payload)
		require.NoError(t, err)
	}
}

// tick takes a checkpoint on durable nodes, where checkpoints run on their
// own cadence, and then truncates.
func tick(t *testing.T, n *Node) {
	t.Helper()
	ctx := context.Background()
	if n.durable != nil {
		_, err := n.Checkpoint(ctx)
		require.NoError(t, err)
	}
	_, err := n.Truncate(ctx)
	require.NoError(t, err)
}

func TestPreparedTransactionPinsRetention(t *testing.T) {
	for _, engine := range []string{config.EngineInMemory, config.EngineDurable} {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			n := openNode(t, Options{Engine: engine})
			m, err := n.Txns()
			require.NoError(t, err)

			insertN(t, m, 5)
			tx := m.Begin()
			require.NoError(t, tx.Write(ctx, oplog.OpInsert, payload))
			_, err = tx.Prepare(ctx)
			require.NoError(t, err)
			start := tx.Info().StartOpTime
			require.False(t, start.IsNull())

			insertN(t, m, 80)
			require.Greater(t, n.Log().SizeBytes(), int64(testMaxBytes))
			for i := 0; i < 3; i++ {
				tick(t, n)
			}

			_, err = n.Log().Get(start)
			require.NoError(t, err, "entry at the prepared start must survive")
			require.Greater(t, n.Log().SizeBytes(), int64(testMaxBytes))
			st, err := n.Status()
			require.NoError(t, err)
			require.True(t, st.Boundary.Pinned)
			require.Equal(t, start, st.Boundary.Floor)
			require.Equal(t, start, st.Oldest, "everything older than the prepared start is gone")
			require.Len(t, st.Prepared, 1)

			_, err = tx.Commit(ctx)
			require.NoError(t, err)
			for i := 0; i < 3 && n.Log().SizeBytes() > testMaxBytes; i++ {
				tick(t, n)
			}
			require.LessOrEqual(t, n.Log().SizeBytes(), int64(testMaxBytes))
			_, err = n.Log().Get(start)
			require.True(t, errors.Is(err, oplog.ErrNotFound))

			st, err = n.Status()
			require.NoError(t, err)
			require.False(t, st.Boundary.Pinned)
			require.Empty(t, st.Prepared)
		})
	}
}

func TestSecondaryReplicatesTransactionRecord(t *testing.T) {
	ctx := context.Background()
	primary := openNode(t, Options{Engine: config.EngineInMemory})
	secondary := openNode(t, Options{
		Name:   "s1",
		Role:   RoleSecondary,
		Engine: config.EngineInMemory,
		Source: primary.Log(),
	})
	m, err := primary.Txns()
	require.NoError(t, err)
	_, err = secondary.Txns()
	require.ErrorIs(t, err, ErrNotPrimary)

	insertN(t, m, 3)
	tx := m.Begin()
	require.NoError(t, tx.Write(ctx, oplog.OpInsert, payload))
	require.NoError(t, tx.Write(ctx, oplog.OpUpdate, payload))
	prepTS, err := tx.Prepare(ctx)
	require.NoError(t, err)
	insertN(t, m, 60)

	for {
		applied, err := secondary.Applier().ApplyOnce(ctx)
		require.NoError(t, err)
		if applied == 0 {
			break
		}
	}
	require.Equal(t, primary.Log().Newest(), secondary.Log().Newest())

	rec, ok, err := secondary.Table().Get(tx.ID())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, txntable.StatePrepared, rec.State)
	require.Equal(t, tx.Info().StartOpTime, rec.StartOpTime)
	require.Equal(t, prepTS, rec.PrepareTS)
	oldest, ok := secondary.Tracker().OldestActive()
	require.True(t, ok)
	require.Equal(t, rec.StartOpTime, oldest)

	tick(t, secondary)
	_, err = secondary.Log().Get(rec.StartOpTime)
	require.NoError(t, err)
	st, err := secondary.Status()
	require.NoError(t, err)
	require.True(t, st.Boundary.Pinned)

	pst, err := primary.Status()
	require.NoError(t, err)
	require.Equal(t, primary.Log().Newest(), pst.Cursors["s1"])

	_, err = tx.Commit(ctx)
	require.NoError(t, err)
	_, err = secondary.Applier().ApplyOnce(ctx)
	require.NoError(t, err)
	rec, _, err = secondary.Table().Get(tx.ID())
	require.NoError(t, err)
	require.Equal(t, txntable.StateCommitted, rec.State)
	require.Zero(t, secondary.Tracker().Len())

	tick(t, secondary)
	require.LessOrEqual(t, secondary.Log().SizeBytes(), int64(testMaxBytes))
}

func TestDurableNodeRecoversPreparedTransactions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	n, err := Open(Options{Name: "primary", Engine: config.EngineDurable, DataDir: dir, MaxBytes: testMaxBytes})
	require.NoError(t, err)
	m, err := n.Txns()
	require.NoError(t, err)
	insertN(t, m, 2)
	tx := m.Begin()
	require.NoError(t, tx.Write(ctx, oplog.OpInsert, payload))
	_, err = tx.Prepare(ctx)
	require.NoError(t, err)
	mark, err := n.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, mark.HasFloor)
	require.NoError(t, n.Close())

	n = openNode(t, Options{Name: "primary", Engine: config.EngineDurable, DataDir: dir})
	st, err := n.Status()
	require.NoError(t, err)
	require.Len(t, st.Prepared, 1)
	require.Equal(t, tx.ID(), st.Prepared[0].TxnID)
	require.Equal(t, mark.TS, st.Mark.TS)

	m, err = n.Txns()
	require.NoError(t, err)
	recovered, err := m.Get(tx.ID())
	require.NoError(t, err)
	_, err = recovered.Commit(ctx)
	require.NoError(t, err)
	require.Zero(t, n.Tracker().Len())
}

func TestStartStop(t *testing.T) {
	n := openNode(t, Options{Engine: config.EngineInMemory})
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	require.ErrorIs(t, n.Start(ctx), ErrRunning)
	require.NoError(t, n.CheckHealth(ctx))
	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())
	require.NoError(t, n.Start(ctx))
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
	_, err = Open(Options{Name: "s", Role: RoleSecondary, Engine: config.EngineInMemory})
	require.Error(t, err)
}
