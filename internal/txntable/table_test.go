package txntable

import (
	"context"
	"testing"
	"time"

	pebblestore "github.com/rzbill/oplogd/internal/storage/pebble"
	"github.com/rzbill/oplogd/pkg/optime"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Open(db, "ns")
}

func TestPutGetAndStateIndex(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	start := optime.New(10, 1)

	_, ok, err := tbl.Get("t1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tbl.Put(ctx, Record{TxnID: "t1", StartOpTime: start, State: StateRunning}))
	require.NoError(t, tbl.Put(ctx, Record{TxnID: "t2", StartOpTime: optime.New(11, 1), State: StateRunning}))
	require.NoError(t, tbl.Put(ctx, Record{TxnID: "t1", StartOpTime: start, State: StatePrepared, PrepareTS: optime.New(12, 1)}))

	rec, ok, err := tbl.Get("t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatePrepared, rec.State)
	require.Equal(t, start, rec.StartOpTime)
	require.Equal(t, optime.New(12, 1), rec.PrepareTS)
	require.False(t, rec.UpdatedAt.IsZero())

	prepared, err := tbl.ListByState(StatePrepared)
	require.NoError(t, err)
	require.Len(t, prepared, 1)
	require.Equal(t, "t1", prepared[0].TxnID)

	running, err := tbl.ListByState(StateRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "t2", running[0].TxnID)
}

func TestStartOpTimeIsImmutable(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	require.NoError(t, tbl.Put(ctx, Record{TxnID: "t1", StartOpTime: optime.New(10, 1), State: StatePrepared}))
	err := tbl.Put(ctx, Record{TxnID: "t1", StartOpTime: optime.New(9, 1), State: StateCommitted})
	require.ErrorIs(t, err, ErrStartOpTimeChanged)

	rec, _, err := tbl.Get("t1")
	require.NoError(t, err)
	require.Equal(t, StatePrepared, rec.State)
}

func TestPurgeResolved(t *testing.T) {
	tbl := newTestTable(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	require.NoError(t, tbl.Put(ctx, Record{TxnID: "a", StartOpTime: optime.New(1, 1), State: StateCommitted, UpdatedAt: old}))
	require.NoError(t, tbl.Put(ctx, Record{TxnID: "b", StartOpTime: optime.New(2, 1), State: StateAborted, UpdatedAt: old}))
	require.NoError(t, tbl.Put(ctx, Record{TxnID: "c", StartOpTime: optime.New(3, 1), State: StateCommitted}))
	require.NoError(t, tbl.Put(ctx, Record{TxnID: "d", StartOpTime: optime.New(4, 1), State: StatePrepared, UpdatedAt: old}))

	n, err := tbl.PurgeResolved(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for id, want := range map[string]bool{"a": false, "b": false, "c": true, "d": true} {
		_, ok, err := tbl.Get(id)
		require.NoError(t, err)
		require.Equal(t, want, ok, id)
	}
	committed, err := tbl.ListByState(StateCommitted)
	require.NoError(t, err)
	require.Len(t, committed, 1)
}

func TestParseState(t *testing.T) {
	s, err := ParseState("prepared")
	require.NoError(t, err)
	require.Equal(t, StatePrepared, s)
	require.False(t, s.Resolved())
	require.True(t, StateAborted.Resolved())
	_, err = ParseState("bogus")
	require.Error(t, err)
}
