package checkpoint

import (
	"context"
	"testing"

	"github.com/rzbill/oplogd/pkg/optime"
	"github.com/stretchr/testify/require"
)

func TestAtomicClockMonotonic(t *testing.T) {
	var c AtomicClock
	require.True(t, c.LastStableCheckpoint().IsNull())
	require.False(t, c.Mark().HasFloor)

	require.NoError(t, c.Advance(Mark{TS: optime.New(10, 1), Floor: optime.New(5, 1), HasFloor: true}))
	require.NoError(t, c.Advance(Mark{TS: optime.New(10, 1)}), "equal timestamp refreshes the floor")
	require.False(t, c.Mark().HasFloor)

	err := c.Advance(Mark{TS: optime.New(9, 1)})
	require.ErrorIs(t, err, ErrOutOfOrderCheckpoint)
	require.Equal(t, optime.New(10, 1), c.LastStableCheckpoint())
}

func TestVolatileCheckpointNow(t *testing.T) {
	ts := optime.New(3, 1)
	floor, hasFloor := optime.Null, false
	v := NewVolatile(func() (optime.Timestamp, optime.Timestamp, bool) { return ts, floor, hasFloor })
	var _ Synchronous = v
	var _ Clock = v

	m, err := v.CheckpointNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, ts, m.TS)
	require.False(t, m.HasFloor)

	ts, floor, hasFloor = optime.New(4, 1), optime.New(2, 1), true
	m, err = v.CheckpointNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, Mark{TS: ts, Floor: floor, HasFloor: true, TakenAt: m.TakenAt}, v.Mark())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.CheckpointNow(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
