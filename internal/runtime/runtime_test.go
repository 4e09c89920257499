package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/rzbill/oplogd/internal/config"
	"github.com/rzbill/oplogd/internal/node"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Secondaries = []cfgpkg.SecondaryConfig{
		{Name: "s1", Engine: cfgpkg.EngineInMemory},
		{Name: "s2"},
	}
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer rt.Close()
	require.NoError(t, rt.CheckHealth(context.Background()))
	require.Len(t, rt.Nodes(), 3)
	require.Equal(t, "primary", rt.Primary().Name())

	s2, ok := rt.Node("s2")
	require.True(t, ok)
	require.Equal(t, node.RoleSecondary, s2.Role())
	st, err := s2.Status()
	require.NoError(t, err)
	require.Equal(t, cfgpkg.EngineDurable, st.Engine)
	_, ok = rt.Node("missing")
	require.False(t, ok)
}

func TestSecondariesFollowPrimary(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer rt.Close()
	ctx := context.Background()

	m, err := rt.Primary().Txns()
	require.NoError(t, err)
	ts, err := m.Insert(ctx, oplog.OpInsert, []byte("hello"))
	require.NoError(t, err)

	for _, name := range []string{"s1", "s2"} {
		n, _ := rt.Node(name)
		applied, err := n.Applier().ApplyOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, applied)
		require.Equal(t, ts, n.Log().Newest())
	}
}

func TestNodeOptions(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = "/var/lib/oplogd"
	cfg.Checkpoint.Dir = "/var/backups/oplogd"
	o, err := NodeOptions(cfg, "s1", cfgpkg.EngineDurable)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/oplogd/s1", o.DataDir)
	require.Equal(t, "/var/backups/oplogd/s1", o.CheckpointDir)
	require.Equal(t, cfg.Oplog.MaxBytes, o.MaxBytes)

	o, err = NodeOptions(cfg, "s1", cfgpkg.EngineInMemory)
	require.NoError(t, err)
	require.Empty(t, o.DataDir)

	cfg.Txn.Format = "bogus"
	_, err = NodeOptions(cfg, "s1", cfgpkg.EngineDurable)
	require.Error(t, err)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Oplog.MaxBytes = 0
	_, err := Open(Options{Config: cfg})
	require.Error(t, err)
}
