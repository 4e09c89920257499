package node

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rzbill/oplogd/internal/config"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/txn"
	"github.com/rzbill/oplogd/pkg/optime"
	"github.com/stretchr/testify/require"
)

// retentionModel drives random transaction traffic against a primary and
// checks after every truncation that no prepared transaction lost its
// first entry on any node.
type retentionModel struct {
	t         *testing.T
	rng       *rand.Rand
	primary   *Node
	secondary *Node
	mgr       *txn.Manager

	running  []*txn.Txn
	prepared []*txn.Txn
	// history holds every transaction that was ever prepared, so a node
	// behind the primary can tell which of them it still sees as prepared.
	history  []txn.Info
	enforced map[string]optime.Timestamp
	deleted  int
}

func newRetentionModel(t *testing.T, seed int64, primary, secondary *Node) *retentionModel {
	mgr, err := primary.Txns()
	require.NoError(t, err)
	return &retentionModel{
		t:         t,
		rng:       rand.New(rand.NewSource(seed)),
		primary:   primary,
		secondary: secondary,
		mgr:       mgr,
		enforced:  make(map[string]optime.Timestamp),
	}
}

func (m *retentionModel) run(steps int) {
	ctx := context.Background()
	t := m.t
	for i := 0; i < steps; i++ {
		switch op := m.rng.Intn(100); {
		case op < 15:
			m.running = append(m.running, m.mgr.Begin())
		case op < 30 && len(m.running) > 0:
			tx := m.running[m.rng.Intn(len(m.running))]
			require.NoError(t, tx.Write(ctx, oplog.OpInsert, payload))
		case op < 40 && len(m.running) > 0:
			tx := m.take(&m.running)
			_, err := tx.Prepare(ctx)
			require.NoError(t, err)
			m.prepared = append(m.prepared, tx)
		case op < 50 && len(m.running)+len(m.prepared) > 0:
			m.resolve(ctx, m.rng.Intn(2) == 0)
		case op < 75:
			insertN(t, m.mgr, 1+m.rng.Intn(3))
		case op < 80:
			m.checkpoint(ctx)
		case op < 90 && m.secondary != nil:
			for k := m.rng.Intn(3) + 1; k > 0; k-- {
				_, err := m.secondary.Applier().ApplyOnce(ctx)
				require.NoError(t, err)
			}
		default:
			m.truncate(ctx)
		}
	}
	m.truncate(ctx)
}

// take removes and returns a random element of list.
func (m *retentionModel) take(list *[]*txn.Txn) *txn.Txn {
	l := *list
	i := m.rng.Intn(len(l))
	tx := l[i]
	*list = append(l[:i], l[i+1:]...)
	return tx
}

func (m *retentionModel) resolve(ctx context.Context, commit bool) {
	t := m.t
	var tx *txn.Txn
	if len(m.prepared) > 0 && (len(m.running) == 0 || m.rng.Intn(2) == 0) {
		tx = m.take(&m.prepared)
	} else {
		tx = m.take(&m.running)
	}
	var err error
	if commit {
		_, err = tx.Commit(ctx)
	} else {
		_, err = tx.Abort(ctx)
	}
	require.NoError(t, err)
	if info := tx.Info(); !info.PrepareTS.IsNull() {
		m.history = append(m.history, info)
	}
}

func (m *retentionModel) checkpoint(ctx context.Context) {
	for _, n := range m.nodes() {
		_, err := n.Checkpoint(ctx)
		require.NoError(m.t, err)
	}
}

func (m *retentionModel) nodes() []*Node {
	if m.secondary == nil {
		return []*Node{m.primary}
	}
	return []*Node{m.primary, m.secondary}
}

func (m *retentionModel) truncate(ctx context.Context) {
	t := m.t
	if m.secondary != nil {
		// The primary does not wait for secondaries, so catch up first.
		for {
			n, err := m.secondary.Applier().ApplyOnce(ctx)
			require.NoError(t, err)
			if n == 0 {
				break
			}
		}
	}
	for _, n := range m.nodes() {
		if n.durable != nil && m.rng.Intn(2) == 0 {
			_, err := n.Checkpoint(ctx)
			require.NoError(t, err)
		}
		res, err := n.Truncate(ctx)
		require.NoError(t, err)
		m.deleted += res.Deleted.Deleted

		enforced := n.Truncator().Enforced()
		require.GreaterOrEqual(t, enforced, m.enforced[n.Name()], "%s: enforced boundary moved backwards", n.Name())
		m.enforced[n.Name()] = enforced
		m.checkPrepared(n)
	}
}

// checkPrepared asserts that every transaction the node sees as prepared
// still has its first entry.
func (m *retentionModel) checkPrepared(n *Node) {
	t := m.t
	at := n.Log().Newest()
	for _, info := range m.preparedAt(at) {
		require.LessOrEqual(t, n.Truncator().Enforced(), info.StartOpTime, "%s: boundary passed txn %s", n.Name(), info.ID)
		_, err := n.Log().Get(info.StartOpTime)
		require.NoError(t, err, "%s: first entry of prepared txn %s was truncated", n.Name(), info.ID)
	}
}

// preparedAt returns the transactions prepared, and not yet resolved, as of
// log position at.
func (m *retentionModel) preparedAt(at optime.Timestamp) []txn.Info {
	var out []txn.Info
	for _, info := range m.history {
		if info.PrepareTS <= at && (info.ResolveTS.IsNull() || info.ResolveTS > at) {
			out = append(out, info)
		}
	}
	for _, tx := range m.prepared {
		if info := tx.Info(); info.PrepareTS <= at {
			out = append(out, info)
		}
	}
	return out
}

func TestRetentionModelPrimary(t *testing.T) {
	for _, engine := range []string{config.EngineInMemory, config.EngineDurable} {
		t.Run(engine, func(t *testing.T) {
			n := openNode(t, Options{Engine: engine, MaxBytes: 2048})
			m := newRetentionModel(t, 7, n, nil)
			m.run(400)
			require.Positive(t, m.deleted)
		})
	}
}

func TestRetentionModelSecondary(t *testing.T) {
	for _, engine := range []string{config.EngineInMemory, config.EngineDurable} {
		t.Run(engine, func(t *testing.T) {
			primary := openNode(t, Options{Engine: config.EngineInMemory, MaxBytes: 2048})
			secondary := openNode(t, Options{
				Name:       "s1",
				Role:       RoleSecondary,
				Engine:     engine,
				MaxBytes:   1024,
				Source:     primary.Log(),
				ApplyBatch: 2,
			})
			m := newRetentionModel(t, 11, primary, secondary)
			m.run(400)
			require.Positive(t, m.deleted)
			require.Equal(t, primary.Log().Newest(), secondary.Log().Newest())
		})
	}
}
