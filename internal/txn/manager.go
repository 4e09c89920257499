package txn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/txntable"
	"github.com/rzbill/oplogd/internal/txntracker"
	"github.com/rzbill/oplogd/pkg/log"
	"github.com/rzbill/oplogd/pkg/optime"
)

var (
	ErrInvalidState       = errors.New("txn: invalid state transition")
	ErrUnknownTransaction = errors.New("txn: unknown transaction")
)

// Options configures a Manager.
type Options struct {
	Format Format
	Logger log.Logger
}

// Manager owns the open transactions of a primary.
type Manager struct {
	log     *oplog.Log
	table   *txntable.Table
	tracker *txntracker.Tracker
	format  Format
	lg      log.Logger

	mu   sync.Mutex
	txns map[string]*Txn
}

// NewManager returns a manager appending to l.
func NewManager(l *oplog.Log, table *txntable.Table, tracker *txntracker.Tracker, opts Options) *Manager {
	lg := opts.Logger
	if lg == nil {
		lg = log.NewNopLogger()
	}
	return &Manager{
		log:     l,
		table:   table,
		tracker: tracker,
		format:  opts.Format,
		lg:      lg.WithComponent("txn"),
		txns:    make(map[string]*Txn),
	}
}

// Format returns the configured log layout.
func (m *Manager) Format() Format { return m.format }

// Begin starts a transaction with a fresh id.
func (m *Manager) Begin() *Txn {
	t := &Txn{m: m, id: uuid.NewString(), state: txntable.StateRunning}
	m.mu.Lock()
	m.txns[t.id] = t
	m.mu.Unlock()
	return t
}

// Get returns an open transaction.
func (m *Manager) Get(id string) (*Txn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
	}
	return t, nil
}

// Open lists the open transactions ordered by id.
func (m *Manager) Open() []Info {
	m.mu.Lock()
	txns := make([]*Txn, 0, len(m.txns))
	for _, t := range m.txns {
		txns = append(txns, t)
	}
	m.mu.Unlock()
	out := make([]Info, 0, len(txns))
	for _, t := range txns {
		out = append(out, t.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.txns, id)
	m.mu.Unlock()
}

// Insert appends a non-transactional write.
func (m *Manager) Insert(ctx context.Context, op oplog.Op, payload []byte) (optime.Timestamp, error) {
	tss, err := m.log.Append(ctx, []oplog.Entry{{Op: op, Payload: payload}})
	if err != nil {
		return optime.Null, err
	}
	return tss[0], nil
}

// Recover reloads prepared transactions from the side-table after a restart
// so they can be resolved, and seeds the tracker with them.
func (m *Manager) Recover() error {
	recs, err := m.table.ListByState(txntable.StatePrepared)
	if err != nil {
		return err
	}
	entries := make([]txntracker.Entry, 0, len(recs))
	m.mu.Lock()
	for _, r := range recs {
		m.txns[r.TxnID] = &Txn{
			m:         m,
			id:        r.TxnID,
			state:     txntable.StatePrepared,
			start:     r.StartOpTime,
			prepareTS: r.PrepareTS,
		}
		entries = append(entries, txntracker.Entry{TxnID: r.TxnID, StartOpTime: r.StartOpTime})
	}
	m.mu.Unlock()
	if len(recs) > 0 {
		m.lg.Info("recovered prepared transactions", log.Int("count", len(recs)))
	}
	return m.tracker.Restore(entries)
}

// appendWithRecord appends entries and stages the record produced by build in
// the same batch.
func (m *Manager) appendWithRecord(ctx context.Context, entries []oplog.Entry, build func(es []oplog.Entry) txntable.Record) ([]oplog.Entry, error) {
	var written []oplog.Entry
	_, err := m.log.Append(ctx, entries, oplog.WithBatch(func(b *pebble.Batch, es []oplog.Entry) error {
		written = es
		return m.table.Stage(b, build(es))
	}))
	if err != nil {
		return nil, err
	}
	return written, nil
}
