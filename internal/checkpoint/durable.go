package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	pebblestore "github.com/rzbill/oplogd/internal/storage/pebble"
	"github.com/rzbill/oplogd/pkg/log"
	"github.com/vmihailenco/msgpack/v5"
)

const ckptDirPrefix = "ckpt-"

// DurableOptions configures a Durable clock.
type DurableOptions struct {
	DB        *pebblestore.DB
	Namespace string
	Sampler   Sampler
	// Interval between checkpoint rounds. Defaults to 60s.
	Interval time.Duration
	// Dir receives physical Pebble checkpoints when set.
	Dir string
	// Keep is the number of physical checkpoints retained. Defaults to 2.
	Keep   int
	Logger log.Logger
}

// Durable checkpoints a disk-backed node on a fixed cadence.
type Durable struct {
	AtomicClock
	opts DurableOptions
	key  []byte
	lg   log.Logger

	// mu orders rounds so the persisted mark never moves backwards.
	mu sync.Mutex
}

// NewDurable creates the clock and restores the last persisted mark.
func NewDurable(opts DurableOptions) (*Durable, error) {
	if opts.DB == nil || opts.Sampler == nil {
		return nil, errors.New("checkpoint: DB and Sampler are required")
	}
	if opts.DB.InMemory() {
		return nil, errors.New("checkpoint: durable clock needs a disk-backed store")
	}
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Keep <= 0 {
		opts.Keep = 2
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.NewNopLogger()
	}
	d := &Durable{
		opts: opts,
		key:  []byte("ckpt/" + opts.Namespace + "/mark"),
		lg:   lg.WithComponent("checkpoint"),
	}

	val, err := opts.DB.Get(d.key)
	switch {
	case err == nil:
		if err := d.restore(val); err != nil {
			return nil, err
		}
	case pebblestore.IsNotFound(err):
	default:
		return nil, fmt.Errorf("load checkpoint mark: %w", err)
	}
	return d, nil
}

func (d *Durable) restore(val []byte) error {
	var m Mark
	if err := msgpack.Unmarshal(val, &m); err != nil {
		return fmt.Errorf("decode checkpoint mark: %w", err)
	}
	if m.HasFloor && m.Floor > m.TS {
		return fmt.Errorf("checkpoint mark floor %s is above its timestamp %s", m.Floor, m.TS)
	}
	if err := d.Advance(m); err != nil {
		return fmt.Errorf("restore checkpoint mark: %w", err)
	}
	d.lg.Info("restored checkpoint mark", log.Stringer("ts", m.TS), log.Stringer("floor", m.Floor), log.Bool("hasFloor", m.HasFloor))
	return nil
}

// Checkpoint runs one round. On failure the published mark is unchanged.
// Rounds are serialized.
func (d *Durable) Checkpoint(ctx context.Context) (Mark, error) {
	if err := ctx.Err(); err != nil {
		return Mark{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m := sample(d.opts.Sampler)
	if m.TS < d.LastStableCheckpoint() {
		return d.Mark(), fmt.Errorf("%w: %s < %s", ErrOutOfOrderCheckpoint, m.TS, d.LastStableCheckpoint())
	}

	if err := d.opts.DB.Flush(); err != nil {
		return d.Mark(), fmt.Errorf("flush: %w", err)
	}
	if d.opts.Dir != "" && !m.TS.IsNull() {
		if err := d.writePhysical(m); err != nil {
			return d.Mark(), err
		}
	}
	val, err := msgpack.Marshal(&m)
	if err != nil {
		return d.Mark(), fmt.Errorf("encode checkpoint mark: %w", err)
	}
	if err := d.opts.DB.Set(d.key, val); err != nil {
		return d.Mark(), fmt.Errorf("persist checkpoint mark: %w", err)
	}
	if err := d.Advance(m); err != nil {
		return d.Mark(), err
	}
	d.lg.Debug("checkpoint taken", log.Stringer("ts", m.TS), log.Stringer("floor", m.Floor), log.Bool("hasFloor", m.HasFloor))
	return m, nil
}

// Run checkpoints every Interval until ctx is done. Failed rounds are logged
// and retried on the next tick.
func (d *Durable) Run(ctx context.Context) error {
	t := time.NewTicker(d.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := d.Checkpoint(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.lg.Warn("checkpoint failed", log.Err(err))
			}
		}
	}
}

func (d *Durable) writePhysical(m Mark) error {
	if err := os.MkdirAll(d.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	dest := filepath.Join(d.opts.Dir, fmt.Sprintf("%s%016x", ckptDirPrefix, uint64(m.TS)))
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := d.opts.DB.Checkpoint(dest); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("pebble checkpoint: %w", err)
	}
	return d.prune()
}

// prune removes all but the newest Keep physical checkpoints.
func (d *Durable) prune() error {
	names, err := d.Physical()
	if err != nil {
		return err
	}
	for len(names) > d.opts.Keep {
		if err := os.RemoveAll(filepath.Join(d.opts.Dir, names[0])); err != nil {
			return fmt.Errorf("remove old checkpoint: %w", err)
		}
		names = names[1:]
	}
	return nil
}

// Physical lists the retained physical checkpoint directories, oldest first.
func (d *Durable) Physical() ([]string, error) {
	if d.opts.Dir == "" {
		return nil, nil
	}
	ents, err := os.ReadDir(d.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() && strings.HasPrefix(e.Name(), ckptDirPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
