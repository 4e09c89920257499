package retention

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzbill/oplogd/internal/checkpoint"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/pkg/optime"
)

// LogStore is the part of the oplog retention reads and mutates.
type LogStore interface {
	SizeBytes() int64
	Newest() optime.Timestamp
	SizeCutoff(maxBytes int64) (optime.Timestamp, error)
	DeleteOlderThan(ctx context.Context, ts optime.Timestamp, opts oplog.DeleteOptions) (oplog.DeleteResult, error)
}

// Boundary is the outcome of one computation.
type Boundary struct {
	// TS is the truncation point: entries strictly older may be deleted.
	TS optime.Timestamp `json:"ts"`
	// SizeCutoff is the oldest entry the size budget alone would keep.
	SizeCutoff   optime.Timestamp `json:"sizeCutoff"`
	Floor        optime.Timestamp `json:"floor"`
	HasFloor     bool             `json:"hasFloor"`
	CheckpointTS optime.Timestamp `json:"checkpointTs"`
	// Pinned is set when a prepared transaction holds the boundary below
	// the size cutoff.
	Pinned bool `json:"pinned"`
	// Clamped is set when the last checkpoint held the boundary back.
	Clamped   bool  `json:"clamped"`
	SizeBytes int64 `json:"sizeBytes"`
	MaxBytes  int64 `json:"maxBytes"`
}

// Engine computes retention boundaries. It is safe for concurrent use.
type Engine struct {
	log   LogStore
	clock checkpoint.Clock

	mu   sync.Mutex
	last Boundary
}

// NewEngine returns an engine reading the log and the checkpoint clock.
func NewEngine(l LogStore, c checkpoint.Clock) *Engine {
	return &Engine{log: l, clock: c}
}

// ComputeBoundary returns min(size cutoff, floor at last checkpoint), capped
// at the newest entry and the last checkpoint and never below the previous
// result.
func (e *Engine) ComputeBoundary(ctx context.Context, maxBytes int64) (Boundary, error) {
	if err := ctx.Err(); err != nil {
		return Boundary{}, err
	}
	mark := e.clock.Mark()
	size := e.log.SizeBytes()
	cutoff, err := e.log.SizeCutoff(maxBytes)
	if err != nil {
		return Boundary{}, fmt.Errorf("size cutoff: %w", err)
	}

	b := Boundary{
		SizeCutoff:   cutoff,
		Floor:        mark.Floor,
		HasFloor:     mark.HasFloor,
		CheckpointTS: mark.TS,
		SizeBytes:    size,
		MaxBytes:     maxBytes,
	}
	b.TS = cutoff
	if mark.HasFloor && !cutoff.IsNull() && mark.Floor < cutoff {
		b.TS = mark.Floor
		b.Pinned = true
	}
	if newest := e.log.Newest(); b.TS > newest {
		b.TS = newest
	}
	if b.TS > mark.TS {
		b.TS = mark.TS
		b.Clamped = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b.TS < e.last.TS {
		b.TS = e.last.TS
	}
	e.last = b
	return b, nil
}

// Last returns the most recent boundary.
func (e *Engine) Last() Boundary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
