package checkpoint

import (
	"context"
)

// Volatile is the clock of an in-memory node. Every CheckpointNow call
// treats the current state as stable.
type Volatile struct {
	AtomicClock
	sample Sampler
}

// NewVolatile returns a Volatile clock reading state through s.
func NewVolatile(s Sampler) *Volatile {
	return &Volatile{sample: s}
}

// CheckpointNow samples the current state and publishes it.
func (v *Volatile) CheckpointNow(ctx context.Context) (Mark, error) {
	if err := ctx.Err(); err != nil {
		return Mark{}, err
	}
	m := sample(v.sample)
	if err := v.Advance(m); err != nil {
		return v.Mark(), err
	}
	return m, nil
}
