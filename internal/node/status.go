package node

import (
	"github.com/rzbill/oplogd/internal/checkpoint"
	"github.com/rzbill/oplogd/internal/retention"
	"github.com/rzbill/oplogd/internal/txntracker"
	"github.com/rzbill/oplogd/pkg/optime"
)

// Status is a point-in-time view of a node's retention state.
type Status struct {
	Name     string             `json:"name"`
	Role     Role               `json:"role"`
	Engine   string             `json:"engine"`
	Boundary retention.Boundary `json:"boundary"`
	Enforced optime.Timestamp   `json:"enforced"`
	Mark     checkpoint.Mark    `json:"checkpoint"`

	SizeBytes int64            `json:"sizeBytes"`
	MaxBytes  int64            `json:"maxBytes"`
	Entries   int64            `json:"entries"`
	Oldest    optime.Timestamp `json:"oldest"`
	Newest    optime.Timestamp `json:"newest"`

	Prepared []txntracker.Entry          `json:"prepared"`
	Cursors  map[string]optime.Timestamp `json:"cursors,omitempty"`
	Applied  optime.Timestamp            `json:"applied,omitempty"`
	ApplyErr string                      `json:"applyError,omitempty"`
	Physical []string                    `json:"physicalCheckpoints,omitempty"`
}

// Status collects the node's current state.
func (n *Node) Status() (Status, error) {
	st := Status{
		Name:      n.opts.Name,
		Role:      n.opts.Role,
		Engine:    n.opts.Engine,
		Boundary:  n.engine.Last(),
		Enforced:  n.trunc.Enforced(),
		Mark:      n.clock.Mark(),
		SizeBytes: n.log.SizeBytes(),
		MaxBytes:  n.trunc.MaxBytes(),
		Entries:   n.log.Count(),
		Newest:    n.log.Newest(),
		Prepared:  n.tracker.Prepared(),
	}
	oldest, ok, err := n.log.Oldest()
	if err != nil {
		return st, err
	}
	if ok {
		st.Oldest = oldest.TS
	}
	if st.Cursors, err = n.log.Cursors(); err != nil {
		return st, err
	}
	if n.applier != nil {
		st.Applied = n.applier.Applied()
		if err := n.applier.Err(); err != nil {
			st.ApplyErr = err.Error()
		}
	}
	if n.durable != nil {
		if st.Physical, err = n.durable.Physical(); err != nil {
			return st, err
		}
	}
	return st, nil
}
