package loop

import (
	"context"

	"github.com/hupe1980/evalmesh/core"
)

// NilBatchPolicy decides how the cursor treats a nil batch payload.
type NilBatchPolicy int

const (
	// NilBatchStop ends the run as if the source were exhausted.
	NilBatchStop NilBatchPolicy = iota
	// NilBatchSkip consumes the index and moves on to the next payload.
	NilBatchSkip
)

// String returns the policy name.
func (p NilBatchPolicy) String() string {
	if p == NilBatchSkip {
		return "skip"
	}
	return "stop"
}

// ParseNilBatchPolicy converts "stop" or "skip" into a NilBatchPolicy.
func ParseNilBatchPolicy(s string) (NilBatchPolicy, error) {
	switch s {
	case "", "stop":
		return NilBatchStop, nil
	case "skip":
		return NilBatchSkip, nil
	default:
		return NilBatchStop, core.NewConfigurationError("nil_batch_policy", "unknown policy %q", s)
	}
}

// Cursor is a lazy, indexed traversal over a DataSource. It yields batches in
// source order with 0-based indices. Exhaustion is reported with ok=false,
// never as an error, and is sticky.
type Cursor struct {
	source    core.DataSource
	policy    NilBatchPolicy
	next      int
	exhausted bool
	nilStop   bool
}

// NewCursor wraps a data source.
func NewCursor(source core.DataSource, policy NilBatchPolicy) *Cursor {
	return &Cursor{source: source, policy: policy}
}

// Next pulls the next batch. Source errors are returned unmodified.
func (c *Cursor) Next(ctx context.Context) (core.Batch, bool, error) {
	for !c.exhausted {
		payload, ok, err := c.source.Next(ctx)
		if err != nil {
			return core.Batch{}, false, err
		}
		if !ok {
			c.exhausted = true
			break
		}

		idx := c.next
		c.next++

		if payload == nil {
			if c.policy == NilBatchSkip {
				continue
			}
			c.exhausted = true
			c.nilStop = true
			break
		}

		return core.Batch{Index: idx, Payload: payload}, true, nil
	}
	return core.Batch{}, false, nil
}

// Exhausted reports whether the cursor has signalled the end of the source.
func (c *Cursor) Exhausted() bool { return c.exhausted }

// StoppedOnNil reports whether exhaustion was triggered by a nil batch.
func (c *Cursor) StoppedOnNil() bool { return c.nilStop }

// Position returns the index the next pulled batch will carry.
func (c *Cursor) Position() int { return c.next }
