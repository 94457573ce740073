// Package source provides core.DataSource implementations over slices,
// iterators, channels and plain functions. None of them batch or shuffle data;
// each payload they yield is handed to the loop as one opaque batch.
package source

import (
	"context"
	"iter"
	"sync"

	"github.com/hupe1980/evalmesh/core"
)

var (
	_ core.DataSource = (*Slice)(nil)
	_ core.DataSource = (*Channel)(nil)
	_ core.DataSource = Func(nil)
)

var _ core.StoppableSource = (*Seq)(nil)

// Slice yields the payloads of a slice in order, then reports exhaustion.
type Slice struct {
	mu       sync.Mutex
	payloads []any
	pos      int
}

// NewSlice creates a source over the given payloads. A nil element is yielded
// as a nil batch.
func NewSlice(payloads ...any) *Slice {
	return &Slice{payloads: append([]any{}, payloads...)}
}

// FromSlice creates a source over a typed slice.
func FromSlice[T any](items []T) *Slice {
	payloads := make([]any, len(items))
	for i, it := range items {
		payloads[i] = it
	}
	return &Slice{payloads: payloads}
}

// Next implements core.DataSource.
func (s *Slice) Next(_ context.Context) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.payloads) {
		return nil, false, nil
	}
	p := s.payloads[s.pos]
	s.pos++
	return p, true, nil
}

// Len returns the total number of payloads.
func (s *Slice) Len() int { return len(s.payloads) }

// Rewind restarts iteration from the first payload.
func (s *Slice) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
}

// Seq adapts an iter.Seq into a pull-based source. The pull iterator runs seq
// on its own goroutine, which only ends once seq returns or Stop is called.
// EvaluationLoop.Run stops the source when it returns; callers driving the loop
// through Advance must call Stop themselves when abandoning the source early.
type Seq struct {
	next func() (any, bool)
	stop func()
	done bool
}

// FromSeq creates a source over seq.
func FromSeq(seq iter.Seq[any]) *Seq {
	next, stop := iter.Pull(seq)
	return &Seq{next: next, stop: stop}
}

// Next implements core.DataSource.
func (s *Seq) Next(_ context.Context) (any, bool, error) {
	if s.done {
		return nil, false, nil
	}
	v, ok := s.next()
	if !ok {
		s.Stop()
		return nil, false, nil
	}
	return v, true, nil
}

// Stop releases the underlying iterator. It is idempotent.
func (s *Seq) Stop() {
	if s.done {
		return
	}
	s.done = true
	s.stop()
}

// Channel yields payloads received from a channel until it is closed. Next
// blocks until a payload arrives or the context is cancelled.
type Channel struct {
	ch <-chan any
}

// NewChannel creates a source reading from ch.
func NewChannel(ch <-chan any) *Channel {
	return &Channel{ch: ch}
}

// Next implements core.DataSource.
func (c *Channel) Next(ctx context.Context) (any, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case v, ok := <-c.ch:
		if !ok {
			return nil, false, nil
		}
		return v, true, nil
	}
}

// Func adapts a plain function into a core.DataSource.
type Func func(ctx context.Context) (any, bool, error)

// Next implements core.DataSource.
func (f Func) Next(ctx context.Context) (any, bool, error) { return f(ctx) }
