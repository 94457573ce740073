// Package profiler provides core.Profiler implementations for the named scopes
// the evaluation loop opens around each step.
package profiler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/evalmesh/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ core.Profiler = Passthrough{}
	_ core.Profiler = (*Simple)(nil)
	_ core.Profiler = (*Tracer)(nil)
)

// Passthrough opens no scopes.
type Passthrough struct{}

// Profile implements core.Profiler.
func (Passthrough) Profile(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

// Stat aggregates the durations of one scope.
type Stat struct {
	Count int
	Total time.Duration
	Max   time.Duration
}

// Mean returns the average duration.
func (s Stat) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Simple accumulates wall-clock durations per scope name.
type Simple struct {
	mu    sync.Mutex
	stats map[string]Stat
	now   func() time.Time
}

// NewSimple creates an empty profiler.
func NewSimple() *Simple {
	return &Simple{stats: map[string]Stat{}, now: time.Now}
}

// Profile implements core.Profiler. The returned function must be called once
// to close the scope.
func (p *Simple) Profile(ctx context.Context, name string) (context.Context, func()) {
	start := p.now()
	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			d := p.now().Sub(start)
			p.mu.Lock()
			defer p.mu.Unlock()
			s := p.stats[name]
			s.Count++
			s.Total += d
			if d > s.Max {
				s.Max = d
			}
			p.stats[name] = s
		})
	}
}

// Summary returns a snapshot of the per-scope statistics.
func (p *Simple) Summary() map[string]Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Stat, len(p.stats))
	for k, v := range p.stats {
		out[k] = v
	}
	return out
}

// Scopes returns the sorted scope names seen so far.
func (p *Simple) Scopes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.stats))
	for k := range p.stats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Reset clears all statistics.
func (p *Simple) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = map[string]Stat{}
}

// TracerName is the instrumentation scope of spans opened by Tracer.
const TracerName = "evalmesh.loop"

// Tracer opens an OpenTelemetry span per scope. Nested scopes become child
// spans because the returned context carries the open span.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracing profiler. A nil provider uses the global one.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// Profile implements core.Profiler.
func (t *Tracer) Profile(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}

// Chain opens the scope on every profiler in order and closes them in
// reverse order.
type Chain []core.Profiler

var _ core.Profiler = Chain(nil)

// Profile implements core.Profiler.
func (c Chain) Profile(ctx context.Context, name string) (context.Context, func()) {
	ends := make([]func(), 0, len(c))
	for _, p := range c {
		if p == nil {
			continue
		}
		var end func()
		ctx, end = p.Profile(ctx, name)
		ends = append(ends, end)
	}
	return ctx, func() {
		for i := len(ends) - 1; i >= 0; i-- {
			ends[i]()
		}
	}
}
