package testutil

import "github.com/hupe1980/evalmesh/core"

// OutputBuilder provides a fluent helper for constructing step outputs in tests.
// Example:
//
//	out := NewOutputBuilder().Value("loss", 0.25).Predictions("p0").BatchSize(4).Build()
//
// Chain only the parts you need.
type OutputBuilder struct {
	values      map[string]any
	predictions []any
	batchSize   int
	metadata    map[string]any
}

// NewOutputBuilder creates an empty builder.
func NewOutputBuilder() *OutputBuilder {
	return &OutputBuilder{values: map[string]any{}}
}

// Value sets a named value (chainable).
func (b *OutputBuilder) Value(name string, v any) *OutputBuilder { b.values[name] = v; return b }

// Loss sets the conventional "loss" value (chainable).
func (b *OutputBuilder) Loss(v float64) *OutputBuilder { return b.Value("loss", v) }

// Predictions appends predictions (chainable).
func (b *OutputBuilder) Predictions(p ...any) *OutputBuilder {
	b.predictions = append(b.predictions, p...)
	return b
}

// BatchSize sets the batch-size hint (chainable).
func (b *OutputBuilder) BatchSize(n int) *OutputBuilder { b.batchSize = n; return b }

// Meta sets a metadata entry (chainable).
func (b *OutputBuilder) Meta(k string, v any) *OutputBuilder {
	if b.metadata == nil {
		b.metadata = map[string]any{}
	}
	b.metadata[k] = v
	return b
}

// Build returns a fresh *core.StepOutput. Slices and maps are copied so one
// builder can produce independent outputs.
func (b *OutputBuilder) Build() *core.StepOutput {
	out := core.NewStepOutput(nil)
	for k, v := range b.values {
		out.Values[k] = v
	}
	if len(b.predictions) > 0 {
		out.Predictions = append([]any{}, b.predictions...)
	}
	out.BatchSize = b.batchSize
	if b.metadata != nil {
		out.Metadata = map[string]any{}
		for k, v := range b.metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
