package core

import (
	"reflect"
	"sync"
)

// StepOutput is the result of a single validation or test step. A nil
// *StepOutput is a valid step result that is simply not aggregated.
//
// Values carries step level values (losses, scores) keyed by name.
// Predictions is optional; in test mode it is moved out of the output into the
// loop's prediction collection. BatchSize is an optional hint used by metric
// backends for weighted averaging (0 means unset).
type StepOutput struct {
	Values      map[string]any `json:"values,omitempty"`
	Predictions []any          `json:"predictions,omitempty"`
	BatchSize   int            `json:"batch_size,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewStepOutput creates an output with the given values.
func NewStepOutput(values map[string]any) *StepOutput {
	if values == nil {
		values = map[string]any{}
	}
	return &StepOutput{Values: values}
}

// HasPredictions reports whether the output carries any predictions.
func (o *StepOutput) HasPredictions() bool { return o != nil && len(o.Predictions) > 0 }

// PopPredictions removes the predictions from the output and returns them.
func (o *StepOutput) PopPredictions() []any {
	if o == nil {
		return nil
	}
	p := o.Predictions
	o.Predictions = nil
	return p
}

// Value returns a named value and whether it exists.
func (o *StepOutput) Value(name string) (any, bool) {
	if o == nil || o.Values == nil {
		return nil, false
	}
	v, ok := o.Values[name]
	return v, ok
}

// Float returns a named value converted to float64 when it is numeric.
func (o *StepOutput) Float(name string) (float64, bool) {
	v, ok := o.Value(name)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// TrackBatchSize fills BatchSize from the batch payload when the output does
// not already declare a hint. Sized payloads report their own length; plain
// slices and arrays use their element count. It returns the resulting hint.
func (o *StepOutput) TrackBatchSize(batch any) int {
	if o == nil {
		return 0
	}
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	o.BatchSize = batchLen(batch)
	return o.BatchSize
}

// ToFloat converts common numeric kinds to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// StepResults is the adapter's per-step result holder. Adapters log scalar
// metrics into it during a step; the loop resets it before every step and hands
// it to the metrics recorder afterwards. It is safe for concurrent use.
type StepResults struct {
	mu      sync.Mutex
	metrics map[string]float64
	order   []string
}

// NewStepResults returns an empty result holder.
func NewStepResults() *StepResults {
	return &StepResults{metrics: map[string]float64{}}
}

// Log records (or overwrites) a named metric value.
func (r *StepResults) Log(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metrics == nil {
		r.metrics = map[string]float64{}
	}
	if _, exists := r.metrics[name]; !exists {
		r.order = append(r.order, name)
	}
	r.metrics[name] = value
}

// Metrics returns a copy of the logged metrics.
func (r *StepResults) Metrics() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]float64, len(r.metrics))
	for k, v := range r.metrics {
		cp[k] = v
	}
	return cp
}

// Names returns the logged metric names in first-logged order.
func (r *StepResults) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}

// Len returns the number of logged metrics.
func (r *StepResults) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.metrics)
}

// Reset clears all logged metrics.
func (r *StepResults) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = map[string]float64{}
	r.order = nil
}

func batchLen(batch any) int {
	if s, ok := batch.(Sized); ok {
		return s.Len()
	}
	if batch == nil {
		return 0
	}
	switch v := reflect.ValueOf(batch); v.Kind() {
	case reflect.Slice, reflect.Array:
		return v.Len()
	}
	return 0
}
