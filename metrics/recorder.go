package metrics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/evalmesh/core"
)

var (
	_ core.MetricsRecorder   = (*Recorder)(nil)
	_ core.BatchSizeRecorder = (*Recorder)(nil)
)

// StepRecord is one flushed step: the metrics logged during the step and the
// batch size used to weight them.
type StepRecord struct {
	SourceIndex int
	BatchSize   int
	Metrics     map[string]float64
}

type accumulator struct {
	sums    map[string]float64
	weights map[string]float64
}

// pendingStep holds what one source logged since its batch started.
type pendingStep struct {
	metrics   map[string]float64
	batchSize int
}

// Recorder is an in-memory core.MetricsRecorder. It keeps every flushed step
// and aggregates epoch level means weighted by batch size (unit weight when
// no size is known). Pending step state is kept per source, so loops over
// distinct sources may share one Recorder.
type Recorder struct {
	mu sync.Mutex

	numSources int
	pending    map[int]*pendingStep

	steps []StepRecord
	epoch map[int]*accumulator
	order []string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		numSources: 1,
		pending:    map[int]*pendingStep{},
		epoch:      map[int]*accumulator{},
	}
}

// OnEvaluationBatchStart implements core.MetricsRecorder.
func (r *Recorder) OnEvaluationBatchStart(_ any, sourceIndex, numSources int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if numSources > r.numSources {
		r.numSources = numSources
	}
	r.pending[sourceIndex] = &pendingStep{}
}

// step returns the pending state of a source, creating it when a recorder is
// driven without OnEvaluationBatchStart. Callers hold r.mu.
func (r *Recorder) step(sourceIndex int) *pendingStep {
	p, ok := r.pending[sourceIndex]
	if !ok {
		p = &pendingStep{}
		r.pending[sourceIndex] = p
	}
	return p
}

// CacheLoggedMetrics implements core.MetricsRecorder.
func (r *Recorder) CacheLoggedMetrics(sourceIndex int, results *core.StepResults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.step(sourceIndex)
	if results == nil {
		p.metrics = nil
		return
	}
	p.metrics = results.Metrics()
	for _, name := range results.Names() {
		if !contains(r.order, name) {
			r.order = append(r.order, name)
		}
	}
}

// RecordBatchSize implements core.BatchSizeRecorder.
func (r *Recorder) RecordBatchSize(sourceIndex, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step(sourceIndex).batchSize = size
}

// LogEvaluationStepMetrics implements core.MetricsRecorder.
func (r *Recorder) LogEvaluationStepMetrics(sourceIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.step(sourceIndex)
	delete(r.pending, sourceIndex)

	rec := StepRecord{SourceIndex: sourceIndex, BatchSize: p.batchSize, Metrics: p.metrics}
	if rec.Metrics == nil {
		rec.Metrics = map[string]float64{}
	}
	r.steps = append(r.steps, rec)

	acc, ok := r.epoch[sourceIndex]
	if !ok {
		acc = &accumulator{sums: map[string]float64{}, weights: map[string]float64{}}
		r.epoch[sourceIndex] = acc
	}
	w := float64(p.batchSize)
	if w <= 0 {
		w = 1
	}
	for name, v := range rec.Metrics {
		acc.sums[name] += v * w
		acc.weights[name] += w
	}
}

// Steps returns a copy of every flushed step in order.
func (r *Recorder) Steps() []StepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepRecord{}, r.steps...)
}

// EpochMetrics returns the weighted means for one source.
func (r *Recorder) EpochMetrics(sourceIndex int) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]float64{}
	if acc, ok := r.epoch[sourceIndex]; ok {
		for name, sum := range acc.sums {
			out[name] = sum / acc.weights[name]
		}
	}
	return out
}

// Summary returns the weighted means of every source. With more than one
// source the names carry a "/dataloader_idx_N" suffix.
func (r *Recorder) Summary() map[string]float64 {
	r.mu.Lock()
	multi := r.numSources > 1 || len(r.epoch) > 1
	sources := make([]int, 0, len(r.epoch))
	for idx := range r.epoch {
		sources = append(sources, idx)
	}
	r.mu.Unlock()

	out := map[string]float64{}
	for _, idx := range sources {
		for name, v := range r.EpochMetrics(idx) {
			if multi {
				name = fmt.Sprintf("%s/%s_%d", name, core.ArgSourceIndex, idx)
			}
			out[name] = v
		}
	}
	return out
}

// Names returns the metric names in first-logged order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}

// SummaryKeys returns the sorted keys of Summary.
func (r *Recorder) SummaryKeys() []string {
	s := r.Summary()
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset clears all recorded data.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numSources = 1
	r.pending = map[int]*pendingStep{}
	r.steps = nil
	r.epoch = map[int]*accumulator{}
	r.order = nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
