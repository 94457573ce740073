package metrics

import "github.com/hupe1980/evalmesh/core"

var (
	_ core.MetricsRecorder   = Multi{}
	_ core.BatchSizeRecorder = Multi{}
)

// Multi fans every notification out to several recorders in order.
type Multi []core.MetricsRecorder

// NewMulti drops nil recorders and returns the fan-out.
func NewMulti(recorders ...core.MetricsRecorder) Multi {
	m := make(Multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

// OnEvaluationBatchStart implements core.MetricsRecorder.
func (m Multi) OnEvaluationBatchStart(batch any, sourceIndex, numSources int) {
	for _, r := range m {
		r.OnEvaluationBatchStart(batch, sourceIndex, numSources)
	}
}

// CacheLoggedMetrics implements core.MetricsRecorder.
func (m Multi) CacheLoggedMetrics(sourceIndex int, results *core.StepResults) {
	for _, r := range m {
		r.CacheLoggedMetrics(sourceIndex, results)
	}
}

// LogEvaluationStepMetrics implements core.MetricsRecorder.
func (m Multi) LogEvaluationStepMetrics(sourceIndex int) {
	for _, r := range m {
		r.LogEvaluationStepMetrics(sourceIndex)
	}
}

// RecordBatchSize forwards to every recorder that tracks batch sizes.
func (m Multi) RecordBatchSize(sourceIndex, size int) {
	for _, r := range m {
		if b, ok := r.(core.BatchSizeRecorder); ok {
			b.RecordBatchSize(sourceIndex, size)
		}
	}
}
