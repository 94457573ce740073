package core

import "context"

// DataSource yields an ordered, possibly exhaustible sequence of opaque batch
// payloads. Next returns ok=false once the source is exhausted; exhaustion is
// not an error. A returned error is a genuine failure and aborts the run.
type DataSource interface {
	Next(ctx context.Context) (payload any, ok bool, err error)
}

// StoppableSource is a DataSource holding resources that must be released when
// a run ends, whether or not the source was exhausted.
type StoppableSource interface {
	DataSource
	Stop()
}

// ModelAdapter performs the actual per-batch computation.
//
// Implementations log per-step metrics into the holder returned by Results;
// the loop resets that holder before each step.
type ModelAdapter interface {
	ValidationStep(ctx context.Context, args StepArgs) (*StepOutput, error)
	TestStep(ctx context.Context, args StepArgs) (*StepOutput, error)
	Results() *StepResults
}

// HookCall carries the arguments of a single hook invocation. Fields that do
// not apply to a hook are left at their zero value.
type HookCall struct {
	Batch       any
	BatchIndex  int
	SourceIndex int
	Output      *StepOutput
}

// HookHost dispatches named lifecycle hooks. For step-end hooks the returned
// output replaces the step output (nil is a valid replacement); for batch
// start/end hooks the returned output is ignored.
type HookHost interface {
	CallHook(ctx context.Context, name HookName, call HookCall) (*StepOutput, error)
}

// MetricsRecorder receives metric lifecycle notifications from the loop.
//
// Every call carries the index of the source the batch belongs to, so one
// recorder can serve several loop instances as long as they evaluate distinct
// sources. State between the calls of one batch is kept per source.
type MetricsRecorder interface {
	// OnEvaluationBatchStart announces the upcoming batch and its source.
	OnEvaluationBatchStart(batch any, sourceIndex, numSources int)
	// CacheLoggedMetrics captures the metrics logged by the adapter during the step.
	CacheLoggedMetrics(sourceIndex int, results *StepResults)
	// LogEvaluationStepMetrics flushes the batch level metrics of the source.
	LogEvaluationStepMetrics(sourceIndex int)
}

// BatchSizeRecorder is optionally implemented by a MetricsRecorder that
// weights epoch level averages by batch size.
type BatchSizeRecorder interface {
	RecordBatchSize(sourceIndex, size int)
}

// Profiler opens named, scoped timing regions. The returned function closes
// the region.
type Profiler interface {
	Profile(ctx context.Context, name string) (context.Context, func())
}

// DebugTracker is an optional side channel that observes every batch output.
type DebugTracker interface {
	TrackEvalLossHistory(batchIndex, sourceIndex int, output *StepOutput)
}

// ArtifactStore defines the interface for artifact persistence. Implementations
// should be thread-safe and scope artifacts by namespace.
type ArtifactStore interface {
	Save(namespace, artifactID string, data []byte) error
	Get(namespace, artifactID string) ([]byte, error)
	List(namespace string) ([]string, error)
	Delete(namespace, artifactID string) error
}
