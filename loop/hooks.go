package loop

import (
	"context"

	"github.com/hupe1980/evalmesh/core"
)

// binding is the mode-specific set of step function and hook names resolved
// once at Reset.
type binding struct {
	mode       core.RunMode
	step       func(context.Context, core.StepArgs) (*core.StepOutput, error)
	batchStart core.HookName
	batchEnd   core.HookName
	stepEnd    core.HookName
}

func bind(mode core.RunMode, adapter core.ModelAdapter) binding {
	b := binding{
		mode:       mode,
		batchStart: mode.BatchStartHook(),
		batchEnd:   mode.BatchEndHook(),
		stepEnd:    mode.StepEndHook(),
	}
	if mode == core.ModeTest {
		b.step = adapter.TestStep
	} else {
		b.step = adapter.ValidationStep
	}
	return b
}

// HookDispatcher invokes the host lifecycle hooks around each batch.
type HookDispatcher struct {
	hooks       core.HookHost
	metrics     core.MetricsRecorder
	debug       core.DebugTracker
	predictions *PredictionStore
	binding     binding
}

// NewHookDispatcher creates a dispatcher bound to the given mode. hooks and
// debug may be nil; metrics must not be.
func NewHookDispatcher(mode core.RunMode, hooks core.HookHost, metrics core.MetricsRecorder, debug core.DebugTracker, predictions *PredictionStore) *HookDispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &HookDispatcher{
		hooks:       hooks,
		metrics:     metrics,
		debug:       debug,
		predictions: predictions,
		binding: binding{
			mode:       mode,
			batchStart: mode.BatchStartHook(),
			batchEnd:   mode.BatchEndHook(),
			stepEnd:    mode.StepEndHook(),
		},
	}
}

// BeforeBatch announces the batch to the metrics recorder and calls the
// mode's batch-start hook.
func (d *HookDispatcher) BeforeBatch(ctx context.Context, batch core.Batch, src core.SourceDescriptor) error {
	d.metrics.OnEvaluationBatchStart(batch.Payload, src.Index, src.Count)
	if d.hooks == nil {
		return nil
	}
	_, err := d.hooks.CallHook(ctx, d.binding.batchStart, core.HookCall{
		Batch:       batch.Payload,
		BatchIndex:  batch.Index,
		SourceIndex: src.Index,
	})
	return err
}

// StepEnd calls the mode's step-end transform. Without a hook host the output
// is returned unchanged.
func (d *HookDispatcher) StepEnd(ctx context.Context, output *core.StepOutput, batch core.Batch, src core.SourceDescriptor) (*core.StepOutput, error) {
	if d.hooks == nil {
		return output, nil
	}
	return d.hooks.CallHook(ctx, d.binding.stepEnd, core.HookCall{
		Batch:       batch.Payload,
		BatchIndex:  batch.Index,
		SourceIndex: src.Index,
		Output:      output,
	})
}

// AfterBatch calls the batch-end hook, stores predictions, forwards the output
// to the debug tracker and flushes step metrics.
func (d *HookDispatcher) AfterBatch(ctx context.Context, output *core.StepOutput, batch core.Batch, src core.SourceDescriptor) error {
	if d.hooks != nil {
		if _, err := d.hooks.CallHook(ctx, d.binding.batchEnd, core.HookCall{
			Batch:       batch.Payload,
			BatchIndex:  batch.Index,
			SourceIndex: src.Index,
			Output:      output,
		}); err != nil {
			return err
		}
	}

	if d.predictions != nil {
		d.predictions.Store(output)
	}
	if d.debug != nil {
		d.debug.TrackEvalLossHistory(batch.Index, src.Index, output)
	}

	d.metrics.LogEvaluationStepMetrics(src.Index)
	return nil
}

type noopMetrics struct{}

func (noopMetrics) OnEvaluationBatchStart(any, int, int)      {}
func (noopMetrics) CacheLoggedMetrics(int, *core.StepResults) {}
func (noopMetrics) LogEvaluationStepMetrics(int)              {}

type noopProfiler struct{}

func (noopProfiler) Profile(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}
