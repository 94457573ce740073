package loop

import (
	"context"

	"github.com/hupe1980/evalmesh/core"
)

// Profiler scope names opened around each step.
const (
	ScopeStepAndEnd = "evaluation_step_and_end"
	ScopeStep       = "step"
)

// StepInvoker builds step arguments and dispatches to the mode's step
// function, followed by the step-end transform.
type StepInvoker struct {
	adapter    core.ModelAdapter
	metrics    core.MetricsRecorder
	profiler   core.Profiler
	dispatcher *HookDispatcher
	binding    binding
}

// NewStepInvoker creates an invoker bound to the given mode. metrics and
// profiler may be nil.
func NewStepInvoker(mode core.RunMode, adapter core.ModelAdapter, metrics core.MetricsRecorder, profiler core.Profiler, dispatcher *HookDispatcher) *StepInvoker {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if profiler == nil {
		profiler = noopProfiler{}
	}
	return &StepInvoker{
		adapter:    adapter,
		metrics:    metrics,
		profiler:   profiler,
		dispatcher: dispatcher,
		binding:    bind(mode, adapter),
	}
}

// Invoke runs step and step-end for one batch. The returned output may be nil.
func (s *StepInvoker) Invoke(ctx context.Context, batch core.Batch, src core.SourceDescriptor) (*core.StepOutput, error) {
	ctx, end := s.profiler.Profile(ctx, ScopeStepAndEnd)
	defer end()

	output, err := s.step(ctx, core.NewStepArgs(batch, src), src.Index)
	if err != nil {
		return nil, err
	}
	if s.dispatcher == nil {
		return output, nil
	}
	return s.dispatcher.StepEnd(ctx, output, batch, src)
}

func (s *StepInvoker) step(ctx context.Context, args core.StepArgs, sourceIndex int) (*core.StepOutput, error) {
	results := s.adapter.Results()
	if results != nil {
		results.Reset()
	}

	stepCtx, end := s.profiler.Profile(ctx, ScopeStep)
	output, err := s.binding.step(stepCtx, args)
	end()
	if err != nil {
		return nil, err
	}

	s.metrics.CacheLoggedMetrics(sourceIndex, results)

	if output != nil {
		if n := output.TrackBatchSize(args.Batch); n > 0 {
			if r, ok := s.metrics.(core.BatchSizeRecorder); ok {
				r.RecordBatchSize(sourceIndex, n)
			}
		}
	}
	return output, nil
}
