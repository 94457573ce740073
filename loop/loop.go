package loop

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
)

// Options holds the collaborators of an EvaluationLoop. Only Adapter is
// required; every other collaborator falls back to a no-op.
type Options struct {
	// Adapter performs the validation / test steps.
	Adapter core.ModelAdapter

	// Hooks dispatches the lifecycle hooks. Nil means no hooks and an
	// identity step-end transform.
	Hooks core.HookHost

	// Metrics receives metric lifecycle notifications.
	Metrics core.MetricsRecorder

	// Profiler opens the named step scopes.
	Profiler core.Profiler

	// Debug is an optional side channel observing every output.
	Debug core.DebugTracker

	// NilBatchPolicy decides whether a nil batch ends the run (default) or is skipped.
	NilBatchPolicy NilBatchPolicy

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// RunConfig describes a single run over one source.
type RunConfig struct {
	Source     core.DataSource
	MaxBatches int
	Descriptor core.SourceDescriptor
	Mode       core.RunMode
	Rank       int
	WorldSize  int
}

func (c RunConfig) withDefaults() RunConfig {
	if c.Descriptor.Count == 0 {
		c.Descriptor.Count = 1
	}
	if c.WorldSize == 0 {
		c.WorldSize = 1
	}
	return c
}

// Validate checks the run preconditions.
func (c RunConfig) Validate() error {
	switch {
	case c.Source == nil:
		return core.NewConfigurationError("source", "data source is required")
	case c.MaxBatches < 0:
		return core.NewConfigurationError("max_batches", "must be >= 0, got %d", c.MaxBatches)
	case c.Descriptor.Count < 1:
		return core.NewConfigurationError("num_sources", "must be >= 1, got %d", c.Descriptor.Count)
	case c.Descriptor.Index < 0 || c.Descriptor.Index >= c.Descriptor.Count:
		return core.NewConfigurationError("source_index", "%d out of range [0, %d)", c.Descriptor.Index, c.Descriptor.Count)
	case c.Mode != core.ModeValidation && c.Mode != core.ModeTest:
		return core.NewConfigurationError("mode", "unknown run mode %d", int(c.Mode))
	case c.WorldSize < 1:
		return core.NewConfigurationError("world_size", "must be >= 1, got %d", c.WorldSize)
	case c.Rank < 0 || c.Rank >= c.WorldSize:
		return core.NewConfigurationError("rank", "%d out of range [0, %d)", c.Rank, c.WorldSize)
	}
	return nil
}

// EvaluationLoop composes the loop components into one run. It is not safe
// for concurrent use; a host abandoning a run may simply stop calling Advance
// and Reset later.
type EvaluationLoop[A any] struct {
	opts Options

	state       LoopState
	phase       State
	mode        core.RunMode
	src         core.SourceDescriptor
	runID       string
	startedAt   time.Time
	cursor      *Cursor
	invoker     *StepInvoker
	dispatcher  *HookDispatcher
	aggregator  *OutputAggregator[A]
	predictions *PredictionStore
}

// New creates an evaluation loop folding outputs with reducer.
func New[A any](reducer Reducer[A], optFns ...func(o *Options)) *EvaluationLoop[A] {
	opts := Options{
		NilBatchPolicy: NilBatchStop,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Profiler == nil {
		opts.Profiler = noopProfiler{}
	}

	return &EvaluationLoop[A]{
		opts:        opts,
		phase:       StateIdle,
		aggregator:  NewOutputAggregator(reducer),
		predictions: NewPredictionStore(),
	}
}

// NewDefault creates a loop that collects non-nil outputs in batch order.
func NewDefault(optFns ...func(o *Options)) *EvaluationLoop[[]*core.StepOutput] {
	return New(AppendOutputs(), optFns...)
}

// Reset prepares a fresh run: counters, cursor, mode bindings, accumulator and
// prediction collection are all replaced. It is always safe to call.
func (l *EvaluationLoop[A]) Reset(cfg RunConfig) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if l.opts.Adapter == nil {
		return core.NewConfigurationError("adapter", "model adapter is required")
	}

	l.runID = uuid.NewString()
	l.mode = cfg.Mode
	l.src = cfg.Descriptor
	l.state.Reset(cfg.MaxBatches)
	l.phase = StateIdle
	l.cursor = NewCursor(cfg.Source, l.opts.NilBatchPolicy)
	l.aggregator.Reset()
	l.predictions.Reset(l.runID, cfg.Rank, cfg.WorldSize, cfg.Mode)
	l.dispatcher = NewHookDispatcher(cfg.Mode, l.opts.Hooks, l.opts.Metrics, l.opts.Debug, l.predictions)
	l.invoker = NewStepInvoker(cfg.Mode, l.opts.Adapter, l.opts.Metrics, l.opts.Profiler, l.dispatcher)

	l.opts.Logger.Debug("eval.run.reset",
		"run_id", l.runID,
		"mode", cfg.Mode.String(),
		"max_batches", cfg.MaxBatches,
		"dataloader_idx", cfg.Descriptor.Index,
		"num_dataloaders", cfg.Descriptor.Count,
		"rank", cfg.Rank,
		"world_size", cfg.WorldSize,
	)
	return nil
}

// Advance processes at most one batch. It returns nil without side effects
// once the run is done. Errors from the source, adapter or hooks are returned
// unmodified and leave the outputs collected so far accessible.
func (l *EvaluationLoop[A]) Advance(ctx context.Context) error {
	if !l.state.Configured() || l.cursor == nil {
		return core.NewConfigurationError("max_batches", "advance called before reset")
	}
	if l.phase == StateDone {
		return nil
	}
	if l.phase == StateIdle {
		l.phase = StateRunning
		l.startedAt = time.Now()
		l.opts.Logger.Info("eval.run.start", "run_id", l.runID, "mode", l.mode.String(), "dataloader_idx", l.src.Index)
	}
	if l.state.Done() {
		l.finish("max_batches")
		return nil
	}

	batch, ok, err := l.cursor.Next(ctx)
	if err != nil {
		l.logFailure(err)
		return err
	}
	if !ok {
		if l.cursor.StoppedOnNil() {
			l.finish("nil_batch")
		} else {
			l.finish("exhausted")
		}
		return nil
	}

	start := time.Now()
	if err := l.process(ctx, batch); err != nil {
		l.logStep(batch.Index, time.Since(start), err)
		l.logFailure(err)
		return err
	}

	l.state.Completed(batch.Index)
	l.logStep(batch.Index, time.Since(start), nil)

	if l.state.Done() {
		l.finish("max_batches")
	}
	return nil
}

func (l *EvaluationLoop[A]) process(ctx context.Context, batch core.Batch) error {
	if err := l.dispatcher.BeforeBatch(ctx, batch, l.src); err != nil {
		return err
	}

	output, err := l.invoker.Invoke(ctx, batch, l.src)
	if err != nil {
		return err
	}

	if err := l.dispatcher.AfterBatch(ctx, output, batch, l.src); err != nil {
		return err
	}

	l.aggregator.Fold(output)
	return nil
}

func (l *EvaluationLoop[A]) finish(reason string) {
	l.phase = StateDone
	l.opts.Logger.Info("eval.run.done",
		"run_id", l.runID,
		"reason", reason,
		"batches", l.state.IterationCount(),
		"predictions", l.predictions.Collection().Len(),
		"duration", time.Since(l.startedAt),
	)
}

// logStep prefers the logger's dedicated step record when it has one.
func (l *EvaluationLoop[A]) logStep(batchIndex int, dur time.Duration, err error) {
	if sl, ok := l.opts.Logger.(logging.StepLogger); ok {
		sl.LogStep(batchIndex, l.src.Index, dur, err)
		return
	}
	if err != nil {
		l.opts.Logger.Error("eval.batch.failed", "run_id", l.runID, "batch_idx", batchIndex, "error", err)
		return
	}
	l.opts.Logger.Debug("eval.batch.done",
		"run_id", l.runID,
		"batch_idx", batchIndex,
		"dataloader_idx", l.src.Index,
		"duration", dur,
	)
}

func (l *EvaluationLoop[A]) logFailure(err error) {
	l.opts.Logger.Error("eval.run.failed",
		"run_id", l.runID,
		"batches", l.state.IterationCount(),
		"error", err,
	)
}

// Run resets the loop and advances it until done, returning the aggregated
// outputs. Context cancellation is checked between batches; on error the
// outputs collected so far are returned alongside it. A source implementing
// core.StoppableSource is stopped when Run returns.
func (l *EvaluationLoop[A]) Run(ctx context.Context, cfg RunConfig) (A, error) {
	if err := l.Reset(cfg); err != nil {
		var zero A
		return zero, err
	}
	if s, ok := cfg.Source.(core.StoppableSource); ok {
		defer s.Stop()
	}
	for !l.Done() {
		if err := ctx.Err(); err != nil {
			return l.aggregator.Outputs(), err
		}
		if err := l.Advance(ctx); err != nil {
			return l.aggregator.Outputs(), err
		}
	}
	return l.aggregator.Outputs(), nil
}

// Done reports whether the run has terminated.
func (l *EvaluationLoop[A]) Done() bool { return l.phase == StateDone || l.state.Done() }

// State returns the current run phase.
func (l *EvaluationLoop[A]) State() State { return l.phase }

// Mode returns the mode resolved at the last Reset.
func (l *EvaluationLoop[A]) Mode() core.RunMode { return l.mode }

// RunID returns the identifier assigned at the last Reset.
func (l *EvaluationLoop[A]) RunID() string { return l.runID }

// IterationCount returns the number of completed batches in this run.
func (l *EvaluationLoop[A]) IterationCount() int { return l.state.IterationCount() }

// BatchIndex returns the index of the last completed batch, if any.
func (l *EvaluationLoop[A]) BatchIndex() (int, bool) { return l.state.BatchIndex() }

// Outputs returns the accumulator of the current run.
func (l *EvaluationLoop[A]) Outputs() A { return l.aggregator.Outputs() }

// Predictions returns the prediction collection of the current run.
func (l *EvaluationLoop[A]) Predictions() *PredictionCollection {
	return l.predictions.Collection()
}
