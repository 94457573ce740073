// Package evalmesh provides a high-level façade over the evaluation loop:
// it runs a model adapter over one or more data sources in validation or test
// mode, wires the metric, profiling, hook and debug collaborators into every
// run and persists test-mode predictions through an artifact store.
//
// Most applications:
//  1. Create an Evaluator via New() with a core.ModelAdapter
//  2. Call Validate or Test with one data source per dataloader
//  3. Inspect the per-source outputs and predictions of the Result
//
// All collaborators default to no-ops or in-memory implementations.
package evalmesh

import (
	"context"
	"fmt"
	"math"

	"github.com/hupe1980/evalmesh/artifact"
	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/loop"
)

// Unlimited runs every source to exhaustion.
const Unlimited = -1

// Options configures the Evaluator.
type Options struct {
	// Adapter performs the steps. Required.
	Adapter core.ModelAdapter

	// Optional collaborators forwarded to every loop run.
	Hooks    core.HookHost
	Metrics  core.MetricsRecorder
	Profiler core.Profiler
	Debug    core.DebugTracker

	// ArtifactStore receives test-mode predictions (defaults to in-memory).
	ArtifactStore core.ArtifactStore
	// Namespace prefixes the per-source artifact namespaces.
	Namespace string

	// MaxBatches limits the batches per source; Unlimited (the default) runs
	// each source to exhaustion.
	MaxBatches int

	NilBatchPolicy loop.NilBatchPolicy

	// Rank and WorldSize tag the saved predictions of this process.
	Rank      int
	WorldSize int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// SourceResult is the outcome of one source.
type SourceResult struct {
	SourceIndex int
	RunID       string
	Batches     int
	Outputs     []*core.StepOutput
	Predictions *loop.PredictionCollection
	// Namespace is where the predictions were saved; empty in validation mode.
	Namespace string
}

// Result collects the per-source outcomes of one evaluation.
type Result struct {
	Mode    core.RunMode
	Sources []SourceResult
}

// Outputs returns all outputs in source order.
func (r *Result) Outputs() []*core.StepOutput {
	var out []*core.StepOutput
	for _, s := range r.Sources {
		out = append(out, s.Outputs...)
	}
	return out
}

// Predictions returns all predictions in source order.
func (r *Result) Predictions() []any {
	var out []any
	for _, s := range r.Sources {
		if s.Predictions != nil {
			out = append(out, s.Predictions.Items()...)
		}
	}
	return out
}

// Evaluator runs the evaluation loop over a set of sources.
type Evaluator struct {
	opts Options
	loop *loop.EvaluationLoop[[]*core.StepOutput]
}

// New creates an Evaluator. Unset collaborators fall back to defaults.
func New(optFns ...func(o *Options)) *Evaluator {
	opts := Options{
		ArtifactStore: artifact.NewInMemoryStore(),
		Namespace:     "eval",
		MaxBatches:    Unlimited,
		WorldSize:     1,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	l := loop.NewDefault(func(o *loop.Options) {
		o.Adapter = opts.Adapter
		o.Hooks = opts.Hooks
		o.Metrics = opts.Metrics
		o.Profiler = opts.Profiler
		o.Debug = opts.Debug
		o.NilBatchPolicy = opts.NilBatchPolicy
		o.Logger = opts.Logger
	})

	return &Evaluator{opts: opts, loop: l}
}

// Validate runs validation mode over the sources.
func (e *Evaluator) Validate(ctx context.Context, sources ...core.DataSource) (*Result, error) {
	return e.Run(ctx, core.ModeValidation, sources...)
}

// Test runs test mode over the sources and persists their predictions.
func (e *Evaluator) Test(ctx context.Context, sources ...core.DataSource) (*Result, error) {
	return e.Run(ctx, core.ModeTest, sources...)
}

// Run evaluates each source in order with one loop run per source. On error
// the results of the sources completed so far, including the partial outputs
// of the failing source, are returned alongside the wrapped error.
func (e *Evaluator) Run(ctx context.Context, mode core.RunMode, sources ...core.DataSource) (*Result, error) {
	if len(sources) == 0 {
		return nil, core.NewConfigurationError("sources", "at least one data source is required")
	}

	maxBatches := e.opts.MaxBatches
	if maxBatches < 0 {
		maxBatches = math.MaxInt
	}

	res := &Result{Mode: mode}
	for i, src := range sources {
		outputs, err := e.loop.Run(ctx, loop.RunConfig{
			Source:     src,
			MaxBatches: maxBatches,
			Descriptor: core.SourceDescriptor{Index: i, Count: len(sources)},
			Mode:       mode,
			Rank:       e.opts.Rank,
			WorldSize:  e.opts.WorldSize,
		})

		sr := SourceResult{
			SourceIndex: i,
			RunID:       e.loop.RunID(),
			Batches:     e.loop.IterationCount(),
			Outputs:     outputs,
			Predictions: e.loop.Predictions(),
		}
		if err != nil {
			res.Sources = append(res.Sources, sr)
			return res, fmt.Errorf("source %d: %w", i, err)
		}

		if mode == core.ModeTest && e.opts.ArtifactStore != nil {
			sr.Namespace = e.namespace(i, len(sources))
			if err := sr.Predictions.Save(e.opts.ArtifactStore, sr.Namespace); err != nil {
				res.Sources = append(res.Sources, sr)
				return res, fmt.Errorf("source %d: %w", i, err)
			}
		}

		e.opts.Logger.Info("eval.source.done",
			"mode", mode.String(),
			"dataloader_idx", i,
			"run_id", sr.RunID,
			"batches", sr.Batches,
			"predictions", sr.Predictions.Len(),
		)
		res.Sources = append(res.Sources, sr)
	}
	return res, nil
}

func (e *Evaluator) namespace(index, count int) string {
	if count == 1 {
		return e.opts.Namespace
	}
	return fmt.Sprintf("%s-%s-%d", e.opts.Namespace, core.ArgSourceIndex, index)
}

// LoadPredictions merges the predictions saved by every rank for one source.
func (e *Evaluator) LoadPredictions(sourceIndex, numSources int) ([]any, error) {
	if e.opts.ArtifactStore == nil {
		return nil, core.NewConfigurationError("artifact_store", "no artifact store configured")
	}
	return loop.LoadPredictions(e.opts.ArtifactStore, e.namespace(sourceIndex, numSources))
}
