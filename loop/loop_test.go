package loop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hupe1980/evalmesh/artifact"
	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/hook"
	"github.com/hupe1980/evalmesh/internal/testutil"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/metrics"
	"github.com/hupe1980/evalmesh/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoStep returns an output carrying the batch payload as its only prediction.
func echoStep(_ core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
	return testutil.NewOutputBuilder().Value("batch", args.Batch).Predictions(args.Batch).Build(), nil
}

func newLoop(adapter core.ModelAdapter, optFns ...func(o *Options)) *EvaluationLoop[[]*core.StepOutput] {
	fns := append([]func(o *Options){func(o *Options) { o.Adapter = adapter }}, optFns...)
	return NewDefault(fns...)
}

func TestEvaluationLoop_DoneAfterMaxBatches(t *testing.T) {
	adapter := testutil.NewScriptedAdapter(nil, echoStep)
	l := newLoop(adapter)

	require.NoError(t, l.Reset(RunConfig{Source: source.NewSlice(1, 2, 3, 4, 5), MaxBatches: 3, Mode: core.ModeValidation}))
	assert.Equal(t, StateIdle, l.State())
	assert.False(t, l.Done())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Advance(ctx))
	}
	assert.True(t, l.Done())
	assert.Equal(t, StateDone, l.State())
	assert.Equal(t, 3, l.IterationCount())
	idx, ok := l.BatchIndex()
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	require.NoError(t, l.Advance(ctx))
	assert.Equal(t, 3, adapter.StepCount(), "advance after done must not call the adapter")
	assert.Len(t, l.Outputs(), 3)
}

func TestEvaluationLoop_ZeroMaxBatches(t *testing.T) {
	adapter := testutil.NewScriptedAdapter(nil, echoStep)
	l := newLoop(adapter)

	outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice(1), MaxBatches: 0})
	require.NoError(t, err)
	assert.Empty(t, outputs)
	assert.True(t, l.Done())
	assert.Zero(t, adapter.StepCount())
}

func TestEvaluationLoop_ExhaustionBeforeLimit(t *testing.T) {
	adapter := testutil.NewScriptedAdapter(nil, echoStep)
	l := newLoop(adapter)

	outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice("a", "b"), MaxBatches: 10, Mode: core.ModeTest})
	require.NoError(t, err)
	assert.Len(t, outputs, 2)
	assert.True(t, l.Done())
	assert.Equal(t, 2, l.IterationCount())
	assert.Equal(t, []any{"a", "b"}, l.Predictions().Items())
}

func TestEvaluationLoop_SourceIndexPresence(t *testing.T) {
	for _, mode := range []core.RunMode{core.ModeValidation, core.ModeTest} {
		t.Run(mode.String()+"/single", func(t *testing.T) {
			adapter := testutil.NewScriptedAdapter(nil, echoStep)
			_, err := newLoop(adapter).Run(context.Background(), RunConfig{Source: source.NewSlice(1, 2), MaxBatches: 2, Mode: mode})
			require.NoError(t, err)

			require.Len(t, adapter.Args, 2)
			for i, args := range adapter.Args {
				_, ok := args.Source()
				assert.False(t, ok)
				assert.Equal(t, []string{core.ArgBatch, core.ArgBatchIndex}, args.Keys())
				assert.Equal(t, i, args.BatchIndex)
				assert.Equal(t, mode, adapter.Modes[i])
			}
		})

		t.Run(mode.String()+"/multi", func(t *testing.T) {
			adapter := testutil.NewScriptedAdapter(nil, echoStep)
			_, err := newLoop(adapter).Run(context.Background(), RunConfig{
				Source:     source.NewSlice(1, 2),
				MaxBatches: 2,
				Mode:       mode,
				Descriptor: core.SourceDescriptor{Index: 1, Count: 2},
			})
			require.NoError(t, err)

			for _, args := range adapter.Args {
				idx, ok := args.Source()
				assert.True(t, ok)
				assert.Equal(t, 1, idx)
				assert.Equal(t, []string{core.ArgBatch, core.ArgBatchIndex, core.ArgSourceIndex}, args.Keys())
			}
		})
	}
}

func TestEvaluationLoop_PredictionsOnlyInTestMode(t *testing.T) {
	step := func(_ core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
		n := args.Batch.(int)
		return testutil.NewOutputBuilder().Predictions(n*10, n*10+1).Build(), nil
	}

	l := newLoop(testutil.NewScriptedAdapter(nil, step))
	outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice(1, 2), MaxBatches: 2, Mode: core.ModeTest})
	require.NoError(t, err)
	assert.Equal(t, []any{10, 11, 20, 21}, l.Predictions().Items())
	for _, out := range outputs {
		assert.False(t, out.HasPredictions(), "predictions are moved out of the output")
	}

	outputs, err = l.Run(context.Background(), RunConfig{Source: source.NewSlice(1, 2), MaxBatches: 2, Mode: core.ModeValidation})
	require.NoError(t, err)
	assert.Zero(t, l.Predictions().Len())
	assert.True(t, outputs[0].HasPredictions(), "validation keeps predictions on the output")
}

func TestEvaluationLoop_HookOrder(t *testing.T) {
	log := &testutil.CallLog{}
	adapter := testutil.NewScriptedAdapter(log, echoStep)
	hooks := testutil.NewRecordingHooks(log)

	var l *EvaluationLoop[[]*core.StepOutput]
	stored := 0
	debug := &testutil.RecordingDebug{OnTrack: func(int, int, *core.StepOutput) {
		if n := l.Predictions().Len(); n > stored {
			stored = n
			log.Record("storePredictions")
		}
	}}

	l = newLoop(adapter, func(o *Options) {
		o.Hooks = hooks
		o.Debug = debug
	})

	_, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice("x"), MaxBatches: 1, Mode: core.ModeTest})
	require.NoError(t, err)

	assert.Equal(t, []string{
		testutil.CallBatchStart,
		testutil.CallStep,
		testutil.CallStepEnd,
		testutil.CallBatchEnd,
		"storePredictions",
	}, log.Calls())
	assert.Equal(t, []core.HookName{
		core.HookOnTestBatchStart,
		core.HookTestStepEnd,
		core.HookOnTestBatchEnd,
	}, hooks.HookNames())
}

func TestEvaluationLoop_ValidationHookNames(t *testing.T) {
	hooks := testutil.NewRecordingHooks(&testutil.CallLog{})
	l := newLoop(testutil.NewScriptedAdapter(nil, echoStep), func(o *Options) { o.Hooks = hooks })

	_, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice("x"), MaxBatches: 1, Mode: core.ModeValidation})
	require.NoError(t, err)
	assert.Equal(t, []core.HookName{
		core.HookOnValidationBatchStart,
		core.HookValidationStepEnd,
		core.HookOnValidationBatchEnd,
	}, hooks.HookNames())
}

func TestEvaluationLoop_ThreeBatchTestRun(t *testing.T) {
	log := &testutil.CallLog{}
	hooks := testutil.NewRecordingHooks(log)
	metrics := &testutil.RecordingMetrics{}
	adapter := testutil.NewScriptedAdapter(log, func(_ core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
		return testutil.NewOutputBuilder().Loss(float64(args.BatchIndex)).Predictions(args.Batch).Build(), nil
	})

	l := newLoop(adapter, func(o *Options) {
		o.Hooks = hooks
		o.Metrics = metrics
	})

	outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice("b0", "b1", "b2"), MaxBatches: 3, Mode: core.ModeTest})
	require.NoError(t, err)

	require.Len(t, outputs, 3)
	for i, out := range outputs {
		loss, ok := out.Float("loss")
		assert.True(t, ok)
		assert.Equal(t, float64(i), loss)
	}
	assert.Equal(t, []any{"b0", "b1", "b2"}, l.Predictions().Items())
	assert.Len(t, log.Calls(), 12)
	assert.Equal(t, 3, metrics.Flushes)
	assert.Equal(t, [][2]int{{0, 1}, {0, 1}, {0, 1}}, metrics.Starts)
	assert.Equal(t, []any{"b0", "b1", "b2"}, metrics.SeenBatches)

	for i, call := range hooks.Calls {
		assert.Equal(t, i/3, call.BatchIndex)
	}
}

func TestEvaluationLoop_ResetRestoresInitialState(t *testing.T) {
	adapter := testutil.NewScriptedAdapter(nil, echoStep)
	l := newLoop(adapter)
	cfg := RunConfig{Source: source.NewSlice(1, 2), MaxBatches: 2, Mode: core.ModeTest}

	require.NoError(t, l.Reset(cfg))
	firstRun := l.RunID()
	assert.NotEmpty(t, firstRun)

	_, err := l.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.True(t, l.Done())

	require.NoError(t, l.Reset(RunConfig{Source: source.NewSlice(3), MaxBatches: 2, Mode: core.ModeTest}))
	assert.Equal(t, StateIdle, l.State())
	assert.False(t, l.Done())
	assert.Zero(t, l.IterationCount())
	_, ok := l.BatchIndex()
	assert.False(t, ok)
	assert.Empty(t, l.Outputs())
	assert.Zero(t, l.Predictions().Len())
	assert.NotEqual(t, firstRun, l.RunID())
}

func TestEvaluationLoop_AdvanceBeforeReset(t *testing.T) {
	l := newLoop(testutil.NewScriptedAdapter(nil, echoStep))
	err := l.Advance(context.Background())
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestEvaluationLoop_ResetValidation(t *testing.T) {
	tests := []struct {
		name  string
		cfg   RunConfig
		field string
	}{
		{"missing source", RunConfig{MaxBatches: 1}, "source"},
		{"negative max", RunConfig{Source: source.NewSlice(), MaxBatches: -1}, "max_batches"},
		{"source index", RunConfig{Source: source.NewSlice(), Descriptor: core.SourceDescriptor{Index: 2, Count: 2}}, "source_index"},
		{"mode", RunConfig{Source: source.NewSlice(), Mode: core.RunMode(9)}, "mode"},
		{"rank", RunConfig{Source: source.NewSlice(), Rank: 1, WorldSize: 1}, "rank"},
	}

	l := newLoop(testutil.NewScriptedAdapter(nil, echoStep))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Reset(tt.cfg)
			var cfgErr *core.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	err := NewDefault().Reset(RunConfig{Source: source.NewSlice()})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestEvaluationLoop_NilBatch(t *testing.T) {
	t.Run("stop", func(t *testing.T) {
		adapter := testutil.NewScriptedAdapter(nil, echoStep)
		l := newLoop(adapter)
		outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice(1, nil, 3), MaxBatches: 5})
		require.NoError(t, err)
		assert.Len(t, outputs, 1)
		assert.Equal(t, 1, adapter.StepCount())
		assert.True(t, l.Done())
	})

	t.Run("skip", func(t *testing.T) {
		adapter := testutil.NewScriptedAdapter(nil, echoStep)
		l := newLoop(adapter, func(o *Options) { o.NilBatchPolicy = NilBatchSkip })
		outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice(1, nil, 3), MaxBatches: 5})
		require.NoError(t, err)
		assert.Len(t, outputs, 2)
		require.Len(t, adapter.Args, 2)
		assert.Equal(t, 2, adapter.Args[1].BatchIndex, "skipped batch still consumes its index")
	})
}

func TestEvaluationLoop_ErrorsPropagateUnmodified(t *testing.T) {
	boom := errors.New("boom")

	t.Run("adapter", func(t *testing.T) {
		calls := 0
		adapter := testutil.NewScriptedAdapter(nil, func(_ core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
			calls++
			if calls == 2 {
				return nil, boom
			}
			return echoStep(core.ModeValidation, args)
		})
		l := newLoop(adapter)
		outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice(1, 2, 3), MaxBatches: 3})
		assert.Same(t, boom, err)
		assert.Len(t, outputs, 1, "outputs collected before the failure stay accessible")
		assert.Equal(t, 1, l.IterationCount())
	})

	t.Run("hook", func(t *testing.T) {
		hooks := testutil.NewRecordingHooks(&testutil.CallLog{})
		hooks.Errors[core.HookOnTestBatchEnd] = boom
		l := newLoop(testutil.NewScriptedAdapter(nil, echoStep), func(o *Options) { o.Hooks = hooks })
		_, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice(1), MaxBatches: 1, Mode: core.ModeTest})
		assert.Same(t, boom, err)
		assert.Zero(t, l.IterationCount())
	})

	t.Run("source", func(t *testing.T) {
		src := source.Func(func(context.Context) (any, bool, error) { return nil, false, boom })
		l := newLoop(testutil.NewScriptedAdapter(nil, echoStep))
		_, err := l.Run(context.Background(), RunConfig{Source: src, MaxBatches: 1})
		assert.Same(t, boom, err)
	})
}

func TestEvaluationLoop_StepEndReplacesOutput(t *testing.T) {
	hooks := testutil.NewRecordingHooks(&testutil.CallLog{})
	hooks.StepEnd = func(call core.HookCall) *core.StepOutput {
		if call.BatchIndex == 1 {
			return nil
		}
		return testutil.NewOutputBuilder().Value("replaced", true).Build()
	}
	l := newLoop(testutil.NewScriptedAdapter(nil, echoStep), func(o *Options) { o.Hooks = hooks })

	outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice(1, 2, 3), MaxBatches: 3})
	require.NoError(t, err)
	require.Len(t, outputs, 2, "a nil replacement is not aggregated")
	for _, out := range outputs {
		v, _ := out.Value("replaced")
		assert.Equal(t, true, v)
	}
	assert.Equal(t, 3, l.IterationCount())
}

func TestEvaluationLoop_MetricsAndBatchSize(t *testing.T) {
	metrics := &testutil.RecordingMetrics{}
	adapter := testutil.NewScriptedAdapter(nil, func(_ core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
		out := testutil.NewOutputBuilder().Loss(0.5)
		if args.BatchIndex == 1 {
			out.BatchSize(7)
		}
		return out.Build(), nil
	})
	adapter.Metrics = map[string]float64{"acc": 1}
	l := newLoop(adapter, func(o *Options) { o.Metrics = metrics })

	outputs, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice([]int{1, 2}, []int{1}), MaxBatches: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 7}, metrics.BatchSizes)
	assert.Equal(t, 2, outputs[0].BatchSize)
	require.Len(t, metrics.Cached, 2)
	assert.Equal(t, map[string]float64{"acc": 1}, metrics.Cached[0])
}

func TestEvaluationLoop_SharedRecorderNestedAdvance(t *testing.T) {
	recorder := metrics.NewRecorder()

	adapterB := testutil.NewScriptedAdapter(nil, echoStep)
	adapterB.Metrics = map[string]float64{"acc": 0}
	b := newLoop(adapterB, func(o *Options) { o.Metrics = recorder })

	hooks := hook.NewRegistry()
	hooks.Register(hook.NewFunctionHook(core.ModeTest.BatchStartHook(), func(ctx context.Context, _ *hook.Context) error {
		return b.Advance(ctx)
	}))
	adapterA := testutil.NewScriptedAdapter(nil, echoStep)
	adapterA.Metrics = map[string]float64{"acc": 1}
	a := newLoop(adapterA, func(o *Options) {
		o.Metrics = recorder
		o.Hooks = hooks
	})

	require.NoError(t, a.Reset(RunConfig{Source: source.NewSlice("a"), MaxBatches: 1, Mode: core.ModeTest, Descriptor: core.SourceDescriptor{Index: 0, Count: 2}}))
	require.NoError(t, b.Reset(RunConfig{Source: source.NewSlice("b"), MaxBatches: 1, Mode: core.ModeTest, Descriptor: core.SourceDescriptor{Index: 1, Count: 2}}))
	require.NoError(t, a.Advance(context.Background()))

	assert.True(t, b.Done())
	assert.Equal(t, map[string]float64{"acc": 1}, recorder.EpochMetrics(0))
	assert.Equal(t, map[string]float64{"acc": 0}, recorder.EpochMetrics(1))
}

func TestEvaluationLoop_RunStopsSeqSource(t *testing.T) {
	returned := false
	src := source.FromSeq(func(yield func(any) bool) {
		defer func() { returned = true }()
		for i := 0; ; i++ {
			if !yield(i) {
				return
			}
		}
	})

	outputs, err := newLoop(testutil.NewScriptedAdapter(nil, echoStep)).Run(context.Background(), RunConfig{Source: src, MaxBatches: 2})
	require.NoError(t, err)
	assert.Len(t, outputs, 2)
	assert.True(t, returned, "iterator goroutine must end when the run does")

	_, ok, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluationLoop_StepLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})
	boom := errors.New("boom")
	adapter := testutil.NewScriptedAdapter(nil, func(mode core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
		if args.BatchIndex == 1 {
			return nil, boom
		}
		return echoStep(mode, args)
	})
	l := newLoop(adapter, func(o *Options) { o.Logger = logger })

	_, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice("a", "b"), MaxBatches: 2, Descriptor: core.SourceDescriptor{Index: 1, Count: 2}})
	require.ErrorIs(t, err, boom)

	var steps []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if _, ok := rec["batch_idx"]; ok {
			steps = append(steps, rec)
		}
	}
	require.Len(t, steps, 2)
	assert.Equal(t, "Evaluation step completed", steps[0]["msg"])
	assert.Equal(t, float64(1), steps[0]["dataloader_idx"])
	assert.Equal(t, "Evaluation step failed", steps[1]["msg"])
	assert.Equal(t, float64(1), steps[1]["batch_idx"])
	assert.Equal(t, "boom", steps[1]["error"])
}

func TestEvaluationLoop_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	adapter := testutil.NewScriptedAdapter(nil, func(_ core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
		cancel()
		return echoStep(core.ModeValidation, args)
	})
	l := newLoop(adapter)

	outputs, err := l.Run(ctx, RunConfig{Source: source.NewSlice(1, 2, 3), MaxBatches: 3})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, outputs, 1)
}

func TestEvaluationLoop_CustomReducer(t *testing.T) {
	sum := Reducer[float64]{
		Init: func() float64 { return 0 },
		Reduce: func(acc float64, out *core.StepOutput) float64 {
			v, _ := out.Float("loss")
			return acc + v
		},
	}
	adapter := testutil.NewScriptedAdapter(nil, func(_ core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
		return testutil.NewOutputBuilder().Loss(float64(args.Batch.(int))).Build(), nil
	})
	l := New(sum, func(o *Options) { o.Adapter = adapter })

	total, err := l.Run(context.Background(), RunConfig{Source: source.NewSlice(1, 2, 3), MaxBatches: 3})
	require.NoError(t, err)
	assert.Equal(t, 6.0, total)
}

func TestEvaluationLoop_SaveAndMergePredictions(t *testing.T) {
	store := artifact.NewInMemoryStore()

	for rank, batches := range [][]any{{"r0a", "r0b"}, {"r1a"}} {
		l := newLoop(testutil.NewScriptedAdapter(nil, echoStep))
		_, err := l.Run(context.Background(), RunConfig{
			Source:     source.NewSlice(batches...),
			MaxBatches: 10,
			Mode:       core.ModeTest,
			Rank:       1 - rank,
			WorldSize:  2,
		})
		require.NoError(t, err)
		assert.Equal(t, 1-rank, l.Predictions().Rank())
		assert.Equal(t, 2, l.Predictions().WorldSize())
		require.NoError(t, l.Predictions().Save(store, "eval"))
	}

	merged, err := LoadPredictions(store, "eval")
	require.NoError(t, err)
	assert.Equal(t, []any{"r1a", "r0a", "r0b"}, merged)
}

func TestLoadPredictions_DecodesGenericJSON(t *testing.T) {
	type answer struct {
		ID    string `json:"id"`
		Score int    `json:"score"`
	}
	store := artifact.NewInMemoryStore()
	c := NewPredictionCollection("run", 0, 1)
	c.Add([]any{7, "text", answer{ID: "q1", Score: 2}, []int{1, 2}})
	require.NoError(t, c.Save(store, "eval"))

	loaded, err := LoadPredictions(store, "eval")
	require.NoError(t, err)
	assert.Equal(t, []any{
		float64(7),
		"text",
		map[string]any{"id": "q1", "score": float64(2)},
		[]any{float64(1), float64(2)},
	}, loaded)
}
