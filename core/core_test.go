package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sizedPayload []int

func (s sizedPayload) Len() int { return len(s) }

func TestNewStepArgs_SourceIndexPresence(t *testing.T) {
	b := Batch{Index: 4, Payload: "x"}

	single := NewStepArgs(b, SourceDescriptor{Index: 0, Count: 1})
	assert.Equal(t, []string{ArgBatch, ArgBatchIndex}, single.Keys())
	_, ok := single.Source()
	assert.False(t, ok)
	_, ok = single.Get(ArgSourceIndex)
	assert.False(t, ok)

	multi := NewStepArgs(b, SourceDescriptor{Index: 2, Count: 3})
	assert.Equal(t, []string{ArgBatch, ArgBatchIndex, ArgSourceIndex}, multi.Keys())
	idx, ok := multi.Source()
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	v, ok := multi.Get(ArgBatchIndex)
	require.True(t, ok)
	assert.Equal(t, 4, v)
	v, ok = multi.Get(ArgBatch)
	require.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = multi.Get("unknown")
	assert.False(t, ok)
}

func TestStepArgs_SourceIndexIsCopied(t *testing.T) {
	desc := SourceDescriptor{Index: 1, Count: 2}
	args := NewStepArgs(Batch{}, desc)
	desc.Index = 0
	idx, _ := args.Source()
	assert.Equal(t, 1, idx)
}

func TestStepOutput_PopPredictions(t *testing.T) {
	out := &StepOutput{Predictions: []any{"a", "b"}}
	assert.True(t, out.HasPredictions())
	assert.Equal(t, []any{"a", "b"}, out.PopPredictions())
	assert.False(t, out.HasPredictions())
	assert.Nil(t, out.PopPredictions())

	plain := NewStepOutput(nil)
	assert.Equal(t, 2, plain.TrackBatchSize([]string{"a", "b"}))

	var nilOut *StepOutput
	assert.Nil(t, nilOut.PopPredictions())
	assert.False(t, nilOut.HasPredictions())
}

func TestStepOutput_TrackBatchSize(t *testing.T) {
	out := NewStepOutput(nil)
	assert.Equal(t, 3, out.TrackBatchSize(sizedPayload{1, 2, 3}))

	declared := &StepOutput{BatchSize: 8}
	assert.Equal(t, 8, declared.TrackBatchSize(sizedPayload{1}))

	unsized := NewStepOutput(nil)
	assert.Equal(t, 0, unsized.TrackBatchSize("not sized"))

	plain := NewStepOutput(nil)
	assert.Equal(t, 2, plain.TrackBatchSize([]string{"a", "b"}))

	var nilOut *StepOutput
	assert.Equal(t, 0, nilOut.TrackBatchSize(sizedPayload{1}))
}

func TestStepOutput_Float(t *testing.T) {
	out := NewStepOutput(map[string]any{"loss": 0.5, "n": 3, "label": "x"})
	f, ok := out.Float("loss")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)
	f, ok = out.Float("n")
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)
	_, ok = out.Float("label")
	assert.False(t, ok)
	_, ok = out.Float("missing")
	assert.False(t, ok)
}

func TestStepResults_LogResetOrder(t *testing.T) {
	r := NewStepResults()
	r.Log("acc", 0.9)
	r.Log("loss", 0.1)
	r.Log("acc", 0.95)

	assert.Equal(t, []string{"acc", "loss"}, r.Names())
	assert.Equal(t, map[string]float64{"acc": 0.95, "loss": 0.1}, r.Metrics())
	assert.Equal(t, 2, r.Len())

	m := r.Metrics()
	m["acc"] = 0
	assert.Equal(t, 0.95, r.Metrics()["acc"], "Metrics must return a copy")

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Names())
}

func TestParseRunMode(t *testing.T) {
	m, err := ParseRunMode("test")
	require.NoError(t, err)
	assert.Equal(t, ModeTest, m)

	m, err = ParseRunMode("val")
	require.NoError(t, err)
	assert.Equal(t, ModeValidation, m)

	_, err = ParseRunMode("train")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestRunMode_HookNames(t *testing.T) {
	assert.Equal(t, HookOnTestBatchStart, ModeTest.BatchStartHook())
	assert.Equal(t, HookOnTestBatchEnd, ModeTest.BatchEndHook())
	assert.Equal(t, HookTestStepEnd, ModeTest.StepEndHook())
	assert.Equal(t, HookOnValidationBatchStart, ModeValidation.BatchStartHook())
	assert.Equal(t, HookOnValidationBatchEnd, ModeValidation.BatchEndHook())
	assert.Equal(t, HookValidationStepEnd, ModeValidation.StepEndHook())
	assert.Equal(t, "validation", ModeValidation.String())
	assert.Equal(t, "test", ModeTest.String())
}

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError("max_batches", "must be >= 0, got %d", -1)
	assert.EqualError(t, err, "configuration error: max_batches: must be >= 0, got -1")
	assert.ErrorIs(t, err, ErrConfiguration)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, error(err), &cfgErr)
	assert.Equal(t, "max_batches", cfgErr.Field)
}
