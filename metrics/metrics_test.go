package metrics

import (
	"strings"
	"testing"

	"github.com/hupe1980/evalmesh/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(r core.MetricsRecorder, source, sources, size int, values map[string]float64) {
	r.OnEvaluationBatchStart(nil, source, sources)
	res := core.NewStepResults()
	for k, v := range values {
		res.Log(k, v)
	}
	r.CacheLoggedMetrics(source, res)
	if size > 0 {
		r.(core.BatchSizeRecorder).RecordBatchSize(source, size)
	}
	r.LogEvaluationStepMetrics(source)
}

func logged(values map[string]float64) *core.StepResults {
	res := core.NewStepResults()
	for k, v := range values {
		res.Log(k, v)
	}
	return res
}

func TestRecorder_WeightedEpochMeans(t *testing.T) {
	r := NewRecorder()
	step(r, 0, 1, 1, map[string]float64{"acc": 1})
	step(r, 0, 1, 3, map[string]float64{"acc": 0})

	assert.InDelta(t, 0.25, r.EpochMetrics(0)["acc"], 1e-9)
	assert.Equal(t, map[string]float64{"acc": 0.25}, r.Summary())
	assert.Len(t, r.Steps(), 2)
	assert.Equal(t, 3, r.Steps()[1].BatchSize)
	assert.Equal(t, []string{"acc"}, r.Names())
}

func TestRecorder_UnitWeightWithoutBatchSize(t *testing.T) {
	r := NewRecorder()
	step(r, 0, 1, 0, map[string]float64{"loss": 2})
	step(r, 0, 1, 0, map[string]float64{"loss": 4})
	assert.Equal(t, 3.0, r.EpochMetrics(0)["loss"])
}

func TestRecorder_MultiSourceSummary(t *testing.T) {
	r := NewRecorder()
	step(r, 0, 2, 0, map[string]float64{"loss": 1})
	step(r, 1, 2, 0, map[string]float64{"loss": 3})

	assert.Equal(t, []string{"loss/dataloader_idx_0", "loss/dataloader_idx_1"}, r.SummaryKeys())

	r.Reset()
	assert.Empty(t, r.Summary())
	assert.Empty(t, r.Steps())
}

func TestRecorder_NilResults(t *testing.T) {
	r := NewRecorder()
	r.OnEvaluationBatchStart(nil, 0, 1)
	r.CacheLoggedMetrics(0, nil)
	r.LogEvaluationStepMetrics(0)
	require.Len(t, r.Steps(), 1)
	assert.Empty(t, r.Steps()[0].Metrics)
}

func TestRecorder_InterleavedSources(t *testing.T) {
	r := NewRecorder()

	r.OnEvaluationBatchStart(nil, 0, 2)
	r.OnEvaluationBatchStart(nil, 1, 2)
	r.CacheLoggedMetrics(1, logged(map[string]float64{"acc": 0}))
	r.RecordBatchSize(1, 4)
	r.CacheLoggedMetrics(0, logged(map[string]float64{"acc": 1}))
	r.LogEvaluationStepMetrics(1)
	r.RecordBatchSize(0, 2)
	r.LogEvaluationStepMetrics(0)

	assert.Equal(t, map[string]float64{"acc": 1}, r.EpochMetrics(0))
	assert.Equal(t, map[string]float64{"acc": 0}, r.EpochMetrics(1))
	steps := r.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, StepRecord{SourceIndex: 1, BatchSize: 4, Metrics: map[string]float64{"acc": 0}}, steps[0])
	assert.Equal(t, StepRecord{SourceIndex: 0, BatchSize: 2, Metrics: map[string]float64{"acc": 1}}, steps[1])
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := NewMulti(a, nil, b)
	assert.Len(t, m, 2)

	step(m, 0, 1, 2, map[string]float64{"acc": 0.5})
	assert.Equal(t, a.Steps(), b.Steps())
	assert.Equal(t, 2, a.Steps()[0].BatchSize)
}

func TestPrometheusConfig_Validate(t *testing.T) {
	cfg := DefaultPrometheusConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Namespace = ""
	assert.ErrorIs(t, cfg.Validate(), core.ErrConfiguration)

	_, err := NewPrometheusRecorder(cfg)
	assert.Error(t, err)
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg

	r, err := NewPrometheusRecorder(cfg)
	require.NoError(t, err)
	defer r.Close()

	step(r, 0, 2, 4, map[string]float64{"acc": 0.5})
	step(r, 1, 2, 2, map[string]float64{"acc": 1})
	step(r, 1, 2, 0, map[string]float64{"acc": 0.75})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchesTotal.WithLabelValues("0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.batchesTotal.WithLabelValues("1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.stepsTotal.WithLabelValues("1")))
	assert.Equal(t, 0.75, testutil.ToFloat64(r.stepMetric.WithLabelValues("acc", "1")))

	expected := `
# HELP evalmesh_eval_batches_total Number of evaluation batches started.
# TYPE evalmesh_eval_batches_total counter
evalmesh_eval_batches_total{dataloader="0"} 1
evalmesh_eval_batches_total{dataloader="1"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "evalmesh_eval_batches_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(r.batchSize))
}

func TestPrometheusRecorder_InterleavedSources(t *testing.T) {
	r, err := NewPrometheusRecorder(DefaultPrometheusConfig())
	require.NoError(t, err)
	defer r.Close()

	r.OnEvaluationBatchStart(nil, 0, 2)
	r.OnEvaluationBatchStart(nil, 1, 2)
	r.CacheLoggedMetrics(1, logged(map[string]float64{"acc": 0.25}))
	r.CacheLoggedMetrics(0, logged(map[string]float64{"acc": 1}))
	r.LogEvaluationStepMetrics(1)
	r.LogEvaluationStepMetrics(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepMetric.WithLabelValues("acc", "0")))
	assert.Equal(t, 0.25, testutil.ToFloat64(r.stepMetric.WithLabelValues("acc", "1")))
}

func TestPrometheusRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg

	r, err := NewPrometheusRecorder(cfg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(cfg)
	assert.ErrorIs(t, err, ErrRegistrationFailed)

	r.Close()
	r2, err := NewPrometheusRecorder(cfg)
	require.NoError(t, err)
	r2.Close()
}
