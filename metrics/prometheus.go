package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/hupe1980/evalmesh/core"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	_ core.MetricsRecorder   = (*PrometheusRecorder)(nil)
	_ core.BatchSizeRecorder = (*PrometheusRecorder)(nil)
)

// ErrRegistrationFailed is returned when a collector cannot be registered.
var ErrRegistrationFailed = errors.New("metric registration failed")

// PrometheusConfig configures a PrometheusRecorder.
type PrometheusConfig struct {
	Namespace string
	Subsystem string

	// Registry receives the collectors. A private registry is created when nil.
	Registry prometheus.Registerer

	// BatchSizeBuckets defaults to exponential buckets 1..1024.
	BatchSizeBuckets []float64
}

// DefaultPrometheusConfig returns the baseline configuration.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:        "evalmesh",
		Subsystem:        "eval",
		BatchSizeBuckets: prometheus.ExponentialBuckets(1, 2, 11),
	}
}

// Validate checks required fields.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return core.NewConfigurationError("namespace", "is required")
	}
	if c.Subsystem == "" {
		return core.NewConfigurationError("subsystem", "is required")
	}
	return nil
}

// PrometheusRecorder exports loop metric notifications as Prometheus metrics:
// batches started, steps flushed, batch sizes and the last value of every
// logged step metric, all labelled by source index. Cached step metrics are
// held per source until that source's step is flushed.
type PrometheusRecorder struct {
	registry prometheus.Registerer

	batchesTotal *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	batchSize    *prometheus.HistogramVec
	stepMetric   *prometheus.GaugeVec

	collectors []prometheus.Collector

	mu      sync.Mutex
	pending map[int]map[string]float64
}

// NewPrometheusRecorder creates and registers the collectors.
func NewPrometheusRecorder(cfg *PrometheusConfig) (*PrometheusRecorder, error) {
	if cfg == nil {
		cfg = DefaultPrometheusConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	buckets := cfg.BatchSizeBuckets
	if len(buckets) == 0 {
		buckets = prometheus.ExponentialBuckets(1, 2, 11)
	}

	r := &PrometheusRecorder{
		registry: reg,
		pending:  map[int]map[string]float64{},
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batches_total",
			Help:      "Number of evaluation batches started.",
		}, []string{"dataloader"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "steps_logged_total",
			Help:      "Number of evaluation steps whose metrics were flushed.",
		}, []string{"dataloader"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batch_size",
			Help:      "Batch sizes observed by evaluation steps.",
			Buckets:   buckets,
		}, []string{"dataloader"}),
		stepMetric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "step_metric",
			Help:      "Last value of each metric logged during an evaluation step.",
		}, []string{"metric", "dataloader"}),
	}

	for _, c := range []prometheus.Collector{r.batchesTotal, r.stepsTotal, r.batchSize, r.stepMetric} {
		if err := reg.Register(c); err != nil {
			r.Close()
			return nil, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
		}
		r.collectors = append(r.collectors, c)
	}
	return r, nil
}

// OnEvaluationBatchStart implements core.MetricsRecorder.
func (r *PrometheusRecorder) OnEvaluationBatchStart(_ any, sourceIndex, _ int) {
	r.mu.Lock()
	delete(r.pending, sourceIndex)
	r.mu.Unlock()
	r.batchesTotal.WithLabelValues(strconv.Itoa(sourceIndex)).Inc()
}

// CacheLoggedMetrics implements core.MetricsRecorder.
func (r *PrometheusRecorder) CacheLoggedMetrics(sourceIndex int, results *core.StepResults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if results == nil {
		delete(r.pending, sourceIndex)
		return
	}
	r.pending[sourceIndex] = results.Metrics()
}

// RecordBatchSize implements core.BatchSizeRecorder.
func (r *PrometheusRecorder) RecordBatchSize(sourceIndex, size int) {
	r.batchSize.WithLabelValues(strconv.Itoa(sourceIndex)).Observe(float64(size))
}

// LogEvaluationStepMetrics implements core.MetricsRecorder.
func (r *PrometheusRecorder) LogEvaluationStepMetrics(sourceIndex int) {
	r.mu.Lock()
	pending := r.pending[sourceIndex]
	delete(r.pending, sourceIndex)
	r.mu.Unlock()

	src := strconv.Itoa(sourceIndex)
	for name, v := range pending {
		r.stepMetric.WithLabelValues(name, src).Set(v)
	}
	r.stepsTotal.WithLabelValues(src).Inc()
}

// Close unregisters all collectors.
func (r *PrometheusRecorder) Close() {
	for _, c := range r.collectors {
		r.registry.Unregister(c)
	}
	r.collectors = nil
}
