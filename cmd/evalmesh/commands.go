package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/evalmesh"
	"github.com/hupe1980/evalmesh/artifact"
	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/debug"
	"github.com/hupe1980/evalmesh/hook"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/loop"
	"github.com/hupe1980/evalmesh/metrics"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/profiler"
	"github.com/hupe1980/evalmesh/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type runFlags struct {
	configPath  string
	data        []string
	mode        string
	maxBatches  int
	provider    string
	modelName   string
	artifactDir string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "evalmesh",
		Short:         "Run validation and test loops over a model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a model on one or more JSONL datasets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := evalmesh.LoadConfig(flags.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(flags.data) == 0 {
				return core.NewConfigurationError("data", "at least one --data file is required")
			}

			m, err := evalmesh.NewModel(cfg.Model)
			if err != nil {
				return err
			}
			summary, err := runEval(cmd.Context(), cfg, m, flags.data, cmd.ErrOrStderr())
			if summary != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(summary); encErr != nil && err == nil {
					err = encErr
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	f.StringArrayVarP(&flags.data, "data", "d", nil, "JSONL dataset, repeat for multiple sources")
	f.StringVar(&flags.mode, "mode", "", "validation or test")
	f.IntVar(&flags.maxBatches, "max-batches", 0, "batch limit per source, -1 for all")
	f.StringVar(&flags.provider, "provider", "", "model provider: openai, anthropic or mock")
	f.StringVar(&flags.modelName, "model", "", "model name")
	f.StringVar(&flags.artifactDir, "artifact-dir", "", "directory for saved predictions")
	return cmd
}

// applyFlags overrides config values with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *evalmesh.Config, flags runFlags) {
	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Mode = flags.mode
	}
	if changed("max-batches") {
		cfg.MaxBatches = flags.maxBatches
	}
	if changed("provider") {
		cfg.Model.Provider = flags.provider
	}
	if changed("model") {
		cfg.Model.Name = flags.modelName
	}
	if changed("artifact-dir") {
		cfg.ArtifactDir = flags.artifactDir
	}
}

type sourceSummary struct {
	Index       int    `json:"dataloader_idx"`
	File        string `json:"file"`
	RunID       string `json:"run_id"`
	Batches     int    `json:"batches"`
	Predictions int    `json:"predictions"`
	Namespace   string `json:"namespace,omitempty"`
}

type runSummary struct {
	Mode     string             `json:"mode"`
	Model    model.Info         `json:"model"`
	Sources  []sourceSummary    `json:"sources"`
	Metrics  map[string]float64 `json:"metrics"`
	Profile  map[string]float64 `json:"profile_ms"`
	EvalLoss map[int][]float64  `json:"eval_loss,omitempty"`
}

// runEval wires the configured collaborators and evaluates every data file as
// its own source.
func runEval(ctx context.Context, cfg evalmesh.Config, m model.Model, files []string, logOut io.Writer) (*runSummary, error) {
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLogLevel(cfg.Log.Level),
		Format:    cfg.Log.Format,
		Output:    logOut,
		Component: "evalmesh",
	})

	sources := make([]core.DataSource, 0, len(files))
	for _, file := range files {
		examples, err := source.ReadJSONLFile[model.Example](file)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source.Batches(examples, cfg.BatchSize))
	}

	var store core.ArtifactStore = artifact.NewInMemoryStore()
	if cfg.ArtifactDir != "" {
		fs, err := artifact.NewFileStore(cfg.ArtifactDir)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	recorder := metrics.NewRecorder()
	recorders := []core.MetricsRecorder{recorder}
	if cfg.Metrics.Prometheus {
		reg := prometheus.NewRegistry()
		promCfg := metrics.DefaultPrometheusConfig()
		promCfg.Namespace = cfg.Metrics.Namespace
		promCfg.Registry = reg
		prom, err := metrics.NewPrometheusRecorder(promCfg)
		if err != nil {
			return nil, err
		}
		defer prom.Close()
		recorders = append(recorders, prom)

		shutdown := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer shutdown()
	}

	simple := profiler.NewSimple()
	profilers := profiler.Chain{simple}
	if cfg.Tracing {
		tp, err := newTracerProvider(logOut)
		if err != nil {
			return nil, err
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
		profilers = append(profilers, profiler.NewTracer(tp))
	}

	tracker := debug.NewTracker(func(o *debug.Options) { o.Enabled = cfg.DebugLoss })

	mode := cfg.RunMode()
	hooks := hook.NewRegistry()
	hooks.Register(hook.NewLoggingHook(mode.BatchEndHook(), logger.WithComponent("hooks")))

	scorers, err := cfg.Model.BuildScorers()
	if err != nil {
		return nil, err
	}
	adapter := model.NewAdapter(m, func(o *model.AdapterOptions) {
		o.Instructions = cfg.Model.Instructions
		o.PromptTemplate = cfg.Model.PromptTemplate
		o.MaxCalls = cfg.Model.MaxCalls
		o.Scorers = scorers
		o.Concurrency = cfg.Model.Concurrency
		o.Timeout = cfg.Model.Timeout
		o.Logger = logger.WithComponent("adapter")
	})

	policy, _ := loop.ParseNilBatchPolicy(cfg.NilBatchPolicy)
	evaluator := evalmesh.New(func(o *evalmesh.Options) {
		o.Adapter = adapter
		o.Hooks = hooks
		o.Metrics = metrics.NewMulti(recorders...)
		o.Profiler = profilers
		o.Debug = tracker
		o.ArtifactStore = store
		o.Namespace = cfg.Namespace
		o.MaxBatches = cfg.MaxBatches
		o.NilBatchPolicy = policy
		o.Rank = cfg.Rank
		o.WorldSize = cfg.WorldSize
		o.Logger = logger
	})

	start := time.Now()
	res, runErr := evaluator.Run(ctx, mode, sources...)

	summary := &runSummary{
		Mode:    mode.String(),
		Model:   m.Info(),
		Metrics: recorder.Summary(),
		Profile: map[string]float64{},
	}
	batches := 0
	if res != nil {
		for _, s := range res.Sources {
			batches += s.Batches
			ss := sourceSummary{
				Index:     s.SourceIndex,
				File:      files[s.SourceIndex],
				RunID:     s.RunID,
				Batches:   s.Batches,
				Namespace: s.Namespace,
			}
			if s.Predictions != nil {
				ss.Predictions = s.Predictions.Len()
			}
			summary.Sources = append(summary.Sources, ss)
		}
	}
	logger.WithRun(strings.Join(runIDs(summary.Sources), ","), mode.String()).LogRun(batches, time.Since(start), runErr)

	for scope, stat := range simple.Summary() {
		summary.Profile[scope] = float64(stat.Mean()) / float64(time.Millisecond)
	}
	if tracker.Enabled() {
		summary.EvalLoss = map[int][]float64{}
		for i := range sources {
			summary.EvalLoss[i] = tracker.Losses(i)
		}
	}
	return summary, runErr
}

func runIDs(sources []sourceSummary) []string {
	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.RunID
	}
	return ids
}

// newTracerProvider exports the step spans as JSON to w.
func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "evalmesh"))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

// serveMetrics exposes reg on addr until the returned shutdown is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics.server.failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics.server.started", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics.server.shutdown", "error", fmt.Sprint(err))
		}
	}
}
