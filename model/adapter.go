package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/internal/util"
	"github.com/hupe1980/evalmesh/logging"
	"golang.org/x/sync/errgroup"
)

var _ core.ModelAdapter = (*Adapter)(nil)

// ErrUnsupportedBatch is returned when a batch payload is not a Batch or
// []Example.
var ErrUnsupportedBatch = errors.New("unsupported batch payload")

// Example is one prompt with its expected answer.
type Example struct {
	ID        string `json:"id"`
	Prompt    string `json:"prompt"`
	Reference string `json:"reference"`
}

// Batch is the payload type the adapter consumes. It implements core.Sized so
// the loop can track batch sizes.
type Batch []Example

// Len implements core.Sized.
func (b Batch) Len() int { return len(b) }

// Prediction is one captured model answer with its scores.
type Prediction struct {
	ExampleID  string             `json:"example_id"`
	Prompt     string             `json:"prompt"`
	Output     string             `json:"output"`
	Reference  string             `json:"reference"`
	Scores     map[string]float64 `json:"scores"`
	BatchIndex int                `json:"batch_idx"`
	Source     int                `json:"dataloader_idx"`
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	// Instructions are sent as system instructions with every prompt.
	Instructions string

	// PromptTemplate renders each Example into the user prompt, for example
	// "Question: {{.Prompt}}\nAnswer:". Empty sends Example.Prompt as is.
	PromptTemplate string

	// MaxCalls caps the model calls over the adapter's lifetime; 0 is
	// unlimited.
	MaxCalls int

	// Scorers rate each answer. Defaults to ExactMatch.
	Scorers []Scorer

	// Concurrency bounds in-flight generations per batch. Defaults to 4.
	Concurrency int

	// Timeout bounds a single generation; zero disables it.
	Timeout time.Duration

	Logger logging.Logger
}

// Adapter is a core.ModelAdapter that sends every example of a batch to a
// Model and scores the answers. Validation and test steps behave the same
// except that only test steps emit predictions.
//
// Each step logs the batch mean of every scorer, plus "loss" (one minus the
// first scorer's mean) and token counts, into the adapter's StepResults.
type Adapter struct {
	model   Model
	opts    AdapterOptions
	results *core.StepResults
	limiter *CallLimiter
}

// NewAdapter creates an adapter around m.
func NewAdapter(m Model, optFns ...func(o *AdapterOptions)) *Adapter {
	opts := AdapterOptions{
		Scorers:     []Scorer{ExactMatch()},
		Concurrency: 4,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if len(opts.Scorers) == 0 {
		opts.Scorers = []Scorer{ExactMatch()}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Adapter{
		model:   m,
		opts:    opts,
		results: core.NewStepResults(),
		limiter: NewCallLimiter(opts.MaxCalls),
	}
}

// Calls returns the number of model calls made so far.
func (a *Adapter) Calls() int { return a.limiter.Count() }

// Results implements core.ModelAdapter.
func (a *Adapter) Results() *core.StepResults { return a.results }

// ValidationStep implements core.ModelAdapter.
func (a *Adapter) ValidationStep(ctx context.Context, args core.StepArgs) (*core.StepOutput, error) {
	return a.step(ctx, args, false)
}

// TestStep implements core.ModelAdapter.
func (a *Adapter) TestStep(ctx context.Context, args core.StepArgs) (*core.StepOutput, error) {
	return a.step(ctx, args, true)
}

type answer struct {
	prompt string
	text   string
	usage  *TokenUsage
}

func (a *Adapter) step(ctx context.Context, args core.StepArgs, withPredictions bool) (*core.StepOutput, error) {
	batch, err := asBatch(args.Batch)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	answers := make([]answer, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, ex := range batch {
		g.Go(func() error {
			prompt, err := a.render(ex)
			if err != nil {
				return fmt.Errorf("example %q: %w", ex.ID, err)
			}
			if err := a.limiter.Acquire(); err != nil {
				return err
			}
			genCtx := gctx
			if a.opts.Timeout > 0 {
				var cancel context.CancelFunc
				genCtx, cancel = context.WithTimeout(gctx, a.opts.Timeout)
				defer cancel()
			}
			resp, err := Collect(genCtx, a.model, NewPromptRequest(a.opts.Instructions, prompt))
			if err != nil {
				return fmt.Errorf("example %q: %w", ex.ID, err)
			}
			answers[i] = answer{prompt: prompt, text: resp.Text, usage: resp.Usage}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sums := make([]float64, len(a.opts.Scorers))
	usage := &TokenUsage{}
	var predictions []any
	source, _ := args.Source()
	for i, ex := range batch {
		scores := make(map[string]float64, len(a.opts.Scorers))
		for j, s := range a.opts.Scorers {
			v := s.Score(answers[i].text, ex.Reference)
			scores[s.Name()] = v
			sums[j] += v
		}
		usage.Add(answers[i].usage)
		if withPredictions {
			predictions = append(predictions, Prediction{
				ExampleID:  ex.ID,
				Prompt:     answers[i].prompt,
				Output:     answers[i].text,
				Reference:  ex.Reference,
				Scores:     scores,
				BatchIndex: args.BatchIndex,
				Source:     source,
			})
		}
	}

	values := map[string]any{}
	n := float64(len(batch))
	for j, s := range a.opts.Scorers {
		mean := sums[j] / n
		values[s.Name()] = mean
		a.results.Log(s.Name(), mean)
	}
	loss := 1 - sums[0]/n
	values["loss"] = loss
	a.results.Log("loss", loss)
	values["total_tokens"] = usage.TotalTokens
	a.results.Log("total_tokens", float64(usage.TotalTokens))

	a.opts.Logger.Debug("eval.model.step",
		"model", a.model.Info().Name,
		"batch_idx", args.BatchIndex,
		"examples", len(batch),
		"loss", loss,
	)

	out := core.NewStepOutput(values)
	out.Predictions = predictions
	out.BatchSize = len(batch)
	out.Metadata = map[string]any{"model": a.model.Info().Name, "provider": a.model.Info().Provider}
	return out, nil
}

// render builds the user prompt. A raw prompt is never parsed as a template.
func (a *Adapter) render(ex Example) (string, error) {
	if a.opts.PromptTemplate == "" {
		return ex.Prompt, nil
	}
	return util.RenderTemplate(a.opts.PromptTemplate, ex)
}

func asBatch(payload any) (Batch, error) {
	switch b := payload.(type) {
	case Batch:
		return b, nil
	case []Example:
		return Batch(b), nil
	case Example:
		return Batch{b}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedBatch, payload)
	}
}
