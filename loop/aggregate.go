package loop

import "github.com/hupe1980/evalmesh/core"

// Reducer folds step outputs into a host-defined accumulator. Init creates a
// fresh accumulator for every run; Reduce is called once per batch with the
// possibly nil output.
type Reducer[A any] struct {
	Init   func() A
	Reduce func(acc A, output *core.StepOutput) A
}

// AppendOutputs is the default reducer: it appends non-nil outputs in batch
// order.
func AppendOutputs() Reducer[[]*core.StepOutput] {
	return Reducer[[]*core.StepOutput]{
		Init: func() []*core.StepOutput { return []*core.StepOutput{} },
		Reduce: func(acc []*core.StepOutput, output *core.StepOutput) []*core.StepOutput {
			if output == nil {
				return acc
			}
			return append(acc, output)
		},
	}
}

// OutputAggregator owns the accumulator for the current run.
type OutputAggregator[A any] struct {
	reducer Reducer[A]
	acc     A
}

// NewOutputAggregator creates an aggregator and initializes its accumulator.
func NewOutputAggregator[A any](reducer Reducer[A]) *OutputAggregator[A] {
	a := &OutputAggregator[A]{reducer: reducer}
	a.Reset()
	return a
}

// Reset replaces the accumulator with a fresh one.
func (a *OutputAggregator[A]) Reset() {
	var zero A
	a.acc = zero
	if a.reducer.Init != nil {
		a.acc = a.reducer.Init()
	}
}

// Fold adds one step output.
func (a *OutputAggregator[A]) Fold(output *core.StepOutput) {
	if a.reducer.Reduce == nil {
		return
	}
	a.acc = a.reducer.Reduce(a.acc, output)
}

// Outputs returns the current accumulator.
func (a *OutputAggregator[A]) Outputs() A { return a.acc }
