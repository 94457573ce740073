package hook

import (
	"context"
	"sync"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
)

var _ core.HookHost = (*Registry)(nil)

// Context carries the information a hook needs for one invocation.
//
// Output is nil for batch-start hooks. Step-end hooks may replace Output
// (including with nil); the value left in Output after the last hook is the
// transformed step output handed back to the loop.
type Context struct {
	// Name is the lifecycle hook being executed. Shared hook implementations
	// can switch on it.
	Name core.HookName

	Batch       any
	BatchIndex  int
	SourceIndex int
	Output      *core.StepOutput

	// Metadata provides extensible storage shared by the hooks of one call.
	Metadata map[string]any
}

// Hook is a single lifecycle hook.
//
// Hooks run synchronously on the loop's goroutine. A returned error aborts the
// current batch and is propagated to the caller of Advance unchanged.
type Hook interface {
	// Name returns the lifecycle point this hook handles.
	Name() core.HookName

	// Execute performs the hook logic.
	Execute(ctx context.Context, hc *Context) error
}

// FunctionHook wraps a function as a Hook.
//
// Example:
//
//	scale := hook.NewFunctionHook(core.HookTestStepEnd,
//	    func(ctx context.Context, hc *hook.Context) error {
//	        hc.Output.Values["score"] = 100 * hc.Output.Values["score"].(float64)
//	        return nil
//	    },
//	)
type FunctionHook struct {
	name core.HookName
	fn   func(ctx context.Context, hc *Context) error
}

// NewFunctionHook creates a function-based hook.
func NewFunctionHook(name core.HookName, fn func(ctx context.Context, hc *Context) error) *FunctionHook {
	return &FunctionHook{name: name, fn: fn}
}

// Name implements Hook.
func (h *FunctionHook) Name() core.HookName { return h.name }

// Execute implements Hook.
func (h *FunctionHook) Execute(ctx context.Context, hc *Context) error { return h.fn(ctx, hc) }

// NewStepEndTransform adapts an output transform into a step-end hook for
// the given mode.
func NewStepEndTransform(mode core.RunMode, fn func(ctx context.Context, output *core.StepOutput) (*core.StepOutput, error)) *FunctionHook {
	return NewFunctionHook(mode.StepEndHook(), func(ctx context.Context, hc *Context) error {
		out, err := fn(ctx, hc.Output)
		if err != nil {
			return err
		}
		hc.Output = out
		return nil
	})
}

// Registry is a core.HookHost dispatching to registered hooks.
//
// Hooks run in registration order; the first error stops the chain.
// Registration and dispatch are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	hooks map[core.HookName][]Hook
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[core.HookName][]Hook)}
}

// Register adds hooks. Multiple hooks per name run in registration order.
func (r *Registry) Register(hooks ...Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range hooks {
		r.hooks[h.Name()] = append(r.hooks[h.Name()], h)
	}
}

// Len returns the number of hooks registered for name.
func (r *Registry) Len(name core.HookName) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[name])
}

// CallHook implements core.HookHost. For step-end hooks the (possibly
// replaced) output is returned; with no hooks registered that is the input
// output unchanged. Other hooks return a nil output.
func (r *Registry) CallHook(ctx context.Context, name core.HookName, call core.HookCall) (*core.StepOutput, error) {
	r.mu.RLock()
	hooks := append([]Hook{}, r.hooks[name]...)
	r.mu.RUnlock()

	hc := &Context{
		Name:        name,
		Batch:       call.Batch,
		BatchIndex:  call.BatchIndex,
		SourceIndex: call.SourceIndex,
		Output:      call.Output,
		Metadata:    map[string]any{},
	}

	for _, h := range hooks {
		if err := h.Execute(ctx, hc); err != nil {
			return nil, err
		}
	}

	if name.IsStepEnd() {
		return hc.Output, nil
	}
	return nil, nil
}

// LoggingHook logs every invocation of a lifecycle hook at debug level.
type LoggingHook struct {
	name   core.HookName
	logger logging.Logger
}

// NewLoggingHook creates a logging hook for name.
func NewLoggingHook(name core.HookName, logger logging.Logger) *LoggingHook {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &LoggingHook{name: name, logger: logger}
}

// Name implements Hook.
func (h *LoggingHook) Name() core.HookName { return h.name }

// Execute implements Hook.
func (h *LoggingHook) Execute(_ context.Context, hc *Context) error {
	args := []any{
		"hook", string(hc.Name),
		"batch_idx", hc.BatchIndex,
		"dataloader_idx", hc.SourceIndex,
	}
	if hc.Output != nil {
		args = append(args, "values", len(hc.Output.Values), "predictions", len(hc.Output.Predictions))
	}
	h.logger.Debug("eval.hook", args...)
	return nil
}

// OutputValidationHook rejects step outputs that fail a validator. It is
// typically registered on the step-end or batch-end hook of a mode.
type OutputValidationHook struct {
	name      core.HookName
	validator func(output *core.StepOutput) error
}

// NewOutputValidationHook creates a validation hook. Nil outputs are passed to
// the validator as well.
func NewOutputValidationHook(name core.HookName, validator func(output *core.StepOutput) error) *OutputValidationHook {
	return &OutputValidationHook{name: name, validator: validator}
}

// Name implements Hook.
func (h *OutputValidationHook) Name() core.HookName { return h.name }

// Execute implements Hook.
func (h *OutputValidationHook) Execute(_ context.Context, hc *Context) error {
	if h.validator == nil {
		return nil
	}
	return h.validator(hc.Output)
}

// RequireValues returns a validator that fails when any of the named values is
// missing from the output.
func RequireValues(names ...string) func(output *core.StepOutput) error {
	return func(output *core.StepOutput) error {
		for _, n := range names {
			if _, ok := output.Value(n); !ok {
				return core.NewConfigurationError("output", "missing value %q", n)
			}
		}
		return nil
	}
}
