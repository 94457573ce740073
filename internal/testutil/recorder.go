package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/evalmesh/core"
)

// CallLog records call names in order. Safe for concurrent use.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// Record appends a call name.
func (c *CallLog) Record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

// Calls returns a copy of the recorded names.
func (c *CallLog) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.calls...)
}

// Reset clears the log.
func (c *CallLog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// Canonical names recorded by the instrumented collaborators.
const (
	CallBatchStart = "onBatchStart"
	CallStep       = "step"
	CallStepEnd    = "stepEnd"
	CallBatchEnd   = "onBatchEnd"
	CallTrack      = "track"
)

// RecordingHooks is a core.HookHost recording every hook call.
type RecordingHooks struct {
	Log *CallLog

	// StepEnd optionally transforms the step output; identity when nil.
	StepEnd func(call core.HookCall) *core.StepOutput
	// Errors maps hook names to errors returned from that hook.
	Errors map[core.HookName]error

	mu    sync.Mutex
	Names []core.HookName
	Calls []core.HookCall
}

// NewRecordingHooks creates a recorder writing to log.
func NewRecordingHooks(log *CallLog) *RecordingHooks {
	return &RecordingHooks{Log: log, Errors: map[core.HookName]error{}}
}

// CallHook implements core.HookHost.
func (h *RecordingHooks) CallHook(_ context.Context, name core.HookName, call core.HookCall) (*core.StepOutput, error) {
	h.mu.Lock()
	h.Names = append(h.Names, name)
	h.Calls = append(h.Calls, call)
	h.mu.Unlock()

	switch name {
	case core.HookOnValidationBatchStart, core.HookOnTestBatchStart:
		h.Log.Record(CallBatchStart)
	case core.HookOnValidationBatchEnd, core.HookOnTestBatchEnd:
		h.Log.Record(CallBatchEnd)
	case core.HookValidationStepEnd, core.HookTestStepEnd:
		h.Log.Record(CallStepEnd)
	}

	if err := h.Errors[name]; err != nil {
		return nil, err
	}

	switch name {
	case core.HookValidationStepEnd, core.HookTestStepEnd:
		if h.StepEnd != nil {
			return h.StepEnd(call), nil
		}
		return call.Output, nil
	default:
		return nil, nil
	}
}

// HookNames returns a copy of the recorded hook names.
func (h *RecordingHooks) HookNames() []core.HookName {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.HookName{}, h.Names...)
}

// ScriptedAdapter is a core.ModelAdapter whose steps are driven by a function.
type ScriptedAdapter struct {
	Log *CallLog

	// Fn produces the output for a step; nil output is allowed.
	Fn func(mode core.RunMode, args core.StepArgs) (*core.StepOutput, error)
	// Metrics are logged into the result holder during each step.
	Metrics map[string]float64

	mu      sync.Mutex
	Args    []core.StepArgs
	Modes   []core.RunMode
	results *core.StepResults
}

// NewScriptedAdapter creates an adapter writing to log.
func NewScriptedAdapter(log *CallLog, fn func(mode core.RunMode, args core.StepArgs) (*core.StepOutput, error)) *ScriptedAdapter {
	return &ScriptedAdapter{Log: log, Fn: fn, results: core.NewStepResults()}
}

// ValidationStep implements core.ModelAdapter.
func (a *ScriptedAdapter) ValidationStep(_ context.Context, args core.StepArgs) (*core.StepOutput, error) {
	return a.step(core.ModeValidation, args)
}

// TestStep implements core.ModelAdapter.
func (a *ScriptedAdapter) TestStep(_ context.Context, args core.StepArgs) (*core.StepOutput, error) {
	return a.step(core.ModeTest, args)
}

// Results implements core.ModelAdapter.
func (a *ScriptedAdapter) Results() *core.StepResults { return a.results }

func (a *ScriptedAdapter) step(mode core.RunMode, args core.StepArgs) (*core.StepOutput, error) {
	a.mu.Lock()
	a.Args = append(a.Args, args)
	a.Modes = append(a.Modes, mode)
	a.mu.Unlock()
	if a.Log != nil {
		a.Log.Record(CallStep)
	}
	for k, v := range a.Metrics {
		a.results.Log(k, v)
	}
	if a.Fn == nil {
		return nil, nil
	}
	return a.Fn(mode, args)
}

// StepCount returns the number of step calls.
func (a *ScriptedAdapter) StepCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Args)
}

// RecordingMetrics is a core.MetricsRecorder capturing every notification.
type RecordingMetrics struct {
	mu          sync.Mutex
	Starts      [][2]int
	Cached      []map[string]float64
	Flushes     int
	BatchSizes  []int
	SeenBatches []any
}

// OnEvaluationBatchStart implements core.MetricsRecorder.
func (m *RecordingMetrics) OnEvaluationBatchStart(batch any, sourceIndex, numSources int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Starts = append(m.Starts, [2]int{sourceIndex, numSources})
	m.SeenBatches = append(m.SeenBatches, batch)
}

// CacheLoggedMetrics implements core.MetricsRecorder.
func (m *RecordingMetrics) CacheLoggedMetrics(_ int, results *core.StepResults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if results == nil {
		m.Cached = append(m.Cached, nil)
		return
	}
	m.Cached = append(m.Cached, results.Metrics())
}

// LogEvaluationStepMetrics implements core.MetricsRecorder.
func (m *RecordingMetrics) LogEvaluationStepMetrics(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Flushes++
}

// RecordBatchSize implements core.BatchSizeRecorder.
func (m *RecordingMetrics) RecordBatchSize(_, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchSizes = append(m.BatchSizes, size)
}

// RecordingDebug is a core.DebugTracker that records each call and optionally
// runs a callback, e.g. to inspect loop state at that point.
type RecordingDebug struct {
	Log     *CallLog
	OnTrack func(batchIndex, sourceIndex int, output *core.StepOutput)
}

// TrackEvalLossHistory implements core.DebugTracker.
func (d *RecordingDebug) TrackEvalLossHistory(batchIndex, sourceIndex int, output *core.StepOutput) {
	if d.OnTrack != nil {
		d.OnTrack(batchIndex, sourceIndex, output)
	}
	if d.Log != nil {
		d.Log.Record(CallTrack)
	}
}
