// Package debug holds development-time side channels that observe the
// evaluation loop without influencing it.
package debug

import (
	"sync"

	"github.com/hupe1980/evalmesh/core"
)

var _ core.DebugTracker = (*Tracker)(nil)

// LossEntry is one observed step output.
type LossEntry struct {
	BatchIndex  int
	SourceIndex int
	Loss        float64
	HasLoss     bool
	Output      *core.StepOutput
}

// Tracker records the per-batch eval loss history when enabled. A disabled
// tracker ignores every call.
type Tracker struct {
	mu      sync.Mutex
	enabled bool
	lossKey string
	history []LossEntry
}

// Options configures a Tracker.
type Options struct {
	// Enabled turns recording on.
	Enabled bool
	// LossKey is the output value read as loss. Defaults to "loss".
	LossKey string
}

// NewTracker creates a tracker.
func NewTracker(optFns ...func(o *Options)) *Tracker {
	opts := Options{LossKey: "loss"}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.LossKey == "" {
		opts.LossKey = "loss"
	}
	return &Tracker{enabled: opts.Enabled, lossKey: opts.LossKey}
}

// Enabled reports whether the tracker records.
func (t *Tracker) Enabled() bool { return t.enabled }

// TrackEvalLossHistory implements core.DebugTracker.
func (t *Tracker) TrackEvalLossHistory(batchIndex, sourceIndex int, output *core.StepOutput) {
	if !t.enabled {
		return
	}
	loss, ok := output.Float(t.lossKey)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, LossEntry{
		BatchIndex:  batchIndex,
		SourceIndex: sourceIndex,
		Loss:        loss,
		HasLoss:     ok,
		Output:      output,
	})
}

// History returns a copy of the recorded entries.
func (t *Tracker) History() []LossEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]LossEntry{}, t.history...)
}

// Losses returns the recorded losses of one source in batch order, skipping
// outputs without a loss.
func (t *Tracker) Losses(sourceIndex int) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []float64
	for _, e := range t.history {
		if e.SourceIndex == sourceIndex && e.HasLoss {
			out = append(out, e.Loss)
		}
	}
	return out
}

// Reset clears the history.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
}
