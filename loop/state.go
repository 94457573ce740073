package loop

// State is the coarse run phase of an EvaluationLoop.
type State int

const (
	// StateIdle is the phase after construction or Reset.
	StateIdle State = iota
	// StateRunning is entered on the first Advance after Reset.
	StateRunning
	// StateDone is terminal until the next Reset.
	StateDone
)

// String returns the phase name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// LoopState holds the iteration counters and the termination predicate.
//
// Done reports true once MaxBatches batches have completed. batchIndex is the
// index of the last completed batch and is unset before the first one.
type LoopState struct {
	iterationCount int
	batchIndex     int
	hasBatchIndex  bool
	maxBatches     int
	configured     bool
}

// Reset zeroes the counters and stores the batch limit.
func (s *LoopState) Reset(maxBatches int) {
	s.iterationCount = 0
	s.batchIndex = 0
	s.hasBatchIndex = false
	s.maxBatches = maxBatches
	s.configured = true
}

// Configured reports whether Reset has been called.
func (s *LoopState) Configured() bool { return s.configured }

// Completed records a successfully processed batch.
func (s *LoopState) Completed(batchIndex int) {
	s.iterationCount++
	s.batchIndex = batchIndex
	s.hasBatchIndex = true
}

// Done reports whether the batch limit has been reached.
func (s *LoopState) Done() bool {
	return s.configured && s.iterationCount >= s.maxBatches
}

// IterationCount returns the number of completed batches.
func (s *LoopState) IterationCount() int { return s.iterationCount }

// BatchIndex returns the index of the last completed batch, if any.
func (s *LoopState) BatchIndex() (int, bool) { return s.batchIndex, s.hasBatchIndex }

// MaxBatches returns the configured limit, if any.
func (s *LoopState) MaxBatches() (int, bool) { return s.maxBatches, s.configured }
