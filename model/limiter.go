package model

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCallLimitExceeded is returned once an adapter has used up its model call
// budget.
var ErrCallLimitExceeded = errors.New("model call limit exceeded")

// CallLimiter enforces a maximum number of model calls. A max of 0 allows
// unlimited calls.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter allowing max calls.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Acquire counts one call and fails when it would exceed the limit. Rejected
// calls are not counted.
func (l *CallLimiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return fmt.Errorf("%w: %d", ErrCallLimitExceeded, l.max)
	}
	l.count++
	return nil
}

// Count returns the number of calls made.
func (l *CallLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Remaining returns the calls left, or -1 when unlimited.
func (l *CallLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max == 0 {
		return -1
	}
	return l.max - l.count
}
