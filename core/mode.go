package core

import "fmt"

// RunMode selects the step and hook variants used for a whole run.
type RunMode int

const (
	// ModeValidation drives ValidationStep and the validation hooks.
	ModeValidation RunMode = iota
	// ModeTest drives TestStep and the test hooks, and captures predictions.
	ModeTest
)

// String returns the lowercase mode name used in hook names and logs.
func (m RunMode) String() string {
	switch m {
	case ModeValidation:
		return "validation"
	case ModeTest:
		return "test"
	default:
		return "unknown"
	}
}

// ParseRunMode converts "validation"/"val" or "test" into a RunMode.
func ParseRunMode(s string) (RunMode, error) {
	switch s {
	case "validation", "val", "validate":
		return ModeValidation, nil
	case "test", "testing":
		return ModeTest, nil
	default:
		return ModeValidation, &ConfigurationError{Field: "mode", Message: fmt.Sprintf("unknown run mode %q", s)}
	}
}

// HookName identifies a host lifecycle hook.
type HookName string

const (
	HookOnValidationBatchStart HookName = "on_validation_batch_start"
	HookOnValidationBatchEnd   HookName = "on_validation_batch_end"
	HookOnTestBatchStart       HookName = "on_test_batch_start"
	HookOnTestBatchEnd         HookName = "on_test_batch_end"
	HookValidationStepEnd      HookName = "validation_step_end"
	HookTestStepEnd            HookName = "test_step_end"
)

// BatchStartHook returns the batch-start hook name for the mode.
func (m RunMode) BatchStartHook() HookName {
	if m == ModeTest {
		return HookOnTestBatchStart
	}
	return HookOnValidationBatchStart
}

// BatchEndHook returns the batch-end hook name for the mode.
func (m RunMode) BatchEndHook() HookName {
	if m == ModeTest {
		return HookOnTestBatchEnd
	}
	return HookOnValidationBatchEnd
}

// StepEndHook returns the step-end transform hook name for the mode.
func (m RunMode) StepEndHook() HookName {
	if m == ModeTest {
		return HookTestStepEnd
	}
	return HookValidationStepEnd
}

// IsStepEnd reports whether the hook is a step-end output transform.
func (n HookName) IsStepEnd() bool {
	return n == HookValidationStepEnd || n == HookTestStepEnd
}
