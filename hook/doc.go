// Package hook provides a registry-based implementation of core.HookHost.
//
// The evaluation loop calls three lifecycle hooks per batch: a batch-start
// hook, a step-end transform and a batch-end hook, named per run mode (see
// core.HookName). Register any number of Hook implementations per name with a
// Registry and pass it to the loop as its hook host:
//
//	reg := hook.NewRegistry()
//	reg.Register(
//	    hook.NewLoggingHook(core.HookOnTestBatchEnd, logger),
//	    hook.NewOutputValidationHook(core.HookTestStepEnd, hook.RequireValues("loss")),
//	)
//
// Step-end hooks receive the step output in Context.Output and may replace it;
// the chained result is what the loop aggregates.
package hook
