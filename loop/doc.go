// Package loop implements the evaluation loop: a bounded, hook-driven
// iteration controller that pulls batches from a data source, dispatches them
// to a model adapter's validation or test step, fires host hooks around every
// batch in a fixed order, folds step outputs into an epoch-level result and, in
// test mode, captures predictions.
//
// Per batch the loop performs, exactly once and in this order:
//
//  1. metrics OnEvaluationBatchStart, hook on_{mode}_batch_start
//  2. {mode}_step (profiled), then hook {mode}_step_end
//  3. hook on_{mode}_batch_end
//  4. prediction capture (test mode) and the debug tracker side channel
//  5. metrics LogEvaluationStepMetrics, then output aggregation
//
// A run moves through Idle → Running → Done. Reaching MaxBatches, source
// exhaustion and a nil batch (under the default NilBatchStop policy) all end a
// run normally. Errors from the adapter, hooks or source are returned to the
// caller unmodified; calling Advance before Reset yields a
// *core.ConfigurationError.
//
// The loop is single-threaded: one Advance completes before the next begins.
// Instances share no mutable state; run one instance per shard.
package loop
