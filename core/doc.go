// Package core provides the foundational domain types and collaborator
// interfaces used by evalmesh. It defines the core abstractions for:
//
//   - Batches, step arguments and step outputs exchanged with a model adapter
//   - RunMode (validation vs test) resolved once per run
//   - Host collaborators (DataSource, ModelAdapter, HookHost, MetricsRecorder,
//     Profiler, DebugTracker, ArtifactStore)
//   - The error taxonomy shared by the loop and its collaborators
//
// The package intentionally keeps implementation concerns (iteration control,
// metric backends, concrete adapters) out of scope, exposing small interfaces
// so hosts can plug in their own backends.
package core
