// Package artifact contains implementations of core.ArtifactStore.
//
// The evaluation loop persists prediction collections through this interface,
// one artifact per process rank. The interface lives in core so backends can
// be swapped without touching the loop or the evaluator.
package artifact
