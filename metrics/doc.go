// Package metrics implements core.MetricsRecorder backends.
//
// Recorder keeps step metrics in memory and computes batch-size weighted epoch
// means per source. PrometheusRecorder exports the same notifications as
// Prometheus collectors. Multi fans out to several backends.
package metrics
