// Package logging provides a minimal logging interface and adapters for evalmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the evaluation loop and its collaborators use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - EvalLogger, a slog-backed logger with run/step helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	l := loop.NewDefault(func(o *loop.Options) { o.Logger = logger })
//
// The interface is kept minimal to avoid vendor lock-in while supporting
// structured key/value logging where available.
package logging
