package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Logger = (*EvalLogger)(nil)
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = NoOpLogger{}

	_ StepLogger = (*EvalLogger)(nil)
)

func newBufferLogger(level LogLevel) (*EvalLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Output = buf
	cfg.Level = level
	return NewLogger(cfg), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestEvalLogger_KeyValueArgsAndContext(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	l.WithComponent("loop").WithRun("run-1", "test").WithContext("rank", 2).Info("run started", "max_batches", 3)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "run started", lines[0]["msg"])
	assert.Equal(t, "loop", lines[0]["component"])
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "test", lines[0]["mode"])
	assert.Equal(t, float64(2), lines[0]["rank"])
	assert.Equal(t, float64(3), lines[0]["max_batches"])
}

func TestEvalLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("shown too")
	assert.Len(t, decodeLines(t, buf), 2)
}

func TestEvalLogger_WithDoesNotMutateParent(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	_ = l.WithContext("k", "v").WithComponent("child")
	l.Info("parent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "k")
	assert.NotContains(t, lines[0], "component")
}

func TestEvalLogger_LogStepAndRun(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)
	l.LogStep(1, 0, time.Millisecond, nil)
	l.LogStep(2, 0, time.Millisecond, errors.New("boom"))
	l.LogRun(3, time.Second, nil)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "Evaluation step completed", lines[0]["msg"])
	assert.Equal(t, "Evaluation step failed", lines[1]["msg"])
	assert.Equal(t, "boom", lines[1]["error"])
	assert.Equal(t, "Evaluation run completed", lines[2]["msg"])
	assert.Equal(t, float64(3), lines[2]["batch_count"])
}

func TestEvalLogger_LogStepQuietAboveDebug(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	l.LogStep(0, 0, time.Millisecond, nil)
	assert.Empty(t, buf.String())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLogLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("nonsense"))
}

func TestArgsToAttrs_BadKey(t *testing.T) {
	attrs := argsToAttrs([]any{"a", 1, 42, "dangling"})
	require.Len(t, attrs, 3)
	assert.Equal(t, "a", attrs[0].Key)
	assert.Equal(t, "!BADKEY", attrs[1].Key)
	assert.Equal(t, "!BADKEY", attrs[2].Key)
}
