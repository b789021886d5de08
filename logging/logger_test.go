package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(buf *bytes.Buffer) *MeshLogger {
	return NewLogger(&LoggerConfig{
		Level:  LogLevelDebug,
		Format: "text",
		Output: buf,
	})
}

func TestMeshLoggerAttachesContext(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogger(&buf).WithComponent("engine").WithContextID("ctx-1")

	l.Info("engine started")

	out := buf.String()
	assert.Contains(t, out, "engine started")
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "context_id=ctx-1")
}

func TestMeshLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})

	l.Debug("too quiet")
	l.Info("still too quiet")
	l.Warn("heard")

	out := buf.String()
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "heard")
}

func TestLogBackendCallLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogger(&buf)

	l.LogBackendCall("claude-x", 10*time.Millisecond, true, nil)
	assert.Contains(t, buf.String(), "Backend call completed")
	assert.Contains(t, buf.String(), "model=claude-x")

	buf.Reset()
	l.LogBackendCall("claude-x", time.Millisecond, false, errors.New("overloaded"))
	assert.Contains(t, buf.String(), "Backend call failed")
	assert.Contains(t, buf.String(), "overloaded")
}

func TestLogEngineRun(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogger(&buf)

	l.LogEngineRun("js", 2*time.Millisecond, true, nil)
	assert.Contains(t, buf.String(), "Engine run completed")
	assert.Contains(t, buf.String(), "engine=js")
}

func TestStartTimerLogsDuration(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferedLogger(&buf)

	done := l.StartTimer("dispatch")
	done()

	assert.Contains(t, buf.String(), "Operation completed")
}

func TestSlogAdapterSatisfiesLogger(t *testing.T) {
	var _ Logger = NewDefaultSlogLogger()
	var _ Logger = NoOpLogger{}
	var _ Logger = NewSlogLogger(LogLevelInfo, "text", false)

	require.Equal(t, "WARN", LogLevelWarn.String())
}
