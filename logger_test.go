package mqtt311

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "INFO", LogLevelInfo.String())
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
	assert.Equal(t, "NONE", LogLevelNone.String())
	assert.Equal(t, "UNKNOWN", LogLevel(99).String())
}

func TestStdLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(&buf, LogLevelWarn)

	l.Debug("debug msg", nil)
	l.Info("info msg", nil)
	assert.Empty(t, buf.String())

	l.Warn("warn msg", nil)
	l.Error("error msg", nil)

	out := buf.String()
	assert.Contains(t, out, "[WARN] warn msg")
	assert.Contains(t, out, "[ERROR] error msg")
}

func TestStdLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(&buf, LogLevelDebug)

	l.Info("connected", LogFields{"client_id": "c1", "attempt": 3})

	out := buf.String()
	assert.Contains(t, out, "[INFO] connected")
	// Fields print in sorted key order
	assert.Contains(t, out, "attempt=3 client_id=c1")
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	l.Debug("x", nil)
	l.Info("x", nil)
	l.Warn("x", nil)
	l.Error("x", nil)
}
