package events_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenergy/scenesync/internal/config"
	"github.com/scenergy/scenesync/internal/events"
)

func TestNewLogger(t *testing.T) {
	cfg := &config.LogConfig{
		Level:  "debug",
		Format: "json",
		File:   "",
	}

	logger, err := events.NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	logger.WithField("component", "sync").Info("test message")

	output := buf.String()
	assert.Contains(t, output, `"component":"sync"`)
	assert.Contains(t, output, `"msg":"test message"`)
	assert.Contains(t, output, `"level":"info"`)
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	fields := map[string]interface{}{
		"client_id":  "client-123",
		"session_id": "session-456",
	}

	logger.WithFields(fields).Info("multi-field test")

	output := buf.String()
	assert.Contains(t, output, `"client_id":"client-123"`)
	assert.Contains(t, output, `"session_id":"session-456"`)
	assert.Contains(t, output, `"msg":"multi-field test"`)
}

func TestLoggerFieldChainingDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := events.NewTestLogger(events.InfoLevel, "json", &buf)

	_ = parent.WithField("job_id", "job-1")
	parent.Info("parent message")

	assert.NotContains(t, buf.String(), "job_id")
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  events.LogLevel
		msgLevel  events.LogLevel
		shouldLog bool
	}{
		{"debug logger, debug message", events.DebugLevel, events.DebugLevel, true},
		{"debug logger, info message", events.DebugLevel, events.InfoLevel, true},
		{"info logger, debug message", events.InfoLevel, events.DebugLevel, false},
		{"info logger, info message", events.InfoLevel, events.InfoLevel, true},
		{"error logger, warn message", events.ErrorLevel, events.WarnLevel, false},
		{"error logger, error message", events.ErrorLevel, events.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := events.NewTestLogger(tt.logLevel, "text", &buf)

			switch tt.msgLevel {
			case events.DebugLevel:
				logger.Debug("test debug")
			case events.InfoLevel:
				logger.Info("test info")
			case events.WarnLevel:
				logger.Warn("test warn")
			case events.ErrorLevel:
				logger.Error("test error")
			}

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "text", &buf)

	logger.WithField("key", "value").Info("test message")

	output := buf.String()
	assert.Contains(t, output, "[INFO]")
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestLoggerJSONKeyOrderStable(t *testing.T) {
	var first, second bytes.Buffer

	events.NewTestLogger(events.InfoLevel, "json", &first).
		WithFields(map[string]interface{}{"b": 2, "a": 1}).Info("ordered")
	events.NewTestLogger(events.InfoLevel, "json", &second).
		WithFields(map[string]interface{}{"a": 1, "b": 2}).Info("ordered")

	assert.Contains(t, first.String(), `"a":1,"b":2`)
	assert.Contains(t, second.String(), `"a":1,"b":2`)
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	err := assert.AnError
	logger.WithError(err).Error("operation failed")

	output := buf.String()
	assert.Contains(t, output, `"error":"assert.AnError general error for testing"`)
	assert.Contains(t, output, `"msg":"operation failed"`)
	assert.Contains(t, output, `"level":"error"`)
}

func TestLoggerWithNilError(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	logger.WithError(nil).Info("fine")

	assert.NotContains(t, buf.String(), `"error"`)
}

func TestDiscardLoggerWritesNothing(t *testing.T) {
	logger := events.Discard()
	logger.Error("dropped")
	// No output sink to inspect; the call must simply not panic.
	assert.NotNil(t, logger)
}
