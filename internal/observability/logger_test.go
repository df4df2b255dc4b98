package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recodarr/internal/config"
)

func newTestLogger(t *testing.T, cfg config.LoggingConfig) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewLoggerWithWriter(cfg, &buf), &buf
}

func TestNewLoggerFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		check  func(t *testing.T, output string)
	}{
		{
			name:   "json format",
			format: "json",
			check: func(t *testing.T, output string) {
				var entry map[string]any
				require.NoError(t, json.Unmarshal([]byte(output), &entry))
				assert.Equal(t, "hello", entry["msg"])
			},
		},
		{
			name:   "text format",
			format: "text",
			check: func(t *testing.T, output string) {
				assert.Contains(t, output, "msg=hello")
			},
		},
		{
			name:   "unknown format defaults to json",
			format: "yaml",
			check: func(t *testing.T, output string) {
				var entry map[string]any
				require.NoError(t, json.Unmarshal([]byte(output), &entry))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: tt.format})
			logger.Info("hello")
			tt.check(t, buf.String())
		})
	}
}

func TestLogLevelFiltering(t *testing.T) {
	logger, buf := newTestLogger(t, config.LoggingConfig{Level: "warn", Format: "json"})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
}

func TestSensitiveDataRedaction(t *testing.T) {
	logger, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "json"})

	logger.Info("connecting",
		slog.String("host", "nas.local"),
		slog.String("password", "hunter2"),
		slog.String("sftp_password", "hunter3"),
		slog.String("api_key", "abc123"),
		slog.String("token", "xyz789"),
		slog.String("credential", "creds"),
	)

	output := buf.String()
	assert.Contains(t, output, "nas.local")
	assert.Contains(t, output, Redacted)
	assert.NotContains(t, output, "hunter2")
	assert.NotContains(t, output, "hunter3")
	assert.NotContains(t, output, "abc123")
	assert.NotContains(t, output, "xyz789")
	assert.NotContains(t, output, "creds")
}

func TestWithHelpers(t *testing.T) {
	logger, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "json"})

	WithError(WithJob(WithComponent(logger, "queue"), 42), errors.New("boom")).Info("job failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "queue", entry["component"])
	assert.Equal(t, float64(42), entry["job_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithErrorNil(t *testing.T) {
	logger, buf := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "json"})
	WithError(logger, nil).Info("fine")
	assert.NotContains(t, buf.String(), "error")
}

func TestLoggerContext(t *testing.T) {
	logger, _ := newTestLogger(t, config.LoggingConfig{Level: "info", Format: "json"})

	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))

	// Falls back to default when absent.
	assert.NotNil(t, LoggerFromContext(context.Background()))
}

func TestRequestIDContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestTimedOperationWithError(t *testing.T) {
	logger, buf := newTestLogger(t, config.LoggingConfig{Level: "debug", Format: "json"})

	var err error
	done := TimedOperationWithError(context.Background(), logger, "encode", &err)
	err = errors.New("encoder exploded")
	done()

	output := buf.String()
	assert.Contains(t, output, "operation failed")
	assert.Contains(t, output, "encoder exploded")
}

func TestNewRotatingWriterDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggingConfig{File: filepath.Join(dir, "recodarr.log")}

	w := NewRotatingWriter(cfg)
	_, err := w.Write([]byte("rotated output\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "rotated output"))
}
