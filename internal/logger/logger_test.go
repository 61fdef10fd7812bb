package logger

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		l, err := New(Config{Level: "info", Format: "json"})
		require.NoError(t, err)
		assert.NotNil(t, l.Logger)
	})

	t.Run("console with file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sentinel.log")
		l, err := New(Config{Level: "debug", Format: "console", File: &FileConfig{Enabled: true, Path: path}})
		require.NoError(t, err)
		l.Info("hello")
		assert.FileExists(t, path)
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		assert.Error(t, err)
	})
}

func TestContextHelpers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := &Logger{Logger: zap.New(core)}

	l.WithComponent("proxy").WithRequestID("req-1").WithSession("abcd").Info("done")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "proxy", fields["component"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "abcd", fields["session_id"])
}

func TestLogRequestRedactsCredentials(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := &Logger{Logger: zap.New(core)}

	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Content-Type", "application/json")
	l.LogRequest("POST", "/v1/anonymize", h, 42)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	headers := entry.ContextMap()["headers"].(map[string]string)
	assert.Equal(t, "[REDACTED]", headers["Authorization"])
	assert.Equal(t, "application/json", headers["Content-Type"])
	assert.Equal(t, int64(42), entry.ContextMap()["body_size"])
}
