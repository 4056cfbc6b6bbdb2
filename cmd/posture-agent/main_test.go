package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posturewatch/internal/config"
)

// loadTestConfig builds a Config from a clean environment: the camera points
// at an empty temp dir and the stub classifier is on unless overridden.
func loadTestConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	t.Setenv("CAMERA_URL", t.TempDir())
	t.Setenv("CLASSIFIER_STUB", "true")
	t.Setenv("PORT", "0")
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNewLogger_StdoutOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, closeLog := newLogger(config.LogConfig{Level: "warn"}, &buf)
	defer closeLog()

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestNewLogger_AlsoWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	var buf bytes.Buffer

	logger, closeLog := newLogger(config.LogConfig{
		Level:      "info",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	}, &buf)
	logger.Info("session started", "session_id", "sess-1")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"sess-1"`)
	assert.Equal(t, buf.String(), string(data))
}

func TestBuildApp_StubClassifier(t *testing.T) {
	cfg := loadTestConfig(t, nil)

	a, err := buildApp(cfg, quietLogger(), awsClients{})
	require.NoError(t, err)
	assert.Nil(t, a.metrics)
	assert.Empty(t, a.server.HealthProbes)

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Active  bool   `json:"active"`
			Message string `json:"message"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Data.Active)
	assert.Equal(t, "Monitoring stopped", body.Data.Message)
}

func TestBuildApp_RemoteClassifierAddsHealthProbe(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{
		"CLASSIFIER_STUB": "false",
		"CLASSIFIER_URL":  "http://classifier.local:8000",
	})

	a, err := buildApp(cfg, quietLogger(), awsClients{})
	require.NoError(t, err)
	require.Len(t, a.server.HealthProbes, 1)
	assert.Equal(t, "classifier", a.server.HealthProbes[0].Name())
}

func TestBuildApp_UnsupportedCameraScheme(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{"CAMERA_URL": "rtsp://camera.local/stream"})

	_, err := buildApp(cfg, quietLogger(), awsClients{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera source")
}

func TestAlertChannels(t *testing.T) {
	t.Run("audio only by default", func(t *testing.T) {
		cfg := loadTestConfig(t, nil)
		channels := alertChannels(cfg, quietLogger(), awsClients{})
		require.Len(t, channels, 1)
		assert.Equal(t, "audio", channels[0].Name())
	})

	t.Run("webhook when configured", func(t *testing.T) {
		cfg := loadTestConfig(t, map[string]string{"ALERT_WEBHOOK_URL": "https://hooks.slack.com/services/T/B/X"})
		channels := alertChannels(cfg, quietLogger(), awsClients{})
		require.Len(t, channels, 2)
		assert.Equal(t, "webhook", channels[1].Name())
	})
}

func TestLoadAWSClients_SkippedWhenUnused(t *testing.T) {
	cfg := loadTestConfig(t, nil)

	clients, err := loadAWSClients(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, clients.cloudwatch)
	assert.Nil(t, clients.sqs)
}

func TestServe_StopsOnCancel(t *testing.T) {
	// Autostart against an empty frame directory fails but must not stop
	// the agent.
	cfg := loadTestConfig(t, map[string]string{"AUTOSTART": "true"})

	a, err := buildApp(cfg, quietLogger(), awsClients{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.serve(ctx) }()

	require.Eventually(t, func() bool {
		return a.monitor.Status().Error != ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, a.monitor.Status().Active)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("serve did not return after cancel")
	}
}
