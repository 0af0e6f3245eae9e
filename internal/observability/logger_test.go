// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/droidpilot/internal/config"
)

// syncBuffer is a goroutine-safe WriteSyncer for capturing console output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Sync() error { return nil }

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func setupLogger(t *testing.T, cfg config.LoggerConfig) *syncBuffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	out := &syncBuffer{}
	Initialize(cfg, zapcore.AddSync(out))
	return out
}

func TestInitializeConsoleWithColors(t *testing.T) {
	out := setupLogger(t, config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "TestService",
		Colors:      config.ColorConfig{Info: "green"},
	})

	GetLogger().Info("This is a test message.")
	Sync()

	output := out.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "This is a test message.")
	assert.Contains(t, output, colorGreen, "Info level should be colorized green")
	assert.Contains(t, output, colorReset)
	assert.Contains(t, output, "TestService.")
}

func TestInitializeJSON(t *testing.T) {
	out := setupLogger(t, config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "JSONTest",
	})

	GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
	Sync()

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &logEntry))

	assert.Equal(t, "warn", logEntry["level"])
	assert.Equal(t, "JSONTest", logEntry["logger"])
	assert.Equal(t, "This is a JSON message.", logEntry["msg"])
	assert.Equal(t, "value", logEntry["key"])
}

func TestInitializeRespectsLevel(t *testing.T) {
	out := setupLogger(t, config.LoggerConfig{Level: "warn", Format: "json"})

	GetLogger().Info("hidden")
	GetLogger().Error("shown")
	Sync()

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestInitializeOnlyOnce(t *testing.T) {
	first := setupLogger(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"})
	second := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, zapcore.AddSync(second))

	GetLogger().Info("hello")
	Sync()

	assert.Contains(t, first.String(), "first")
	assert.Empty(t, second.String())
}

func TestWorkerLogFile(t *testing.T) {
	stateDir := t.TempDir()
	cfg := WorkerLogConfig(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "droidpilot", MaxSize: 1}, stateDir, "w01")

	assert.Equal(t, filepath.Join(stateDir, "logs", "w01.log"), cfg.LogFile)
	assert.Equal(t, "droidpilot.w01", cfg.ServiceName)

	setupLogger(t, cfg)
	GetLogger().Info("Message to file.")
	Sync()

	content, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"Message to file."`)
	assert.Contains(t, string(content), `"logger":"droidpilot.w01"`)
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Info("fallback works") })
	assert.NotPanics(t, Sync)
}
