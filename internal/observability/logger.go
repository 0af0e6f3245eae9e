// Package observability owns the process-wide zap logger. The orchestrator
// and every worker process build one at startup from the logger section of
// the configuration.
package observability

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/droidpilot/internal/config"
)

var (
	current  atomic.Pointer[zap.Logger]
	initOnce sync.Once
)

const (
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorReset   = "\x1b[0m"
)

var namedColors = map[string]string{
	"red":     colorRed,
	"green":   colorGreen,
	"yellow":  colorYellow,
	"blue":    colorBlue,
	"magenta": colorMagenta,
	"cyan":    colorCyan,
	"white":   colorWhite,
}

// Initialize installs the global logger. Console lines go to consoleWriter,
// and to a rotated JSON file as well when cfg.LogFile is set. Later calls are
// ignored until ResetForTest.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	initOnce.Do(func() {
		logger := newLogger(cfg, consoleWriter)
		current.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger writes the console stream to stderr, leaving stdout to
// command output.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stderr))
}

// WorkerLogConfig derives the logger configuration of a worker process. Each
// worker writes its own rotated file under <stateDir>/logs.
func WorkerLogConfig(base config.LoggerConfig, stateDir, workerID string) config.LoggerConfig {
	cfg := base
	cfg.LogFile = WorkerLogPath(stateDir, workerID)
	cfg.ServiceName = base.ServiceName + "." + workerID
	return cfg
}

// WorkerLogPath is where the worker with the given id writes its log.
func WorkerLogPath(stateDir, workerID string) string {
	return filepath.Join(stateDir, "logs", workerID+".log")
}

// ResetForTest drops the global logger so the next Initialize takes effect.
func ResetForTest() {
	current.Store(nil)
	initOnce = sync.Once{}
}

func newLogger(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	_ = level.UnmarshalText([]byte(cfg.Level))

	cores := []zapcore.Core{zapcore.NewCore(newEncoder(cfg.Format, cfg.Colors), consoleWriter, level)}
	if cfg.LogFile != "" {
		cores = append(cores, zapcore.NewCore(newEncoder("json", cfg.Colors), rotatingFile(cfg), level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...).Named(cfg.ServiceName)
}

func rotatingFile(cfg config.LoggerConfig) zapcore.WriteSyncer {
	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// levelColor encodes the level in upper case, wrapped in its configured color.
func levelColor(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  namedColors[colors.Debug],
		zapcore.InfoLevel:   namedColors[colors.Info],
		zapcore.WarnLevel:   namedColors[colors.Warn],
		zapcore.ErrorLevel:  namedColors[colors.Error],
		zapcore.DPanicLevel: namedColors[colors.DPanic],
		zapcore.PanicLevel:  namedColors[colors.Panic],
		zapcore.FatalLevel:  namedColors[colors.Fatal],
	}
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := l.CapitalString()
		if c := byLevel[l]; c != "" {
			name = c + name + colorReset
		}
		enc.AppendString(name)
	}
}

// newEncoder returns the single-line colorized encoder for "console" and JSON
// for anything else.
func newEncoder(format string, colors config.ColorConfig) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if format != "console" {
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = levelColor(colors)
	// "droidpilot.w03.session." keeps the component apart from the message.
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// GetLogger returns the global logger, or a development logger named
// "fallback" when Initialize has not run.
func GetLogger() *zap.Logger {
	if logger := current.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Logger used before initialization.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Call it before the process exits.
func Sync() {
	logger := current.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !benignSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// benignSyncError reports errors from fsync on terminals and pipes.
func benignSyncError(err error) bool {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.ENOTSUP) {
		return true
	}
	return strings.Contains(err.Error(), "sync /dev/std")
}
