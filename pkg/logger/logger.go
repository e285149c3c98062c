package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base *zap.Logger
)

func init() {
	base = build(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// build 根据级别与格式构建 zap logger，未知值回退到 info/console。
func build(level, format string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if !strings.EqualFold(strings.TrimSpace(format), "json") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Configure 重新按配置构建全局 logger，通常在加载 .env 之后调用。
func Configure(level, format string) {
	l := build(level, format)
	mu.Lock()
	old := base
	base = l
	mu.Unlock()
	_ = old.Sync()
}

// Replace swaps the global logger, mainly for tests.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := base
	base = l
	mu.Unlock()
	return func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	}
}

// L returns the current global logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// Sync flushes buffered log entries.
func Sync() {
	_ = L().Sync()
}
