package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceCapturesEntries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Debug("dropped")
	Info("[speech] synthesized", zap.String("provider", "nemesys"))
	Warn("[avatar] task timed out", zap.Int("attempts", 10))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "[speech] synthesized", entries[0].Message)
	assert.Equal(t, "nemesys", entries[0].ContextMap()["provider"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestBuildFallsBackToInfo(t *testing.T) {
	l := build("not-a-level", "json")
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l = build("debug", "console")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}
