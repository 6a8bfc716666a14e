package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerLevelOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	require.NoError(t, InitLogger("development"))
	assert.False(t, GetLogger().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, GetLogger().Core().Enabled(zapcore.WarnLevel))
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "shouting")

	assert.Error(t, InitLogger("development"))
}

func TestGetLoggerBeforeInit(t *testing.T) {
	logger = nil
	assert.NotNil(t, GetLogger())
}
