package logger_test

import (
	"testing"

	"github.com/huntred/billing-engine/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, logger.ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, logger.ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, logger.ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, logger.ParseLevel("bogus"))
}

func TestInit_SetsGlobalLevel(t *testing.T) {
	l, err := logger.Init(logger.Config{Level: "warn", JSON: true})
	require.NoError(t, err)

	assert.Same(t, l, logger.Log)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestOrNop_NilGivesUsableLogger(t *testing.T) {
	l := logger.OrNop(nil)
	require.NotNil(t, l)
	l.Info("dropped")
}
