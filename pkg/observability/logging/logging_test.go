package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLevel(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	require.NoError(t, Init("warn"))
	require.False(t, zap.L().Core().Enabled(zapcore.InfoLevel))
	require.True(t, zap.L().Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, Init(""))
	require.True(t, zap.L().Core().Enabled(zapcore.DebugLevel))
}

func TestInitBadLevel(t *testing.T) {
	require.Error(t, Init("chatty"))
}
