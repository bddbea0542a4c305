package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigureLevel(t *testing.T) {
	defer Initialise(zapcore.InfoLevel, "console")

	config := Config{Level: "warn", Format: "console"}
	require.NoError(t, config.Configure())
	require.False(t, DebugEnabled())
	require.False(t, Named("test").Desugar().Core().Enabled(zap.InfoLevel))
	require.True(t, Named("test").Desugar().Core().Enabled(zap.WarnLevel))

	config = Config{Level: "debug", Format: "json"}
	require.NoError(t, config.Configure())
	require.True(t, DebugEnabled())
	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warnf("warn %d", 3)
	Errorf("error %d", 4)
}

func TestConfigureWhileLogging(t *testing.T) {
	defer Initialise(zapcore.InfoLevel, "console")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if DebugEnabled() {
				Debugf("line %d", i)
			}
		}
	}()
	for _, level := range []string{"debug", "warn", "info"} {
		config := Config{Level: level, Format: "console"}
		require.NoError(t, config.Configure())
	}
	<-done
}

func TestConfigureRejectsBadInput(t *testing.T) {
	config := Config{Level: "loud", Format: "console"}
	require.Error(t, config.Configure())

	config = Config{Level: "info", Format: "xml"}
	err := config.Configure()
	require.Error(t, err)
	require.Contains(t, err.Error(), "log-format")
}
