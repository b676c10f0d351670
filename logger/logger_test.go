package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/warmbox/config"
)

func TestLoggerNew(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		level   string
		enabled zapcore.Level
		wantErr string
	}{
		{name: "development debug", mode: "development", level: "debug", enabled: zapcore.DebugLevel},
		{name: "production info", mode: "production", level: "info", enabled: zapcore.InfoLevel},
		{name: "production error", mode: "production", level: "error", enabled: zapcore.ErrorLevel},
		{name: "invalid mode", mode: "verbose", level: "info", wantErr: "invalid logging mode"},
		{name: "invalid level", mode: "production", level: "loud", wantErr: "invalid logging level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.mode, tt.level)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			if tt.enabled > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.enabled-1))
			}
			_ = logger.Sync()
		})
	}
}

func TestLoggerNewFromConfig(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		logger, err := NewFromConfig(&config.Config{
			Logging: config.LoggingConfig{Mode: "development", Level: "warn"},
		})
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		_, err := NewFromConfig(&config.Config{
			Logging: config.LoggingConfig{Mode: "invalid_mode", Level: "info"},
		})
		assert.Error(t, err)
	})
}
