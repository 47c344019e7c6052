package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		level   string
		enabled zapcore.Level
		hidden  zapcore.Level
		wantErr bool
	}{
		{name: "dev defaults to debug", env: "dev", enabled: zapcore.DebugLevel, hidden: zapcore.DebugLevel - 1},
		{name: "prod defaults to info", env: "prod", enabled: zapcore.InfoLevel, hidden: zapcore.DebugLevel},
		{name: "explicit level", env: "dev", level: "warn", enabled: zapcore.WarnLevel, hidden: zapcore.InfoLevel},
		{name: "bad level", env: "dev", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.env, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.hidden))
		})
	}
}
