package observ

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		env, level string
		want       zapcore.Level
	}{
		{"development", "debug", zapcore.DebugLevel},
		{"production", "warn", zapcore.WarnLevel},
		{"production", "nonsense", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		logger, err := NewLogger("canteen-test", tt.env, tt.level)
		if err != nil {
			t.Fatalf("NewLogger(%q, %q): %v", tt.env, tt.level, err)
		}
		if !logger.Core().Enabled(tt.want) {
			t.Errorf("%s/%s: level %s should be enabled", tt.env, tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
			t.Errorf("%s/%s: level %s should be disabled", tt.env, tt.level, tt.want-1)
		}
	}
}
