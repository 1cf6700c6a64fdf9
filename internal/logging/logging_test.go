package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want zapcore.Level
	}{
		{"default", Options{}, zapcore.InfoLevel},
		{"named", Options{Level: "warn"}, zapcore.WarnLevel},
		{"verbose wins", Options{Level: "error", Verbose: true}, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.opts)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpuctl.log")

	logger, err := New(Options{File: path})
	require.NoError(t, err)
	logger.Info("backend bound", zap.String("backend", "simulated"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"backend":"simulated"`), string(data))
}
