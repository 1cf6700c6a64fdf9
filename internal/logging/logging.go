// Package logging builds the zap logger shared by the gpuctl commands.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is a zap level name; empty means info.
	Level string
	// Verbose forces debug level.
	Verbose bool
	// File receives log output in addition to stderr.
	File string
}

// New builds a production logger.
func New(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)

	if opts.File != "" {
		config.OutputPaths = append(config.OutputPaths, opts.File)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
