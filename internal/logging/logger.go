// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options tune the logger built by New.
type Options struct {
	// Development selects the console encoder with coloured levels.
	Development bool
	// Level is a zap level name; empty means info.
	Level string
	// Stderr routes output to stderr so stdout stays free for rendered views.
	Stderr bool
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.Level = zap.NewAtomicLevelAt(level)
	if opts.Stderr {
		cfg.OutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
