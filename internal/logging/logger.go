// Package logging builds the zap loggers used across the harvest pipeline.
// Every stage logs through a child of the logger built here, carrying the
// run id, gnis, and hash-key fields that make interrupted runs resumable.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for the requested mode. Development mode uses the
// console encoder with colored levels; production mode emits JSON with
// stacktraces on errors, suitable for log aggregation.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}
	return logger, nil
}
