package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger creates a logger that writes to stderr, so that stdout only contains the command's output.
// logLevel and logEncoding must have been validated before.
func newLogger(logLevel, logEncoding string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.Encoding = logEncoding
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if logEncoding == "console" {
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	// Sampling drops repeated debug logs of prefetching
	logConfig.Sampling = nil
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.ErrorOutputPaths = []string{"stderr"}
	return logConfig.Build()
}
