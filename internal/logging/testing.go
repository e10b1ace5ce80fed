package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger returns a logger that records entries in memory.
// The returned observer can be inspected with assertions in tests.
func NewTestLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(TraceLevel)
	return &Logger{
		zap:    zap.New(core),
		config: NewDefaultConfig(),
	}, logs
}

// NewNopLogger returns a logger that discards all output.
func NewNopLogger() *Logger {
	return &Logger{
		zap:    zap.New(zapcore.NewNopCore()),
		config: NewDefaultConfig(),
	}
}
