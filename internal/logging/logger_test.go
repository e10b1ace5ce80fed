package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_DefaultConfig(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)

	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Level = "shouting" }},
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			_, err := NewLogger(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	logger, logs := NewTestLogger()

	ctx := WithAgentID(context.Background(), "cache-agent")
	ctx = WithRequestID(ctx, "req-42")

	logger.Info(ctx, "cycle complete", zap.Int("findings", 3))

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "cache-agent", fields["agent.id"])
	assert.Equal(t, "req-42", fields["request.id"])
	assert.Equal(t, int64(3), fields["findings"])
}

func TestLogger_TraceLevelGated(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)

	// Default level is info; trace must be suppressed without panicking.
	logger.Trace(context.Background(), "mesh delivery", zap.String("to", "a"))
	assert.False(t, logger.Enabled(TraceLevel))
}

func TestLogger_WithAndNamed(t *testing.T) {
	logger, logs := NewTestLogger()

	child := logger.With(zap.String("component", "mesh")).Named("mesh")
	child.Info(context.Background(), "registered")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "mesh", entries[0].LoggerName)
	assert.Equal(t, "mesh", entries[0].ContextMap()["component"])
}
