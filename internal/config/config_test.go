package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 64, cfg.Mesh.InboxSize)
	assert.Equal(t, 10*time.Second, cfg.Mesh.RequestTimeout.Duration())
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, int64(8), cfg.Fleet.MaxConcurrentCycles)
	assert.Equal(t, "meshd", cfg.Telemetry.ServiceName)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"inbox non-positive", func(c *Config) { c.Mesh.InboxSize = -1 }},
		{"bad telemetry protocol", func(c *Config) { c.Telemetry.Protocol = "carrier-pigeon" }},
		{"sample rate above one", func(c *Config) { c.Telemetry.SampleRate = 1.5 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "blaring" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")), "negative durations rejected")
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())

	out, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	assert.Equal(t, "", Secret("").String(), "empty secret stays empty")
}
