// Package config provides configuration loading for meshd.
//
// Configuration is read from a YAML file (~/.config/meshd/config.yaml by
// default) and overridden by MESHD_-prefixed environment variables, e.g.
// MESHD_SERVER_PORT=9090 maps to server.port.
package config

import (
	"fmt"
	"time"

	"github.com/meshwork-labs/meshd/internal/logging"
)

// Config is the root meshd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Mesh        MeshConfig        `koanf:"mesh"`
	Cache       CacheConfig       `koanf:"cache"`
	LLM         LLMConfig         `koanf:"llm"`
	TTS         TTSConfig         `koanf:"tts"`
	Fleet       FleetConfig       `koanf:"fleet"`
	Audit       AuditConfig       `koanf:"audit"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Podcast     PodcastConfig     `koanf:"podcast"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Logging     logging.Config    `koanf:"logging"`
}

// ServerConfig configures the HTTP/WebSocket API server.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// MeshConfig configures the in-process meshwork.
type MeshConfig struct {
	InboxSize      int          `koanf:"inbox_size"`
	RequestTimeout Duration     `koanf:"request_timeout"`
	EventBuffer    int          `koanf:"event_buffer"`
	Bridge         BridgeConfig `koanf:"bridge"`
}

// BridgeConfig configures the optional NATS bridge.
type BridgeConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
}

// CacheConfig configures the Redis-backed cache.
type CacheConfig struct {
	Addr       string   `koanf:"addr"`
	Password   Secret   `koanf:"password"`
	DB         int      `koanf:"db"`
	DefaultTTL Duration `koanf:"default_ttl"`
	// FallbackMaxEntries bounds the in-process fallback used when Redis
	// is unreachable.
	FallbackMaxEntries int `koanf:"fallback_max_entries"`
}

// LLMConfig configures the OpenAI-compatible LLM backend.
type LLMConfig struct {
	BaseURL  string   `koanf:"base_url"`
	APIKey   Secret   `koanf:"api_key"`
	Model    string   `koanf:"model"`
	Timeout  Duration `koanf:"timeout"`
	CacheTTL Duration `koanf:"cache_ttl"`
}

// TTSConfig configures the TTS HTTP endpoint.
type TTSConfig struct {
	URL           string   `koanf:"url"`
	Voice         string   `koanf:"voice"`
	Timeout       Duration `koanf:"timeout"`
	CacheTTL      Duration `koanf:"cache_ttl"`
	MaxAudioBytes int64    `koanf:"max_audio_bytes"`
	// RequestsPerSecond rate-limits synthesis calls; 0 disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// FleetConfig configures the autonomy fleet controller.
type FleetConfig struct {
	Enabled             bool     `koanf:"enabled"`
	MaxConcurrentCycles int64    `koanf:"max_concurrent_cycles"`
	DefaultInterval     Duration `koanf:"default_interval"`
	// Only run agents whose type matches one of these prefixes; empty
	// runs the whole catalog.
	TypePrefixes []string `koanf:"type_prefixes"`
}

// AuditConfig configures scheduled codebase audits.
type AuditConfig struct {
	Roots       []string `koanf:"roots"`
	Interval    Duration `koanf:"interval"`
	Patterns    []string `koanf:"patterns"`
	Watch       bool     `koanf:"watch"`
	Debounce    Duration `koanf:"debounce"`
	MaxFindings int      `koanf:"max_findings"`
}

// VectorStoreConfig configures the embedded chromem-go store.
type VectorStoreConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
	// Embeddings come from an OpenAI-compatible endpoint. When BaseURL is
	// empty a deterministic local embedding is used (tests, air-gapped).
	EmbeddingBaseURL string `koanf:"embedding_base_url"`
	EmbeddingAPIKey  Secret `koanf:"embedding_api_key"`
	EmbeddingModel   string `koanf:"embedding_model"`
}

// PodcastConfig configures the episode producer.
type PodcastConfig struct {
	OutputDir   string `koanf:"output_dir"`
	HostVoice   string `koanf:"host_voice"`
	GuestVoice  string `koanf:"guest_voice"`
	MaxSegments int    `koanf:"max_segments"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"`
	Insecure       bool    `koanf:"insecure"`
	TLSSkipVerify  bool    `koanf:"tls_skip_verify"`
	SampleRate     float64 `koanf:"sample_rate"`
}

// applyDefaults fills zero values with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(15 * time.Second)
	}

	if cfg.Mesh.InboxSize == 0 {
		cfg.Mesh.InboxSize = 64
	}
	if cfg.Mesh.RequestTimeout == 0 {
		cfg.Mesh.RequestTimeout = Duration(10 * time.Second)
	}
	if cfg.Mesh.EventBuffer == 0 {
		cfg.Mesh.EventBuffer = 256
	}
	if cfg.Mesh.Bridge.URL == "" {
		cfg.Mesh.Bridge.URL = "nats://localhost:4222"
	}

	if cfg.Cache.Addr == "" {
		cfg.Cache.Addr = "localhost:6379"
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = Duration(time.Hour)
	}
	if cfg.Cache.FallbackMaxEntries == 0 {
		cfg.Cache.FallbackMaxEntries = 4096
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.LLM.CacheTTL == 0 {
		cfg.LLM.CacheTTL = Duration(6 * time.Hour)
	}

	if cfg.TTS.URL == "" {
		cfg.TTS.URL = "http://localhost:8020/api/tts"
	}
	if cfg.TTS.Voice == "" {
		cfg.TTS.Voice = "en_US-lessac-medium"
	}
	if cfg.TTS.Timeout == 0 {
		cfg.TTS.Timeout = Duration(30 * time.Second)
	}
	if cfg.TTS.CacheTTL == 0 {
		cfg.TTS.CacheTTL = Duration(24 * time.Hour)
	}
	if cfg.TTS.MaxAudioBytes == 0 {
		cfg.TTS.MaxAudioBytes = 32 * 1024 * 1024
	}
	if cfg.TTS.Burst == 0 {
		cfg.TTS.Burst = 1
	}

	if cfg.Fleet.MaxConcurrentCycles == 0 {
		cfg.Fleet.MaxConcurrentCycles = 8
	}
	if cfg.Fleet.DefaultInterval == 0 {
		cfg.Fleet.DefaultInterval = Duration(5 * time.Minute)
	}

	if cfg.Audit.Interval == 0 {
		cfg.Audit.Interval = Duration(30 * time.Minute)
	}
	if cfg.Audit.Debounce == 0 {
		cfg.Audit.Debounce = Duration(2 * time.Second)
	}
	if cfg.Audit.MaxFindings == 0 {
		cfg.Audit.MaxFindings = 1000
	}

	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "~/.config/meshd/vectorstore"
	}

	if cfg.Podcast.OutputDir == "" {
		cfg.Podcast.OutputDir = "episodes"
	}
	if cfg.Podcast.HostVoice == "" {
		cfg.Podcast.HostVoice = cfg.TTS.Voice
	}
	if cfg.Podcast.GuestVoice == "" {
		cfg.Podcast.GuestVoice = cfg.TTS.Voice
	}
	if cfg.Podcast.MaxSegments == 0 {
		cfg.Podcast.MaxSegments = 24
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "meshd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "dev"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging = *logging.NewDefaultConfig()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Mesh.InboxSize < 1 {
		return fmt.Errorf("mesh.inbox_size must be positive, got %d", c.Mesh.InboxSize)
	}
	if c.Mesh.EventBuffer < 1 {
		return fmt.Errorf("mesh.event_buffer must be positive, got %d", c.Mesh.EventBuffer)
	}
	if c.Fleet.MaxConcurrentCycles < 1 {
		return fmt.Errorf("fleet.max_concurrent_cycles must be positive, got %d", c.Fleet.MaxConcurrentCycles)
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be in [0, 1], got %f", c.Telemetry.SampleRate)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Default returns the configuration with all defaults applied and no file
// or environment input. Useful for tests and embedded usage.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}
