// Package tts synthesizes speech through an HTTP endpoint that takes
// {"text": ..., "voice": ...} and answers with raw audio bytes.
// Synthesized audio is cached by voice and text, and calls are rate
// limited so a burst of speak requests cannot saturate the backend.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meshwork-labs/meshd/internal/cache"
	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
)

// CacheNamespace is the cache namespace audio is stored under.
const CacheNamespace = "tts"

const defaultMaxAudioBytes = 32 << 20 // 32MB

// ErrEmptyText rejects blank synthesis requests.
var ErrEmptyText = errors.New("tts: empty text")

// BackendError is a non-200 reply from the synthesis endpoint.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("tts: backend returned %d: %s", e.StatusCode, e.Body)
}

type synthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Client synthesizes speech. Safe for concurrent use.
type Client struct {
	cfg     config.TTSConfig
	http    *http.Client
	cache   *cache.Cache
	limiter *rate.Limiter
	log     *logging.Logger
}

// New builds a client from config. The cache may be nil.
func New(cfg config.TTSConfig, cch *cache.Cache, log *logging.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("tts: no endpoint configured")
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout.Duration()},
		cache:   cch,
		limiter: limiter,
		log:     log.Named("tts"),
	}, nil
}

// Synthesize returns audio for the text. An empty voice uses the
// configured default. Identical (voice, text) pairs are served from
// the cache.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = c.cfg.Voice
	}

	cacheKey := voice + "|" + text
	if c.cache != nil {
		if audio, ok, err := c.cache.Get(ctx, CacheNamespace, cacheKey); err == nil && ok {
			return audio, nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("tts: rate limit wait: %w", err)
		}
	}

	audio, err := c.post(ctx, text, voice)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, CacheNamespace, cacheKey, audio, c.cfg.CacheTTL.Duration()); err != nil {
			c.log.Warn(ctx, "caching audio failed", zap.Error(err))
		}
	}
	return audio, nil
}

func (c *Client) post(ctx context.Context, text, voice string) ([]byte, error) {
	body, err := json.Marshal(synthesisRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("tts: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: calling backend: %w", err)
	}
	defer resp.Body.Close()

	maxBytes := c.cfg.MaxAudioBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxAudioBytes
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &BackendError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") ||
		strings.HasPrefix(ct, "text/html") {
		return nil, fmt.Errorf("tts: backend returned %q, not audio", ct)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("tts: reading audio: %w", err)
	}
	if int64(len(audio)) > maxBytes {
		return nil, fmt.Errorf("tts: audio exceeds %d bytes", maxBytes)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: backend returned no audio")
	}
	return audio, nil
}
