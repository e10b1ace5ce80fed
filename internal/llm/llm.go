// Package llm wraps an OpenAI-compatible chat model behind a small
// Generate call with cache-aside reads, a per-call timeout, and one
// retry on transient failure.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/cache"
	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
)

// CacheNamespace is the cache namespace generations are stored under.
const CacheNamespace = "llm"

const retryBackoff = 500 * time.Millisecond

// ErrEmptyPrompt rejects blank generation requests.
var ErrEmptyPrompt = errors.New("llm: empty prompt")

// Option adjusts one Generate call.
type Option func(*callOptions)

type callOptions struct {
	temperature float64
	hasTemp     bool
	maxTokens   int
	skipCache   bool
}

// WithTemperature sets the sampling temperature for this call.
func WithTemperature(t float64) Option {
	return func(o *callOptions) { o.temperature = t; o.hasTemp = true }
}

// WithMaxTokens caps the completion length for this call.
func WithMaxTokens(n int) Option {
	return func(o *callOptions) { o.maxTokens = n }
}

// WithoutCache bypasses the cache for this call in both directions.
func WithoutCache() Option {
	return func(o *callOptions) { o.skipCache = true }
}

// Client generates text from the configured model.
type Client struct {
	model llms.Model
	cache *cache.Cache
	cfg   config.LLMConfig
	log   *logging.Logger
}

// New builds a client against the configured OpenAI-compatible
// endpoint. The cache may be nil; generations are then never cached.
func New(cfg config.LLMConfig, cch *cache.Cache, log *logging.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: no model configured")
	}

	apiKey := cfg.APIKey.Value()
	if apiKey == "" {
		// The client requires a token even for keyless local backends.
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llm: creating client: %w", err)
	}
	return NewWithModel(model, cfg, cch, log), nil
}

// NewWithModel builds a client around an existing model.
func NewWithModel(model llms.Model, cfg config.LLMConfig, cch *cache.Cache, log *logging.Logger) *Client {
	return &Client{
		model: model,
		cache: cch,
		cfg:   cfg,
		log:   log.Named("llm"),
	}
}

// Generate returns the model's completion for the prompt. Identical
// prompts with identical options are served from the cache until the
// configured TTL expires.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	cacheKey := c.cacheKey(prompt, co)
	if c.cache != nil && !co.skipCache {
		if val, ok, err := c.cache.Get(ctx, CacheNamespace, cacheKey); err == nil && ok {
			return string(val), nil
		}
	}

	out, err := c.generateOnce(ctx, prompt, co)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		// One retry covers transient backend hiccups.
		c.log.Warn(ctx, "generation failed, retrying once", zap.Error(err))
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		out, err = c.generateOnce(ctx, prompt, co)
		if err != nil {
			return "", fmt.Errorf("llm: generation failed: %w", err)
		}
	}

	if c.cache != nil && !co.skipCache {
		if err := c.cache.Set(ctx, CacheNamespace, cacheKey, []byte(out), c.cfg.CacheTTL.Duration()); err != nil {
			c.log.Warn(ctx, "caching generation failed", zap.Error(err))
		}
	}
	return out, nil
}

func (c *Client) generateOnce(ctx context.Context, prompt string, co callOptions) (string, error) {
	if timeout := c.cfg.Timeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var callOpts []llms.CallOption
	if co.hasTemp {
		callOpts = append(callOpts, llms.WithTemperature(co.temperature))
	}
	if co.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(co.maxTokens))
	}

	return llms.GenerateFromSinglePrompt(ctx, c.model, prompt, callOpts...)
}

// cacheKey folds the options into the key so differently shaped calls
// never collide.
func (c *Client) cacheKey(prompt string, co callOptions) string {
	return fmt.Sprintf("%s|t=%v:%g|m=%d|%s", c.cfg.Model, co.hasTemp, co.temperature, co.maxTokens, prompt)
}
