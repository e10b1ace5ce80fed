package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/meshwork-labs/meshd/internal/cache"
	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
)

// fakeModel is a deterministic llms.Model. It answers with a counter
// so tests can tell cached replies from fresh ones, and can fail a
// configured number of calls first.
type fakeModel struct {
	calls    atomic.Int64
	failsBy  int64
	response string
}

func (f *fakeModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	n := f.calls.Add(1)
	if n <= f.failsBy {
		return nil, errors.New("backend unavailable")
	}
	content := f.response
	if content == "" {
		content = fmt.Sprintf("reply-%d", n)
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: content}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil, opts...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newTestClient(t *testing.T, model llms.Model) *Client {
	t.Helper()
	cch := cache.New(config.CacheConfig{
		DefaultTTL: config.Duration(time.Minute),
	}, logging.NewNopLogger(), nil)
	cfg := config.LLMConfig{
		Model:    "test-model",
		Timeout:  config.Duration(5 * time.Second),
		CacheTTL: config.Duration(time.Minute),
	}
	return NewWithModel(model, cfg, cch, logging.NewNopLogger())
}

func TestGenerate_CacheAside(t *testing.T) {
	model := &fakeModel{}
	c := newTestClient(t, model)
	ctx := context.Background()

	first, err := c.Generate(ctx, "what is a mesh?")
	require.NoError(t, err)
	assert.Equal(t, "reply-1", first)

	// Second identical call is served from cache.
	second, err := c.Generate(ctx, "what is a mesh?")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), model.calls.Load())

	// Different prompt misses.
	third, err := c.Generate(ctx, "what is a fleet?")
	require.NoError(t, err)
	assert.Equal(t, "reply-2", third)
}

func TestGenerate_OptionsShapeTheKey(t *testing.T) {
	model := &fakeModel{}
	c := newTestClient(t, model)
	ctx := context.Background()

	_, err := c.Generate(ctx, "p", WithTemperature(0.2))
	require.NoError(t, err)
	_, err = c.Generate(ctx, "p", WithTemperature(0.9))
	require.NoError(t, err)
	assert.Equal(t, int64(2), model.calls.Load())
}

func TestGenerate_WithoutCache(t *testing.T) {
	model := &fakeModel{}
	c := newTestClient(t, model)
	ctx := context.Background()

	_, err := c.Generate(ctx, "p", WithoutCache())
	require.NoError(t, err)
	_, err = c.Generate(ctx, "p", WithoutCache())
	require.NoError(t, err)
	assert.Equal(t, int64(2), model.calls.Load())
}

func TestGenerate_RetriesOnce(t *testing.T) {
	model := &fakeModel{failsBy: 1}
	c := newTestClient(t, model)

	out, err := c.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "reply-2", out)
	assert.Equal(t, int64(2), model.calls.Load())
}

func TestGenerate_FailsAfterRetry(t *testing.T) {
	model := &fakeModel{failsBy: 2}
	c := newTestClient(t, model)

	_, err := c.Generate(context.Background(), "p")
	assert.Error(t, err)
	assert.Equal(t, int64(2), model.calls.Load())
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	c := newTestClient(t, &fakeModel{})
	_, err := c.Generate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(config.LLMConfig{}, nil, logging.NewNopLogger())
	assert.Error(t, err)
}
