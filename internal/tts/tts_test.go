package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwork-labs/meshd/internal/cache"
	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
)

func newTestClient(t *testing.T, url string, withCache bool) *Client {
	t.Helper()
	cfg := config.TTSConfig{
		URL:      url,
		Voice:    "en_US-lessac-medium",
		Timeout:  config.Duration(5 * time.Second),
		CacheTTL: config.Duration(time.Minute),
	}
	var cch *cache.Cache
	if withCache {
		cch = cache.New(config.CacheConfig{
			DefaultTTL: config.Duration(time.Minute),
		}, logging.NewNopLogger(), nil)
	}
	c, err := New(cfg, cch, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func audioBackend(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req synthesisRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Text)
		require.NotEmpty(t, req.Voice)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF-fake-audio:" + req.Voice))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesize(t *testing.T) {
	var calls atomic.Int64
	srv := audioBackend(t, &calls)
	c := newTestClient(t, srv.URL, false)

	audio, err := c.Synthesize(context.Background(), "hello world", "")
	require.NoError(t, err)
	assert.Equal(t, "RIFF-fake-audio:en_US-lessac-medium", string(audio))
}

func TestSynthesize_CacheAside(t *testing.T) {
	var calls atomic.Int64
	srv := audioBackend(t, &calls)
	c := newTestClient(t, srv.URL, true)
	ctx := context.Background()

	first, err := c.Synthesize(ctx, "hello", "host")
	require.NoError(t, err)

	second, err := c.Synthesize(ctx, "hello", "host")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load())

	// Same text, different voice is a different key.
	_, err = c.Synthesize(ctx, "hello", "guest")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestSynthesize_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL, false)
	_, err := c.Synthesize(context.Background(), "hello", "")
	require.Error(t, err)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusNotFound, be.StatusCode)
	assert.Contains(t, be.Body, "voice not found")
}

func TestSynthesize_RejectsNonAudioContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detail":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL, false)
	_, err := c.Synthesize(context.Background(), "hello", "")
	assert.ErrorContains(t, err, "not audio")
}

func TestSynthesize_EnforcesSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(make([]byte, 128))
	}))
	t.Cleanup(srv.Close)

	cfg := config.TTSConfig{
		URL:           srv.URL,
		Voice:         "v",
		MaxAudioBytes: 64,
	}
	c, err := New(cfg, nil, logging.NewNopLogger())
	require.NoError(t, err)

	_, err = c.Synthesize(context.Background(), "hello", "")
	assert.ErrorContains(t, err, "exceeds")
}

func TestSynthesize_EmptyText(t *testing.T) {
	c := newTestClient(t, "http://localhost:1", false)
	_, err := c.Synthesize(context.Background(), "  ", "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(config.TTSConfig{}, nil, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestSynthesize_RateLimited(t *testing.T) {
	var calls atomic.Int64
	srv := audioBackend(t, &calls)

	cfg := config.TTSConfig{
		URL:               srv.URL,
		Voice:             "v",
		RequestsPerSecond: 50,
		Burst:             1,
	}
	c, err := New(cfg, nil, logging.NewNopLogger())
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Synthesize(context.Background(), "hello", "")
		require.NoError(t, err)
	}
	// Burst 1 at 50 rps forces roughly 20ms between the later calls.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
