// Package server exposes the daemon's HTTP surface: REST endpoints
// over the mesh, fleet, cache, LLM, TTS, and consensus subsystems, a
// WebSocket stream of mesh events, and Prometheus metrics. The server
// runs with Echo and shuts down gracefully when its context ends.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/consensus"
	"github.com/meshwork-labs/meshd/internal/conversation"
	"github.com/meshwork-labs/meshd/internal/fleet"
	"github.com/meshwork-labs/meshd/internal/llm"
	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/mesh"
)

// TextGenerator is the slice of the LLM client the server needs.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error)
}

// Synthesizer is the slice of the TTS client the server needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Deps carries everything the handlers reach into. Nil fields disable
// their endpoints with a 503 rather than failing construction, so a
// partially configured daemon still serves what it can.
type Deps struct {
	Mesh         *mesh.Meshwork
	Fleet        *fleet.Controller
	LLM          TextGenerator
	TTS          Synthesizer
	Consensus    *consensus.Engine
	Conversation *conversation.Log
	Gatherer     prometheus.Gatherer
	Logger       *logging.Logger
}

// Server is the daemon's HTTP server.
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	echo    *echo.Echo
	hub     *eventHub
	started time.Time
}

// New builds the server and registers every route.
func New(cfg config.ServerConfig, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		echo:    e,
		hub:     newEventHub(deps.Logger),
		started: time.Now().UTC(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ws/stream", s.handleStream)

	api := s.echo.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/agents", s.handleAgents)
	api.GET("/agents/:id", s.handleAgent)
	api.POST("/speak", s.handleSpeak)
	api.POST("/chat", s.handleChat)
	api.POST("/consensus", s.handleConsensus)
	api.POST("/scan", s.handleScan)
	api.GET("/recall", s.handleRecall)

	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Start serves until the context is cancelled, then shuts down
// gracefully within the configured timeout. Returns
// http.ErrServerClosed on a clean shutdown, matching net/http.
func (s *Server) Start(ctx context.Context) error {
	if s.deps.Mesh != nil {
		go s.hub.run(ctx, s.deps.Mesh.Events())
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.cfg.Port)); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout.Duration()
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo exposes the router for tests and extension.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
