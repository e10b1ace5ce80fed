// Meshd is the sovereign agent mesh daemon.
//
// It runs the in-process meshwork, the autonomy fleet, the audit
// scheduler, and the HTTP/WebSocket API, wired to Redis, an
// OpenAI-compatible LLM backend, and a TTS endpoint.
//
// Usage:
//
//	# Start with the default config (~/.config/meshd/config.yaml)
//	meshd
//
//	# Start with an explicit config file
//	meshd -config /etc/meshd/config.yaml
//
//	# Override any setting via environment
//	MESHD_SERVER_PORT=9090 meshd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/audit"
	"github.com/meshwork-labs/meshd/internal/cache"
	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/consensus"
	"github.com/meshwork-labs/meshd/internal/conversation"
	"github.com/meshwork-labs/meshd/internal/fleet"
	"github.com/meshwork-labs/meshd/internal/llm"
	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/mesh"
	"github.com/meshwork-labs/meshd/internal/skill"
	"github.com/meshwork-labs/meshd/internal/telemetry"
	"github.com/meshwork-labs/meshd/internal/tts"
	"github.com/meshwork-labs/meshd/internal/vectorstore"
	"github.com/meshwork-labs/meshd/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  meshd            Start the mesh daemon\n")
			fmt.Fprintf(os.Stderr, "  meshd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("meshd: %v", err)
	}
	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("meshd by Meshwork Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every subsystem and serves until the context ends.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting meshd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("fleet_enabled", cfg.Fleet.Enabled),
		zap.Bool("bridge_enabled", cfg.Mesh.Bridge.Enabled))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	meshwork := mesh.New(mesh.Options{
		InboxSize:      cfg.Mesh.InboxSize,
		RequestTimeout: cfg.Mesh.RequestTimeout.Duration(),
		EventBuffer:    cfg.Mesh.EventBuffer,
		Logger:         logger,
		Metrics:        mesh.NewMetrics(registry),
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = meshwork.Shutdown(shutdownCtx)
	}()

	if cfg.Mesh.Bridge.Enabled {
		bridge, err := mesh.NewBridge(meshwork, mesh.BridgeOptions{
			URL:      cfg.Mesh.Bridge.URL,
			Embedded: cfg.Mesh.Bridge.Embedded,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("starting mesh bridge: %w", err)
		}
		defer bridge.Close()
		logger.Info(ctx, "mesh bridge connected", zap.String("url", bridge.ClientURL()))
	}

	cch := cache.New(cfg.Cache, logger, cache.NewMetrics(registry))
	defer func() { _ = cch.Close() }()

	llmClient, err := llm.New(cfg.LLM, cch, logger)
	if err != nil {
		return fmt.Errorf("initializing llm client: %w", err)
	}

	ttsClient, err := tts.New(cfg.TTS, cch, logger)
	if err != nil {
		return fmt.Errorf("initializing tts client: %w", err)
	}

	store, err := vectorstore.Open(cfg.VectorStore, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}

	convo := conversation.NewLog(0, store, logger)
	engine := consensus.NewEngine(meshwork, logger)

	var controller *fleet.Controller
	if cfg.Fleet.Enabled {
		reg, err := fleet.DefaultRegistry()
		if err != nil {
			return fmt.Errorf("building fleet catalog: %w", err)
		}
		controller, err = fleet.NewController(cfg.Fleet, reg, fleet.Deps{
			Skills:   skill.DefaultSet(),
			Mesh:     meshwork,
			Logger:   logger,
			LLM:      llmClient,
			Roots:    cfg.Audit.Roots,
			Patterns: cfg.Audit.Patterns,
		})
		if err != nil {
			return fmt.Errorf("building fleet: %w", err)
		}
		if err := controller.Start(ctx); err != nil {
			return fmt.Errorf("starting fleet: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = controller.Stop(stopCtx)
		}()
	}

	if len(cfg.Audit.Roots) > 0 {
		auditor, err := audit.New(cfg.Audit, meshwork, store, logger)
		if err != nil {
			return fmt.Errorf("building auditor: %w", err)
		}
		if err := auditor.Start(ctx); err != nil {
			return fmt.Errorf("starting auditor: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = auditor.Stop(stopCtx)
		}()
	}

	srv := server.New(cfg.Server, server.Deps{
		Mesh:         meshwork,
		Fleet:        controller,
		LLM:          llmClient,
		TTS:          ttsClient,
		Consensus:    engine,
		Conversation: convo,
		Gatherer:     registry,
		Logger:       logger,
	})

	logger.Info(ctx, "meshd ready", zap.Int("port", cfg.Server.Port))
	return srv.Start(ctx)
}
