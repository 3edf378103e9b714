// StreamGuard moderation server. Ingests chat messages, screens them with
// the lightweight filter, classifies the remainder with an LLM, enforces
// policy, and fans processed events out to WebSocket subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamguard/streamguard/pkg/api"
	"github.com/streamguard/streamguard/pkg/config"
	"github.com/streamguard/streamguard/pkg/database"
	"github.com/streamguard/streamguard/pkg/decision"
	"github.com/streamguard/streamguard/pkg/filter"
	"github.com/streamguard/streamguard/pkg/hub"
	"github.com/streamguard/streamguard/pkg/llm"
	"github.com/streamguard/streamguard/pkg/metrics"
	"github.com/streamguard/streamguard/pkg/moderation"
	"github.com/streamguard/streamguard/pkg/notify"
	"github.com/streamguard/streamguard/pkg/patterns"
	"github.com/streamguard/streamguard/pkg/policy"
	"github.com/streamguard/streamguard/pkg/ratelimit"
	"github.com/streamguard/streamguard/pkg/simulator"
	"github.com/streamguard/streamguard/pkg/template"
	"github.com/streamguard/streamguard/pkg/version"
	"github.com/streamguard/streamguard/pkg/violation"
)

// Exit codes: 1 configuration error, 2 startup dependency failure,
// 3 runtime fatal.
const (
	exitConfig  = 1
	exitStartup = 2
	exitRuntime = 3
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting StreamGuard",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		return exitConfig
	}

	// 2. Initialize database
	dbClient, err := database.NewClient(ctx, database.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return exitStartup
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Metrics registry
	m := metrics.New(prometheus.DefaultRegisterer)

	// 4. Initialize the filter stage: rate limiter plus pattern matcher
	var limiter ratelimit.Store
	limitCfg := ratelimit.Config{
		Window:    cfg.Filter.RateLimitWindow,
		MaxEvents: cfg.Filter.RateLimitMax,
	}
	if cfg.Filter.RedisURL != "" {
		redisStore, err := ratelimit.NewRedisStore(cfg.Filter.RedisURL, limitCfg)
		if err != nil {
			slog.Error("Failed to create Redis rate limiter", "error", err)
			return exitStartup
		}
		if err := redisStore.Ping(ctx); err != nil {
			slog.Error("Failed to reach Redis", "error", err)
			return exitStartup
		}
		defer func() { _ = redisStore.Close() }()
		limiter = redisStore
		slog.Info("Rate limiter backed by Redis")
	} else {
		limiter = ratelimit.NewMemoryStore(limitCfg)
		slog.Info("Rate limiter in memory")
	}

	matcher := patterns.NewMatcher()
	if cfg.Filter.PatternsFile != "" {
		if err := matcher.LoadFile(cfg.Filter.PatternsFile); err != nil {
			slog.Error("Failed to load pattern file", "path", cfg.Filter.PatternsFile, "error", err)
			return exitConfig
		}
	}
	filterSvc := filter.NewService(limiter, matcher, cfg.Filter.Enabled)

	// 5. Load prompt templates
	registry := template.NewRegistry(cfg.Templates.Allowlist)
	if err := registry.LoadFile(cfg.Templates.File); err != nil {
		slog.Error("Failed to load templates", "path", cfg.Templates.File, "error", err)
		return exitConfig
	}
	if _, err := registry.Get(cfg.Templates.Default); err != nil {
		slog.Error("Default moderation template not available",
			"template", cfg.Templates.Default, "error", err)
		return exitConfig
	}
	slog.Info("Templates loaded", "count", len(registry.List()))

	// 6. LLM client
	llmCfg := llm.DefaultConfig(cfg.LLM.Endpoint, cfg.LLM.Model)
	llmCfg.APIKey = cfg.LLM.APIKey()
	llmCfg.ModelStyle = cfg.LLM.ModelStyle
	llmCfg.Timeout = cfg.LLM.Timeout
	llmCfg.MaxRetries = cfg.LLM.MaxRetries
	llmCfg.Concurrency = cfg.LLM.Concurrency
	llmCfg.Temperature = cfg.LLM.Temperature
	llmCfg.MaxTokens = cfg.LLM.MaxTokens
	llmCfg.Breaker.FailureRatio = cfg.LLM.CircuitFailureRatio
	llmCfg.Breaker.MinSamples = uint32(cfg.LLM.CircuitMinSamples)
	llmCfg.Breaker.Cooldown = cfg.LLM.CircuitCooldown
	llmCfg.Breaker.ProbeMax = uint32(cfg.LLM.CircuitProbeMax)
	llmClient := llm.NewClient(llmCfg, nil)
	slog.Info("LLM client initialized",
		"endpoint", cfg.LLM.Endpoint,
		"model", cfg.LLM.Model,
		"style", cfg.LLM.ModelStyle)

	// 7. Decision stage: policy engine, violation store, hub, notifications
	violations := violation.NewStore(dbClient.DB())
	eventHub := hub.NewHub(cfg.Session.QueueSize, m)
	defer eventHub.Close()

	notifier := notify.NewService(notify.Config{
		Enabled:    cfg.Notifications.Enabled,
		WebhookURL: cfg.Notifications.WebhookURL,
		Timeout:    cfg.Notifications.Timeout,
	})

	engine := policy.NewEngine()
	decider := decision.NewHandler(engine, violations, eventHub, notifier, m)

	// 8. Orchestrator and simulator
	orchestrator := moderation.NewOrchestrator(moderation.Config{
		ProcessTimeout: cfg.Moderation.ProcessTimeout,
		TemplateName:   cfg.Templates.Default,
		DedupTTL:       cfg.Moderation.DedupTTL,
	}, filterSvc, registry, llmClient, decider, m)

	sim := simulator.NewManager(simulator.Config{
		Interval: cfg.Simulator.Interval,
		Users:    cfg.Simulator.Users,
	}, orchestrator)
	defer sim.StopAll()

	// 9. Violation retention loop
	retention := violation.NewRetention(violations, violation.RetentionConfig{
		Enabled:  cfg.Retention.Enabled,
		Interval: cfg.Retention.Interval,
		MaxAge:   cfg.Retention.MaxAge,
	})
	retention.Start(ctx)
	defer retention.Stop()

	// 10. Start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, dbClient, orchestrator, filterSvc, registry,
		engine, llmClient, violations, eventHub, sim)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("StreamGuard started successfully",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
		exitCode = exitRuntime
	}

	// 12. Graceful shutdown
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return exitCode
}
