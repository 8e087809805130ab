package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hearsay-labs/hearsay/internal/analysis"
	"github.com/hearsay-labs/hearsay/internal/api"
	"github.com/hearsay-labs/hearsay/internal/config"
	"github.com/hearsay-labs/hearsay/internal/events"
	"github.com/hearsay-labs/hearsay/internal/notify"
	"github.com/hearsay-labs/hearsay/internal/pipeline"
	"github.com/hearsay-labs/hearsay/internal/provider"
	"github.com/hearsay-labs/hearsay/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("hearsay starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL, slog.Default())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	slog.Info("database ready")

	// Conversation provider
	if cfg.ProviderURL == "" {
		slog.Error("PROVIDER_URL is required")
		os.Exit(1)
	}
	prov := provider.NewClient(cfg.ProviderURL, cfg.ProviderAPIKey, slog.Default())
	fetcher := provider.NewFetcher(prov, slog.Default())
	slog.Info("provider client ready", "url", cfg.ProviderURL)

	// Analysis
	if cfg.OpenAIAPIKey == "" {
		slog.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	llm := analysis.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	summarizer := analysis.NewSummarizer(llm, slog.Default())
	profiler := analysis.NewProfiler(llm, slog.Default())
	slog.Info("analysis clients ready", "model", cfg.OpenAIModel)

	// Pipeline
	pipe := pipeline.New(db, prov, fetcher, summarizer, profiler, slog.Default())

	// Event bus is optional; without it there is no downstream fan-out.
	if cfg.NatsURL != "" {
		bus, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bus.Close()
		pipe.SetPublisher(bus)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured, running without lifecycle events")
	}

	// Slack digest (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		pipe.SetNotifier(notify.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default()))
		slog.Info("slack notifier ready", "channel", cfg.SlackChannel)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, pipe, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("hearsay ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("hearsay stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
