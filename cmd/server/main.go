package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/ai"
	"github.com/pulsefeed/pulsefeed/internal/api"
	"github.com/pulsefeed/pulsefeed/internal/config"
	"github.com/pulsefeed/pulsefeed/internal/digest"
	"github.com/pulsefeed/pulsefeed/internal/feedstore"
	"github.com/pulsefeed/pulsefeed/internal/hub"
	"github.com/pulsefeed/pulsefeed/internal/livefeed"
	"github.com/pulsefeed/pulsefeed/internal/schedule"
	"github.com/pulsefeed/pulsefeed/internal/triage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pulsefeed-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Server.Storage.Backend,
		"sweep_interval", cfg.Server.Feed.SweepInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Feed store: Postgres when configured, in-memory otherwise.
	var st feedstore.Store
	if cfg.Server.Storage.Backend == "postgres" {
		pg, err := feedstore.NewPostgres(ctx, cfg.Server.Storage.DSN())
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		st = pg
	} else {
		st = feedstore.NewMemory()
	}

	// Domain keyword registry, hot-reloaded on file change.
	domains, err := config.LoadDomains(cfg.Server.DomainsFile)
	if err != nil {
		slog.Error("failed to load domains file",
			"path", cfg.Server.DomainsFile, "err", err)
		os.Exit(1)
	}
	registry := config.NewRegistry(domains)
	go func() {
		if err := config.WatchDomains(ctx, cfg.Server.DomainsFile, registry); err != nil {
			slog.Error("domains watcher stopped", "err", err)
		}
	}()

	// WebSocket hub — fans events out to subscribers per domain.
	h := hub.New(cfg.Server.Hub.HeartbeatInterval, cfg.Server.Hub.QueueSize, logger)
	go h.Run(ctx)

	// Live feed — scores on ingest and re-sweeps on an interval.
	feed := livefeed.New(st, registry, h, logger)
	sweepWindow := time.Duration(cfg.Server.Feed.SweepWindowHours) * time.Hour
	go feed.Run(ctx, cfg.Server.Feed.SweepInterval, sweepWindow)

	// AI provider: triage classifier, topic clusterer, digest composer.
	// With no endpoint configured the server still runs; triage fails
	// open and digests degrade to flat selections.
	var (
		triager   *triage.Triager
		clusterer digest.Clusterer
		composer  digest.Composer
	)
	if cfg.Server.Triage.Endpoint != "" {
		provider := ai.NewChatClient(
			cfg.Server.Triage.Endpoint,
			cfg.Server.Triage.Model,
			cfg.Server.Triage.APIKey(),
		)
		triager = triage.New(
			triage.NewProviderClassifier(provider),
			cfg.Server.Triage.Timeout,
			cfg.Server.Triage.Parallelism,
			logger,
		)
		clusterer = ai.NewTopicClusterer(provider)
		composer = ai.NewDigestComposer(provider)

		if cfg.Server.Triage.Interval > 0 {
			runner := triage.NewRunner(st, triager, cfg.Server.Triage.Interval, logger)
			go runner.Run(ctx)
		}
	} else {
		slog.Warn("no triage endpoint configured; items stay pending until triaged manually")
	}

	// Schedule engine drives the digest orchestrator on cron ticks.
	orchestrator := digest.New(st, clusterer, composer, logger)
	engine := schedule.NewEngine(st, orchestrator, cfg.Server.Schedule.PollInterval, logger)
	go engine.Run(ctx)

	// Combined HTTP server: REST API, WebSocket hub, and /metrics.
	auth := api.APIKeyMiddleware(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)
	handler := api.New(feed, st, engine, triager, h, auth, logger)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: handler,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pulsefeed-server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
