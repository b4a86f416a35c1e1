package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kmilewski/dealwatch/app/api"
	"github.com/kmilewski/dealwatch/app/cfg"
	"github.com/kmilewski/dealwatch/app/database"
	"github.com/kmilewski/dealwatch/app/delivery"
	"github.com/kmilewski/dealwatch/app/detector"
	"github.com/kmilewski/dealwatch/app/fetcher"
	"github.com/kmilewski/dealwatch/app/identity"
	"github.com/kmilewski/dealwatch/app/metrics"
	"github.com/kmilewski/dealwatch/app/proxy"
	"github.com/kmilewski/dealwatch/app/ratelimit"
	"github.com/kmilewski/dealwatch/app/scheduler"
	"github.com/kmilewski/dealwatch/app/session"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown.
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting dealwatch", "version", appCfg.Version)

	if dir := filepath.Dir(appCfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create data directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	db, err := database.NewDB(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrationVersion, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "migration_version", migrationVersion, "dirty", dirty)

	sourceRepo := database.NewSourceRepository(db)
	deliveryRepo := database.NewDeliveryRepository(db)
	priceRepo := database.NewPriceRepository(db)
	configRepo := database.NewConfigRepository(db)
	logRepo := database.NewLogRepository(db)

	identities := identity.NewPool()
	if appCfg.IdentityFile != "" {
		identities, err = identity.NewPoolFromFile(appCfg.IdentityFile)
		if err != nil {
			slog.Error("Failed to load identity file", "path", appCfg.IdentityFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded identity pool", "path", appCfg.IdentityFile, "size", identities.Size())
	}

	limiter := ratelimit.New(
		configRepo.GetConfigInt("rate_limit_capacity", 25),
		configRepo.GetConfigDuration("rate_limit_window", time.Minute),
	)
	proxies := proxy.New(configRepo, probeTarget(sourceRepo))
	sessions := session.NewManager(identities, limiter, proxies)

	orchestrator := fetcher.NewOrchestrator(sessions, configRepo, appCfg.WorkerCount)
	changeDetector := detector.New(deliveryRepo, priceRepo, configRepo)
	pipelineMetrics := metrics.New()

	queue := delivery.NewQueue(delivery.DefaultQueueCapacity)
	sink := delivery.NewDiscord(configRepo)
	sender := delivery.NewSender(queue, sink, deliveryRepo, sourceRepo, logRepo, pipelineMetrics)

	sched := scheduler.NewScheduler(sourceRepo, configRepo, logRepo,
		orchestrator, changeDetector, queue, sender, sessions, proxies, pipelineMetrics)
	sched.Start()

	handler := api.NewHandler(sourceRepo, deliveryRepo, logRepo, pipelineMetrics, sched, appCfg.Version)
	server := &http.Server{
		Addr:    ":" + appCfg.Port,
		Handler: api.NewServer(handler, appCfg.APIAccessKey),
	}

	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	slog.Info("Shutdown complete")
}

// probeTarget picks a proxy liveness probe URL from the configured sources.
// With no sources yet there is nothing sensible to probe against.
func probeTarget(sources *database.SourceRepository) string {
	active, err := sources.GetActiveSources()
	if err != nil {
		return ""
	}
	for _, src := range active {
		for _, u := range src.URLs {
			if host := fetcher.HostOf(u.URL); host != "" {
				return "https://" + host + "/"
			}
		}
	}
	return ""
}
