package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/provider-outreach/internal/api"
	"github.com/ignite/provider-outreach/internal/app"
	"github.com/ignite/provider-outreach/internal/config"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	noScheduler := flag.Bool("no-scheduler", false, "leave check-in evaluation to cmd/worker")
	flag.Parse()

	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	logger.SetRedactPII(os.Getenv("LOG_REDACT_PII") != "false")
	log := logger.Named("server")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Info("DATABASE_URL env override active")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if !*noScheduler {
		if err := a.Scheduler.Start(); err != nil {
			log.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		log.Info("check-in scheduler started", "interval", cfg.Campaign.PollInterval())
	}

	var consumer *tracking.Consumer
	if cfg.Tracking.ConsumeInServer {
		if consumer = a.Consumer(); consumer != nil {
			consumer.Start(ctx)
		}
	}

	server := api.NewServer(cfg.Server, api.RouteDeps{
		Handlers:       api.NewHandlers(a.Service),
		Health:         api.NewHealthChecker(a.Store, a.Redis),
		Tracking:       tracking.NewHandler(a.Sink(), cfg.Tracking.WebhookSecret, nil),
		Metrics:        promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	cancel()
	if !*noScheduler {
		a.Scheduler.Stop()
	}
	if consumer != nil {
		consumer.Stop()
	}
	log.Info("server stopped")
}
