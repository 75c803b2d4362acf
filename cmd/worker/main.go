package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/provider-outreach/internal/app"
	"github.com/ignite/provider-outreach/internal/config"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// The worker runs check-in evaluation and drains the SQS response queue.
// Several workers may run at once; the scheduler leader lock keeps a single
// poller active.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	log := logger.Named("worker")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		log.Error("DATABASE_URL is required: the worker cannot share an in-memory store with the API")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Scheduler.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	consumer := a.Consumer()
	if consumer != nil {
		consumer.Start(ctx)
	} else {
		log.Info("tracking queue not configured, callbacks are applied by the API directly")
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := a.Scheduler.Stats()
				fields := []any{"ticks", s.Ticks, "evaluated", s.Evaluated, "errors", s.Errors, "skipped", s.Skipped}
				if consumer != nil {
					cs := consumer.Stats()
					fields = append(fields, "received", cs.Received, "applied", cs.Applied, "failed", cs.Failed)
				}
				log.Info("worker heartbeat", fields...)
			}
		}
	}()

	log.Info("worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cancel()
	a.Scheduler.Stop()
	if consumer != nil {
		consumer.Stop()
	}
	log.Info("worker stopped")
}
