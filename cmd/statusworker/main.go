package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/campaign-engine/internal/app"
	"github.com/acme/campaign-engine/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	cfg := container.Config
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App.Name+"-statusworker", cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return container.StatusWorker().Run(gctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return container.MetricsServer().Start(gctx)
		})
	}

	container.Logger.Info("status worker started", zap.String("topic", cfg.Kafka.EventTopic))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		container.Logger.Error("status worker terminated", zap.Error(err))
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
