package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/campaign-engine/internal/config"
	"github.com/acme/campaign-engine/internal/infra/db"
	"github.com/acme/campaign-engine/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg, err := logger.New(cfg.App.Env, nil)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()

	// The keyspace may not exist yet, so Scylla goes first over a
	// keyspace-less session.
	if err := db.MigrateScylla(ctx, cfg.Scylla); err != nil {
		lg.Fatal("scylla migration failed", zap.Error(err))
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pg.Close(context.Background())

	applied, err := db.MigratePostgres(ctx, pg)
	if err != nil {
		lg.Fatal("postgres migration failed", zap.Error(err))
	}
	lg.Info("migrations applied", zap.Int("postgres_applied", applied))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
