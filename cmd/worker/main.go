package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mecws/shelter-ops/internal/app"
	"github.com/mecws/shelter-ops/internal/config"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// The standalone worker drains the outbox without serving HTTP. Run several
// against one database; claims use SKIP LOCKED so they never share a row.
func main() {
	log.Println("Starting shelter-ops delivery worker...")

	path := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required for a standalone worker")
	}
	logger.SetLevel(logger.ParseLevel(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.RunWorkers(gctx)
		return nil
	})
	log.Printf("Worker running (poll %s, batch %d, max attempts %d)",
		cfg.Delivery.PollInterval(), cfg.Delivery.BatchSize, cfg.Delivery.MaxAttempts)

	if err := g.Wait(); err != nil {
		log.Fatalf("Worker error: %v", err)
	}
	log.Printf("Worker stopped: %v", a.Delivery.Stats())
}
