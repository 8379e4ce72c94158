package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mecws/shelter-ops/internal/api"
	"github.com/mecws/shelter-ops/internal/app"
	"github.com/mecws/shelter-ops/internal/config"
	"github.com/mecws/shelter-ops/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Println("Starting shelter-ops server...")

	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	server := api.NewServer(cfg.Server, api.CookieConfig{
		Name:   cfg.Auth.CookieName,
		Secure: cfg.Auth.CookieSecure,
		MaxAge: cfg.Auth.SessionTTL(),
	}, api.Deps{
		Auth:      a.Auth,
		Sessions:  a.Sessions,
		Broadcast: a.Broadcast,
		Ledger:    a.Queue,
		Notify:    a.Notify,
		Health:    api.NewHealthChecker(a.DB, a.Redis, a.Queue),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP server listening on %s", cfg.Server.Addr())
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.RunWorkers(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}
