// Package app assembles stores, services and workers from configuration.
// Both the server and the standalone worker binaries start from here.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/mecws/shelter-ops/internal/config"
	"github.com/mecws/shelter-ops/internal/links"
	"github.com/mecws/shelter-ops/internal/mailer"
	"github.com/mecws/shelter-ops/internal/pkg/distlock"
	"github.com/mecws/shelter-ops/internal/repository/memory"
	"github.com/mecws/shelter-ops/internal/repository/postgres"
	"github.com/mecws/shelter-ops/internal/service/broadcast"
	"github.com/mecws/shelter-ops/internal/service/magiclink"
	"github.com/mecws/shelter-ops/internal/service/notify"
	"github.com/mecws/shelter-ops/internal/service/outbox"
	"github.com/mecws/shelter-ops/internal/session"
	"github.com/mecws/shelter-ops/internal/templates"
	"github.com/mecws/shelter-ops/internal/worker"
	"github.com/redis/go-redis/v9"
)

const lockKey = "shelter:outbox:delivery"

// outboxStore is everything the queue and the workers need from the
// outbox table.
type outboxStore interface {
	outbox.Repository
	worker.Store
	worker.RecoveryStore
}

type tokenStore interface {
	magiclink.TokenRepository
	worker.TokenPurger
}

type directory interface {
	magiclink.UserDirectory
	broadcast.Directory
	notify.Directory
}

// App holds the wired components. DB and Redis are nil when not configured.
type App struct {
	DB    *sql.DB
	Redis *redis.Client

	Queue     *outbox.Queue
	Auth      *magiclink.Authenticator
	Broadcast *broadcast.Composer
	Notify    *notify.Notifier
	Sessions  session.Store

	Delivery     *worker.DeliveryWorker
	Recovery     *worker.QueueRecoveryWorker
	TokenCleanup *worker.TokenCleanupWorker
}

// New connects to the configured backends and wires every service. Without
// a database URL all state lives in memory, which is only useful for local
// development.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	var (
		store  outboxStore
		tokens tokenStore
		dir    directory
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(db); err != nil {
				a.Close()
				return nil, err
			}
		}
		store = postgres.NewOutboxRepo(db)
		tokens = postgres.NewTokenRepo(db)
		dir = postgres.NewDirectoryRepo(db)
		log.Println("Connected to PostgreSQL")
	} else {
		store = memory.NewOutbox()
		tokens = memory.NewTokens()
		dir = memory.NewDirectory()
		log.Println("WARNING: DATABASE_URL not set, using in-memory stores")
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = a.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.Sessions = session.NewRedisStore(a.Redis, cfg.Auth.SessionTTL())
		log.Println("Sessions stored in Redis")
	} else {
		a.Sessions = session.NewMemoryStore(cfg.Auth.SessionTTL())
	}

	transport, err := mailer.New(ctx, cfg.Mail)
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Printf("Mail transport: %s", transport.Name())

	lb, err := links.New(cfg.Auth.BaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	render := templates.New()

	a.Queue = outbox.NewQueue(store)
	a.Auth = magiclink.NewAuthenticator(magiclink.Deps{
		Tokens:   tokens,
		Users:    dir,
		Sessions: a.Sessions,
		Queue:    a.Queue,
		Links:    lb,
		Render:   render,
	}, magiclink.Config{
		LoginTTL:      cfg.Auth.LoginTTL(),
		SubjectPrefix: cfg.Mail.SubjectPrefix,
		ShelterName:   cfg.Mail.SenderName,
	})
	a.Broadcast = broadcast.NewComposer(broadcast.Deps{
		Directory: dir,
		Tokens:    a.Auth,
		Queue:     a.Queue,
		Links:     lb,
		Render:    render,
	}, broadcast.Config{
		TokenTTL:      cfg.Auth.BroadcastTTL(),
		SubjectPrefix: cfg.Mail.SubjectPrefix,
	})
	a.Notify = notify.NewNotifier(dir, a.Queue, render, lb, cfg.Mail.SubjectPrefix)

	var lock distlock.Lock
	if cfg.Delivery.UseLock {
		lock = distlock.New(a.Redis, a.DB, lockKey, cfg.Delivery.LockTTL())
	}
	a.Delivery = worker.NewDeliveryWorker(store, transport, lock, worker.DeliveryConfig{
		PollInterval: cfg.Delivery.PollInterval(),
		ErrorBackoff: cfg.Delivery.ErrorBackoff(),
		BatchSize:    cfg.Delivery.BatchSize,
		SendTimeout:  cfg.Delivery.SendTimeout(),
		MaxAttempts:  cfg.Delivery.MaxAttempts,
		FromEmail:    cfg.Mail.DefaultSender,
		FromName:     cfg.Mail.SenderName,
	})
	a.Recovery = worker.NewQueueRecoveryWorker(store, cfg.Delivery.RecoveryInterval(),
		cfg.Delivery.StaleAfter(), cfg.Delivery.RecoveryMaxAttempts)
	a.TokenCleanup = worker.NewTokenCleanupWorker(tokens, cfg.Auth.TokenCleanupInterval())

	return a, nil
}

// RunWorkers blocks running the delivery, recovery and token cleanup loops
// until ctx is cancelled.
func (a *App) RunWorkers(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { a.Recovery.Start(ctx); done <- struct{}{} }()
	go func() { a.TokenCleanup.Start(ctx); done <- struct{}{} }()
	a.Delivery.Start(ctx)
	<-done
	<-done
}

// Close releases backend connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Printf("Redis close: %v", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			log.Printf("Database close: %v", err)
		}
	}
}
