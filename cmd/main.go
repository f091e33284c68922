package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"touchpoint-service/internal/api"
	"touchpoint-service/internal/config"
	"touchpoint-service/internal/conservation"
	"touchpoint-service/internal/db"
	"touchpoint-service/internal/dispatcher"
	"touchpoint-service/internal/kafka"
	"touchpoint-service/internal/ledger"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/memstore"
	"touchpoint-service/internal/occurrence"
	"touchpoint-service/internal/providers"
	"touchpoint-service/internal/touchpoint"
)

type store interface {
	api.Store
	conservation.Store
	touchpoint.Store
	dispatcher.RecordStore
}

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store
	var (
		st     store
		dbConn *db.DB
	)
	if cfg.DB.DSN == "memory" {
		logger.Warnf("Using in-memory store, data is lost on restart")
		st = memstore.New()
	} else {
		dbConn, err = db.New(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatalf("Database connection failed: %v", err)
		}
		defer dbConn.Close()
		if err := dbConn.Migrate(ctx); err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
		st = dbConn
	}

	// Idempotency ledger
	var fired ledger.Ledger
	switch cfg.Ledger.Backend {
	case "redis":
		rl, err := ledger.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			log.Fatalf("Ledger connection failed: %v", err)
		}
		defer rl.Close()
		fired = rl
	case "postgres":
		if dbConn != nil {
			fired = dbConn.Ledger()
			break
		}
		logger.Warnf("Postgres ledger requested without a database, falling back to memory")
		fired = ledger.NewMemory()
	default:
		fired = ledger.NewMemory()
	}
	logger.Infof("Ledger backend: %s", cfg.Ledger.Backend)

	// Providers
	tg, err := providers.NewTelegram(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatalf("Telegram init failed: %v", err)
	}
	var chat conservation.Chat
	if tg != nil {
		chat = tg
	}
	hub := api.NewHub(logger.With("component", "ws"))
	sender := dispatcher.New(providers.NewPush(cfg), st, hub, logger.With("component", "dispatcher"))
	digest := touchpoint.NewAgentDigest(providers.NewEmail(cfg), tg, logger.With("component", "digest"))

	// Schedulers
	runners := []api.TouchpointRunner{
		touchpoint.New(occurrence.BirthdayResolver{}, st, fired, sender, nil, logger, cfg.Scheduler.Concurrency),
		touchpoint.New(occurrence.HolidayResolver{}, st, fired, sender, nil, logger, cfg.Scheduler.Concurrency),
		touchpoint.New(occurrence.AnniversaryResolver{WindowDays: cfg.Scheduler.AnniversaryWindowDays}, st, fired, sender, digest, logger, cfg.Scheduler.Concurrency),
	}
	svc := conservation.NewService(st, chat, logger.With("component", "conservation"), cfg.Conservation.GracePeriod, cfg.Conservation.AutoArm)
	outreach := conservation.NewScheduler(st, fired, sender, logger, cfg.Conservation.TickInterval)
	outreach.Start()
	defer outreach.Stop()

	// Lapse notices from the carrier feed
	var wg sync.WaitGroup
	if cfg.Kafka.Broker != "" {
		consumer := kafka.NewConsumer(kafka.Config{
			Broker:  cfg.Kafka.Broker,
			Topic:   cfg.Kafka.LapseTopic,
			GroupID: cfg.Kafka.GroupID,
		}, svc, logger)
		consumer.Start(ctx, &wg)
		defer consumer.Close()
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.LapseTopic)
	}

	// Start API server
	handler := api.NewHandler(st, runners, outreach, svc, logger)
	srv := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           api.NewRouter(handler, hub, logger, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API server shutdown failed: %v", err)
	}
	wg.Wait()
}
