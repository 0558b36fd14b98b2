package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"cocred/internal/auth"
	"cocred/internal/config"
	"cocred/internal/logger"
	"cocred/internal/notify"
	"cocred/internal/queue"
	"cocred/internal/review"
	"cocred/internal/roster"
	"cocred/internal/store"
)

// pruneSchedule is how often expired refresh tokens are swept.
const pruneSchedule = "@every 1h"

// Worker consumes review events into notifications and sweeps expired sessions.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Component("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(store.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		rq := queue.NewRedisQueue(redisClient.Client, "")
		if n, err := rq.Len(ctx); err != nil {
			log.Warn().Err(err).Msg("queue not reachable")
		} else {
			log.Info().Int64("backlog", n).Msg("review queue")
		}
		q = rq
	}

	// Sweeps only: never signs anyone in.
	provider := auth.NewProvider(auth.NewRepository(db.Client), nil, nil, auth.ProviderConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(pruneSchedule, func() {
		n, err := provider.Prune(ctx, time.Now())
		if err != nil {
			log.Warn().Err(err).Msg("refresh token sweep failed")
			return
		}
		log.Info().Int64("pruned", n).Msg("expired refresh tokens removed")
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule sweep")
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	// Lookups only: no blob storage and no publisher.
	records := review.NewService(review.NewRepository(db.Client), roster.NewService(roster.NewRepository(db.Client)), nil, nil, review.Config{})
	w := notify.NewWorker(records, notify.NewRepository(db.Client))
	if err := w.Run(ctx, q); err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}
}
