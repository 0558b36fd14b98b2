package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cocred/internal/analytics"
	"cocred/internal/api"
	"cocred/internal/auth"
	"cocred/internal/blob"
	"cocred/internal/cloudinary"
	"cocred/internal/config"
	"cocred/internal/event"
	"cocred/internal/export"
	"cocred/internal/logger"
	"cocred/internal/notify"
	"cocred/internal/portfolio"
	"cocred/internal/queue"
	"cocred/internal/review"
	"cocred/internal/roster"
	"cocred/internal/session"
	"cocred/internal/store"
	"cocred/internal/upload"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Component("main")

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App, log zerolog.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if db == nil {
		return err
	}
	if err != nil {
		log.Warn().Err(err).Msg("db not reachable")
	}
	defer func() { _ = db.Close() }()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		log.Warn().Err(err).Msg("schema not applied")
	}
	cancel()

	redisClient := store.NewRedis(store.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = redisClient.Close() }()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	var (
		kv  session.KV
		bus session.Bus
	)
	if cfg.SessionBackend == "memory" {
		kv, bus = session.NewMemoryKV(), session.NewMemoryBus()
	} else {
		kv = session.NewRedisKV(redisClient.Client, "", cfg.SessionMaxAge)
		bus = session.NewRedisBus(redisClient.Client, logger.Component("session-bus"))
	}

	files, err := blob.NewS3Storage(blob.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return errors.Wrap(err, "blob storage")
	}

	var google auth.IDTokenVerifier
	if cfg.GoogleClientID != "" {
		google = auth.NewGoogleVerifier(cfg.GoogleClientID)
	} else {
		log.Info().Msg("Google sign-in not configured (GOOGLE_CLIENT_ID not set)")
	}
	rosterSvc := roster.NewService(roster.NewRepository(db.Client)).WithAdmins(cfg.AdminEmails)
	provider := auth.NewProvider(auth.NewRepository(db.Client), rosterSvc, google, auth.ProviderConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})

	// nil when not configured, so Profiles reports ErrNotConfigured.
	var images cloudinary.Uploader
	if cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder); cdn.Configured() {
		images = cdn
		log.Info().Str("cloud", cfg.CloudinaryCloudName).Msg("Cloudinary configured")
	} else {
		log.Info().Msg("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	reviewRepo := review.NewRepository(db.Client)
	reviewSvc := review.NewService(reviewRepo, rosterSvc, files, q, review.Config{
		MaxUploadBytes: cfg.UploadMaxBytes,
		PublicBaseURL:  cfg.PublicBaseURL,
	})

	h := api.New(api.Deps{
		Config: cfg,
		Checks: map[string]api.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Auth:          provider,
		SessionStore:  kv,
		SessionBus:    bus,
		Roster:        rosterSvc,
		Reviews:       reviewSvc,
		Exporter:      export.NewExporter(reviewRepo, files, cfg.ExportMaxFiles),
		Files:         upload.NewService(files, upload.NewRepository(db.Client), cfg.UploadMaxBytes, cfg.PublicBaseURL),
		Events:        event.NewService(event.NewRepository(db.Client)),
		Analytics:     analytics.NewService(reviewRepo, rosterSvc, 0),
		Portfolios:    portfolio.NewService(rosterSvc, reviewRepo, cfg.PortfolioBaseURL),
		Notifications: notify.NewService(notify.NewRepository(db.Client), rosterSvc),
		Profiles:      cloudinary.NewProfiles(images, rosterSvc, cfg.UploadMaxBytes),
	})

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     api.NewRouter(h),
		ReadTimeout: 15 * time.Second,
		// exports and the session stream outlive the default write deadline
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}

	log.Info().Msg("server exited")
	return nil
}
