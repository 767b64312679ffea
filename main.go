package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/taleforge/offline-cache/config"
	"github.com/taleforge/offline-cache/database"
	"github.com/taleforge/offline-cache/media"
	"github.com/taleforge/offline-cache/middleware"
	"github.com/taleforge/offline-cache/queue"
	"github.com/taleforge/offline-cache/recovery"
	"github.com/taleforge/offline-cache/routes"
	"github.com/taleforge/offline-cache/store"
	"github.com/taleforge/offline-cache/syncer"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Open(cfg.CachePath, logger)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	defer database.Close(db)

	st := store.New(db, logger)
	q := queue.New(st, logger)
	if _, err := q.ResetInFlight(context.Background()); err != nil {
		logger.Fatal("Failed to reset stranded operations", zap.Error(err))
	}
	rec := recovery.NewManager(st, logger)

	var coordinator *syncer.Coordinator
	if cfg.SyncEnabled() {
		remote, err := syncer.NewGormRemote(cfg.RemoteDSN, logger)
		if err != nil {
			logger.Fatal("Failed to connect to remote backend", zap.Error(err))
		}
		var session syncer.SessionSource
		if cfg.SessionEnabled() {
			session = syncer.NewSession(context.Background(),
				cfg.AuthTokenURL, cfg.AuthClientID, cfg.AuthClientSecret, cfg.AuthRefreshToken)
		}
		coordinator = syncer.New(st, q, remote, session, logger)
	} else {
		logger.Info("sync disabled, running local-only")
	}

	var uploader *media.Uploader
	if cfg.MediaEndpoint != "" {
		uploader, err = media.NewUploader(context.Background(),
			cfg.MediaEndpoint, cfg.MediaBucket, cfg.MediaBaseURL, logger)
		if err != nil {
			logger.Fatal("Failed to initialize media storage", zap.Error(err))
		}
	}

	authMW, err := buildAuth(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize auth", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		Views: html.New("./views", ".html"),
	})

	handler := &routes.Handler{
		Store:    st,
		Queue:    q,
		Recovery: rec,
		Media:    uploader,
		Log:      logger,
	}
	if coordinator != nil {
		handler.Sync = coordinator
	}
	handler.Register(app, authMW)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if coordinator != nil {
		go drainLoop(ctx, coordinator, cfg.DrainInterval, logger)
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// drainLoop opportunistically replays pending operations. Failed items
// are left for manual retry; only a fresh pass over pending work runs
// each tick.
func drainLoop(ctx context.Context, c *syncer.Coordinator, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			applied, err := c.Drain(ctx)
			if err != nil {
				logger.Debug("drain deferred", zap.Error(err))
				continue
			}
			if applied > 0 {
				logger.Info("drained pending operations", zap.Int("applied", applied))
			}
		}
	}
}

func buildAuth(cfg *config.Config) (fiber.Handler, error) {
	if cfg.AuthDomain == "" {
		return middleware.LocalUser(cfg.LocalUserID), nil
	}
	jwks, err := middleware.NewJWKS(cfg.AuthDomain)
	if err != nil {
		return nil, err
	}
	issuer := "https://" + cfg.AuthDomain + "/"
	return middleware.AuthRequired(jwks, cfg.AuthAudience, issuer), nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}
