package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/pixelforge-backend/api/routes"
	"github.com/angelmondragon/pixelforge-backend/internal/engine"
	"github.com/angelmondragon/pixelforge-backend/internal/subscriptions"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/angelmondragon/pixelforge-backend/pkg/migrate"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/angelmondragon/pixelforge-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/pixelforge-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
		Format:      logger.Format(cfg.App.LogFormat),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	eng, err := engine.New(engine.Params{
		Config:     cfg,
		DB:         dbClient,
		Stripe:     subscriptions.NewStripeClient(stripeClient, cfg.Stripe.Timeout),
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire ledger engine", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"stripe":   stripeClient.Environment(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Gatherer:       prometheus.DefaultGatherer,
			Credits:        eng.Credits,
			Ledger:         eng.Credits,
			Accounts:       eng.Accounts,
			DeadLetters:    outbox.NewDLQRepository(dbClient.DB()),
			Subscriptions:  eng.Subscriptions,
			Retention:      eng.Retention,
			StripeWebhooks: eng.Webhooks,
			StripeVerifier: stripeClient.Verifier(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "api server shutdown failed", err)
		}
		logg.Info(logCtx, "api server stopped")
	}
}
