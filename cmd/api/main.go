package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/outs/outs-auth-go/internal/config"
	"github.com/outs/outs-auth-go/internal/crypto"
	"github.com/outs/outs-auth-go/internal/handler"
	"github.com/outs/outs-auth-go/internal/middleware"
	"github.com/outs/outs-auth-go/internal/observability"
	"github.com/outs/outs-auth-go/internal/ratelimit"
	"github.com/outs/outs-auth-go/internal/repository"
	"github.com/outs/outs-auth-go/internal/service"
)

func main() {
	loaded := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger, loaded); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, envFiles []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, w := range cfg.Warnings() {
		logger.Warn("insecure configuration", "detail", w)
	}

	dialect, _, err := repository.ResolveDSN(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	logger.Info("starting auth service",
		"environment", cfg.Environment,
		"env_files", envFiles,
		"database", dialect,
		"access_ttl", cfg.JWTAccessExpire.String(),
		"refresh_ttl", cfg.JWTRefreshExpire.String(),
		"rate_limit_backend", cfg.RateLimitBackend,
	)

	store, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.AutoMigrate || dialect == repository.DialectSQLite {
		if err := store.Migrate(ctx, repository.MigrateUp); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	hasher, err := crypto.NewHasher(crypto.HasherConfig{
		Algorithm:   cfg.HashAlgorithm,
		BcryptCost:  cfg.BcryptCost,
		Concurrency: cfg.HashConcurrency,
	})
	if err != nil {
		return err
	}

	tokens := crypto.NewTokenIssuer(crypto.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessExpire,
		RefreshTTL:    cfg.JWTRefreshExpire,
	})

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	counterStore, closeCounters, err := newCounterStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCounters()

	limiter, err := ratelimit.NewLimiter(counterStore, cfg.RateLimitMax, cfg.RateLimitWindow)
	if err != nil {
		return err
	}

	keyFunc := middleware.ClientKeyFunc(cfg.TrustProxyHeaders)
	throttle := middleware.NewThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst, keyFunc)
	defer throttle.Stop()

	authService := service.NewAuthService(store, hasher, tokens, logger, metrics)

	router := handler.NewRouter(handler.RouterConfig{
		Logger:         logger,
		Auth:           handler.NewAuthHandler(authService, logger),
		Health:         handler.NewHealthHandler(store, logger),
		Tokens:         tokens,
		LoginLimiter:   limiter,
		KeyFunc:        keyFunc,
		Throttle:       throttle,
		Metrics:        metrics,
		ExposeMetrics:  cfg.MetricsEnabled,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Production:     cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

// newCounterStore picks the rate limit backend. The memory store is swept in
// the background until ctx is cancelled.
func newCounterStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Store, func(), error) {
	if cfg.RateLimitBackend == "redis" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("rate limit counters in redis", "addr", cfg.RedisAddr)
		return ratelimit.NewRedisStore(client), func() { _ = client.Close() }, nil
	}

	store := ratelimit.NewMemoryStore()
	go store.Run(ctx, cfg.RateLimitSweepInterval)
	return store, func() {}, nil
}
