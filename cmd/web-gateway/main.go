package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crop-planner/internal/api"
	"crop-planner/internal/auth"
	"crop-planner/internal/cache"
	"crop-planner/internal/config"
	"crop-planner/internal/predict"
	"crop-planner/internal/resilience"
)

func main() {
	cfg := config.NewConfig()

	level := slog.LevelInfo
	if cfg.DebugMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("Starting web gateway", "port", cfg.HTTPPort, "app", cfg.AppName, "version", cfg.AppVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store   cache.Store
		limiter api.RateLimiter
	)
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.StateTTL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		slog.Info("Connected to Redis", "addr", cfg.RedisAddr)
		store, limiter = redisStore, redisStore
	} else {
		slog.Info("REDIS_ADDR not set, keeping view state in memory")
		store = cache.NewMemoryStore(cfg.StateTTL)
	}

	opts := []predict.Option{predict.WithTimeout(cfg.PredictTimeout)}
	if cfg.PredictBreakerThreshold > 0 {
		opts = append(opts, predict.WithCircuitBreaker(
			resilience.NewCircuitBreaker(cfg.PredictBreakerThreshold, cfg.PredictBreakerCooldown)))
	}
	predictor := predict.NewClient(cfg.PredictEndpoint, opts...)
	slog.Info("Prediction endpoint", "url", predictor.Endpoint())

	if cfg.SessionSecret == "dev-session-secret" {
		slog.Warn("SESSION_SECRET not set, using the development default")
	}
	// Secure cookies are dropped by browsers on plain http, so TLS is opt-in.
	sessions := auth.NewSessions(cfg.SessionSecret, cfg.CookieSecure)

	handler, err := api.NewHandler(cfg, sessions, predictor, store, limiter)
	if err != nil {
		slog.Error("Failed to build handlers", "error", err)
		os.Exit(1)
	}

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}()

	slog.Info("Server listening", "addr", serverAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
