package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ideaboard/api/internal/app"
	"ideaboard/api/internal/audit"
	"ideaboard/api/internal/config"
	"ideaboard/api/internal/forum"
	"ideaboard/api/internal/metrics"
	"ideaboard/api/internal/store"
	"ideaboard/api/internal/tracking"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dataStore := store.NewPostgresStore(db)
	forumService := forum.New(db)
	auditLog := audit.New(db)

	var tracker *tracking.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		tracker, err = tracking.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer tracker.Close()
		logger.Info("read tracking enabled", "redis", cfg.RedisURL)
	} else {
		logger.Info("read tracking disabled, no redis url configured")
	}

	counters := metrics.New()

	var service *app.Service
	if tracker != nil {
		service = app.New(cfg, dataStore, forumService, tracker, auditLog, counters, logger)
	} else {
		service = app.New(cfg, dataStore, forumService, nil, auditLog, counters, logger)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("ideaboard API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
