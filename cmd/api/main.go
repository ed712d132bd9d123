package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/mandates/internal/api"
	"github.com/punchamoorthee/mandates/internal/bootstrap"
	"github.com/punchamoorthee/mandates/internal/config"
	"github.com/punchamoorthee/mandates/internal/service"
	"github.com/punchamoorthee/mandates/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Backend == config.BackendPostgres && cfg.AutoMigrate {
		if err := store.Migrate(cfg.DBSource, logger); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
	}

	backend, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("unable to open store", zap.Error(err))
	}
	defer backend.Close()

	// Initialize Layers
	mandates := backend.MandateService(logger)
	handler := api.NewHandler(api.Deps{
		Mandates: mandates,
		Captures: service.NewCaptureService(backend.Captures, mandates, logger),
		Accounts: service.NewAccountService(backend.Mandates, backend.Captures, logger),
		Ping:     backend.Ping,
	}, cfg, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
