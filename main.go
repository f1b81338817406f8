package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bulk-mailer/config"
	"bulk-mailer/database"
	"bulk-mailer/handlers"
	"bulk-mailer/logger"
	"bulk-mailer/mailer"
	"bulk-mailer/services"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration from .env
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	log := logger.New(
		logger.WithLevel(cfg.LogLevel),
		logger.WithFormat(cfg.LogFormat),
		logger.WithAttr("service", "bulk-mailer"),
	)
	slog.SetDefault(log)

	// Initialize storage and apply migrations
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := database.Open(connectCtx, cfg.Store, database.SourcePolicy(cfg.SourcePolicy), log)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error("Error closing store", logger.Err(err))
		}
	}()

	transport, err := mailer.New(ctx, cfg.Mail)
	if err != nil {
		return err
	}
	log.Info("Mail transport ready", slog.String("driver", cfg.Mail.Driver))

	dispatcher := services.NewDispatcher(
		store.Addresses(),
		store.Deliveries(),
		transport,
		cfg.Mail.Sender(),
		services.WithConcurrency(cfg.DispatchConcurrency),
		services.WithDailyLimit(cfg.DailyMailLimit, cfg.Location()),
		services.WithLogger(log),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(cfg, store, dispatcher, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", slog.String("port", cfg.Port))
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

	log.Info("Shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
