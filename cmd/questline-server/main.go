package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	ctx := context.Background()
	app, cleanup, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config
	log := app.Logger

	log.Info("starting questline server",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter)

	srv := app.Server
	errc := make(chan error, 2)

	go func() {
		log.Info("server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("api server: %w", err)
		}
	}()

	if ms := app.Metrics.Server; ms != nil {
		go func() {
			log.Info("metrics listening", "address", ms.Addr, "path", cfg.Metrics.Path)
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	exit := 0
	select {
	case sig := <-quit:
		log.Info("shutting down server", "signal", sig.String(), "timeout", cfg.Server.ShutdownTimeout)
	case err := <-errc:
		log.Error("server failed", "error", err)
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("error during server shutdown", "error", err)
		exit = 1
	}
	if ms := app.Metrics.Server; ms != nil {
		if err := ms.Shutdown(shutdownCtx); err != nil {
			log.Error("error during metrics shutdown", "error", err)
		}
	}

	summary := app.Progress.Summarize(time.Now().UTC().Format("2006-01-02"), 5)
	log.Info("server stopped",
		"active_users", summary.ActiveUsers,
		"quests_completed", summary.QuestsCompleted,
		"badges_unlocked", summary.BadgesUnlocked,
		"spins", summary.Spins,
		"webhook_failures", webhookFailures(app),
		"events_dropped", app.Bus.Dropped())

	if exit != 0 {
		cleanup()
		os.Exit(exit)
	}
}

func webhookFailures(app *App) uint64 {
	if app.Webhooks == nil {
		return 0
	}
	return app.Webhooks.Failures()
}
