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

	"github.com/gorilla/handlers"

	"github.com/okulov/sensorfleet/internal/analytics"
	"github.com/okulov/sensorfleet/internal/api"
	config "github.com/okulov/sensorfleet/internal/config/analytics"
)

func setupLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func main() {
	logger := setupLogger()
	slog.SetDefault(logger)

	cfg := config.MustLoad()

	slog.Info("starting analytics",
		"env", cfg.Env,
		"http_addr", cfg.HTTPAddr,
		"processed_path", cfg.ProcessedPath,
	)

	svc := analytics.New(cfg.ProcessedPath, analytics.WithLogger(logger))
	router := api.NewRouter(svc, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handlers.LoggingHandler(os.Stdout, router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "err", err)
	}

	slog.Info("analytics stopped")
}
