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

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/okulov/sensorfleet/internal/config/simulator"
	"github.com/okulov/sensorfleet/internal/fleet"
	"github.com/okulov/sensorfleet/internal/handler"
	"github.com/okulov/sensorfleet/internal/models/reading"
)

func setupLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func main() {
	logger := setupLogger()
	slog.SetDefault(logger)

	cfg := config.MustLoad()

	slog.Info("starting simulator",
		"env", cfg.Env,
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", cfg.MetricsAddr,
		"store_path", cfg.StorePath,
		"store_format", cfg.StoreFormat,
		"run_duration", cfg.RunDuration,
		"sensors", len(cfg.Sensors),
	)

	sensors, err := fleetSensors(cfg.Sensors)
	if err != nil {
		slog.Error("invalid sensor config", "err", err)
		os.Exit(1)
	}

	orch := fleet.New(fleet.Config{
		StorePath:   cfg.StorePath,
		StoreFormat: cfg.StoreFormat,
		SyncEvery:   cfg.SyncEvery,
		PausePoll:   cfg.PausePoll,
	}, fleet.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx, sensors); err != nil {
		slog.Error("fleet start error", "err", err)
		os.Exit(1)
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			slog.Error("metrics server error", "err", err)
		}
	}()

	h := handler.New(orch, logger, cfg.ShutdownTimeout)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handlers.LoggingHandler(os.Stdout, h.Router()),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	var (
		summary fleet.Summary
		stopErr error
	)
	if cfg.RunDuration > 0 {
		summary, stopErr = orch.RunFor(ctx, cfg.RunDuration, cfg.ShutdownTimeout)
	} else {
		select {
		case <-ctx.Done():
		case <-orch.Done():
			slog.Info("fleet stopped via control api")
		}
		summary, stopErr = orch.StopAndWait(cfg.ShutdownTimeout)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "err", err)
	}

	if stopErr != nil {
		slog.Error("fleet stop error", "err", stopErr)
		os.Exit(1)
	}

	slog.Info("simulator stopped",
		"run_id", summary.RunID,
		"written", summary.Written,
		"failed", summary.Failed,
	)
}

func fleetSensors(entries []config.Sensor) ([]fleet.SensorConfig, error) {
	if len(entries) == 0 {
		return fleet.DefaultFleet(), nil
	}

	out := make([]fleet.SensorConfig, 0, len(entries))
	for _, e := range entries {
		kind, err := reading.ParseKind(e.Type)
		if err != nil {
			return nil, fmt.Errorf("sensor %q: %w", e.ID, err)
		}
		out = append(out, fleet.SensorConfig{
			ID:           e.ID,
			Kind:         kind,
			Interval:     e.Interval,
			Jitter:       e.Jitter,
			MaxRetries:   e.MaxRetries,
			RetryBackoff: e.RetryBackoff,
			Params:       e.Params,
		})
	}
	return out, nil
}
