package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	config "github.com/okulov/sensorfleet/internal/config/etl"
	"github.com/okulov/sensorfleet/internal/etl"
)

func setupLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func main() {
	logger := setupLogger()
	slog.SetDefault(logger)

	cfg := config.MustLoad()

	slog.Info("starting etl",
		"env", cfg.Env,
		"raw_path", cfg.RawPath,
		"processed_path", cfg.ProcessedPath,
		"interval", cfg.Interval,
		"watch", cfg.Watch,
		"metrics_addr", cfg.MetricsAddr,
	)

	pipeline := etl.New(cfg.RawPath, cfg.ProcessedPath, etl.WithLogger(logger))

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			slog.Error("metrics server error", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	switch {
	case cfg.Watch:
		if err := pipeline.Watch(ctx, cfg.Debounce); err != nil {
			slog.Error("watch error", "err", err)
			os.Exit(1)
		}
	case cfg.Interval > 0:
		if err := pipeline.RunEvery(ctx, cfg.Interval); err != nil {
			slog.Error("interval run error", "err", err)
			os.Exit(1)
		}
	default:
		stats, err := pipeline.Run()
		if err != nil {
			slog.Error("cleaning run failed", "err", err)
			os.Exit(1)
		}
		slog.Info("cleaning finished",
			"extracted", stats.Extracted,
			"retained", stats.Retained,
			"retention_rate", stats.RetentionRate(),
		)
	}

	slog.Info("etl stopped")
}
