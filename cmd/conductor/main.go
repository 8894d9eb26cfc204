package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebas/conductor/internal/banner"
	"github.com/sebas/conductor/internal/focus/app"
	"github.com/sebas/conductor/internal/focus/config"
	"github.com/sebas/conductor/internal/logger"
	"github.com/sebas/conductor/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	focus, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to create focus", "error", err)
		os.Exit(1)
	}

	banner.Print("Conductor Conference Focus", []banner.ConfigLine{
		{Label: "Strategy", Value: cfg.Strategy.String()},
		{Label: "Bridges", Value: fmt.Sprintf("%d configured", len(cfg.BridgeAddrs))},
		{Label: "Max bridge stress", Value: fmt.Sprintf("%.2f", cfg.MaxBridgeStress)},
		{Label: "Multi-bridge", Value: fmt.Sprintf("%t", cfg.MultiBridgeEnabled)},
		{Label: "Metrics", Value: cfg.MetricsAddr},
		{Label: "Log level", Value: logger.GetLevel()},
	})

	run(focus, cfg)
}

func run(focus *app.Focus, cfg *config.Config) {
	focus.Start()

	metricsSrv := startMetrics(focus, cfg.MetricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := focus.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
}

func startMetrics(focus *app.Focus, addr string) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(focus, focus, time.Now()))
	focus.Counters().Register(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("Metrics available", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server error", "error", err)
		}
	}()
	return srv
}
