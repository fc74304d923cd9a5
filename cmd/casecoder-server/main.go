// Package main provides the casecoder analysis server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkratky/casecoder/internal/analysis"
	"github.com/dkratky/casecoder/internal/config"
	"github.com/dkratky/casecoder/internal/llm"
	"github.com/dkratky/casecoder/internal/metrics"
	"github.com/dkratky/casecoder/internal/progress"
	"github.com/dkratky/casecoder/internal/server"
)

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg := config.Load()
	if *configFile != "" {
		if err := cfg.ApplyFile(*configFile); err != nil {
			slog.Error("failed to apply config file", "path", *configFile, "error", err)
			os.Exit(1)
		}
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	slog.SetDefault(logger)
	defer func() {
		if err := closeLog(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()

	slog.Info("starting casecoder-server",
		"port", cfg.Port, "data_dir", cfg.DataDir, "provider", cfg.Provider)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	mc := metrics.NewCollector()
	broadcaster := progress.NewBroadcaster()
	registry := analysis.NewRegistry()

	factory := func(ctx context.Context, provider config.Provider, modelName string) (analysis.Annotator, error) {
		return llm.NewModel(ctx, cfg, provider, modelName, mc)
	}
	svc := analysis.NewService(cfg, registry, broadcaster, mc, factory)

	srv := server.New(cfg, svc, broadcaster, mc)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("API available", "url", "http://localhost:"+cfg.Port+"/api")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// In-flight phase runs keep going until their next cancellation check;
	// request a stop for each so they halt promptly.
	for _, phase := range analysis.Phases() {
		registry.RequestCancel(phase)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
