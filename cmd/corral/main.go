// Package main is Corral's entry point: load configuration, build the
// Supervisor, start the configured targets, and block until SIGINT or
// SIGTERM trigger a clean shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"all"}
	}

	// 1. Load configuration.
	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting corral")

	// 3. Build the supervisor and bring up every configured runnable.
	sup, err := supervisor.New(log, cfg, *configPath)
	if err != nil {
		log.Error("failed to build supervisor", zap.Error(err))
		os.Exit(1)
	}
	sup.Init()

	ctx := context.Background()
	if err := sup.StartAll(ctx, targets); err != nil {
		log.Error("failed to start targets", zap.Strings("targets", targets), zap.Error(err))
		os.Exit(1)
	}

	// 4. Block until SIGINT/SIGTERM, then StopAll and exit 0 (spec.md §6
	// "Signals the supervisor consumes").
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down corral")
	shutdownCtx := context.Background()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	log.Info("corral stopped")
}
