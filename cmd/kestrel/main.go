// Kestrel - Insight generation for trade spend, promotions and claims.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/notify"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rulectx"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scanner"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scan_interval", cfg.Scanner.Interval(),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus, logger)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule catalog and evaluator
	catalog := rules.DefaultCatalog()
	evaluator := rules.NewEvaluator(catalog, logger)
	slog.Info("rule catalog loaded", "modules", len(catalog.Modules()), "rules_count", catalog.Count())

	contexts := rulectx.NewBuilder(repo, cacheImpl, cfg.Cache.StatsTTL(), logger)
	notifier := notify.New(cfg.Notify, busImpl, logger)

	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = "kestrel"
	}

	sc := scanner.New(scanner.Deps{
		Entities:  repo,
		Insights:  repo,
		Evaluator: evaluator,
		Contexts:  contexts,
		Notifier:  notifier,
		Logger:    logger,
		Tracer:    otel.Tracer(serviceName),
	}, cfg.Scanner)

	if cfg.Scanner.AutoStart {
		sc.Start(ctx)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Insights:    repo,
		Catalog:     catalog,
		Scanner:     sc,
		Cache:       cacheImpl,
		Bus:         busImpl,
		BaseContext: ctx,
	}, Version, logger)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the scanner first so no pass writes during shutdown
	sc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║       Insight Generation Engine           ║")
	fmt.Println("  ║    Hovering over every promotion.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Scanner:  every %s (autostart=%t)\n", cfg.Scanner.Interval(), cfg.Scanner.AutoStart)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /insights                     - List insights")
	fmt.Println("    GET  /insights/summary             - Counts by severity and status")
	fmt.Println("    GET  /insights/top                 - Most severe open insights")
	fmt.Println("    GET  /insights/{id}                - Get insight by ID")
	fmt.Println("    POST /insights/{id}/acknowledge    - Acknowledge an insight")
	fmt.Println("    POST /insights/{id}/assign         - Assign an insight")
	fmt.Println("    POST /insights/{id}/resolve        - Resolve an insight")
	fmt.Println("    POST /insights/{id}/dismiss        - Dismiss an insight")
	fmt.Println("    POST /scan/{module}/{entityId}     - Scan one entity now")
	fmt.Println("    POST /scanner/start|stop|run       - Control the scanner")
	fmt.Println("    GET  /scanner/status               - Scanner status")
	fmt.Println("    GET  /rules                        - List the rule catalog")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println()
}
