// Harrier - AML case engine: scoring, review workflow, audit trail.
// Copyright (c) 2026 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/narrative"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/service"
	"github.com/opensource-finance/harrier/internal/store"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if path := os.Getenv("HARRIER_DB"); path != "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.SQLitePath = path
	}
	if path := os.Getenv("HARRIER_RULES"); path != "" {
		cfg.RuleFile = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

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

	// Initialize Store
	caseStore, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer caseStore.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Scoring Engine
	engine, err := scoring.NewEngine()
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}

	ruleSet, err := loadRuleSet(cfg.RuleFile)
	if err != nil {
		slog.Error("failed to load rule set", "error", err)
		os.Exit(1)
	}

	registry, err := scoring.NewRegistry(engine, ruleSet)
	if err != nil {
		slog.Error("failed to compile rule set", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring engine initialized",
		"rules_count", len(ruleSet.Rules),
		"rule_set_version", ruleSet.Version,
	)

	// Initialize Service
	svc := service.New(caseStore, caseStore, registry, cacheImpl, busImpl)

	// Initialize Narrative Worker
	narrativeWorker := worker.NewWorker(busImpl, svc, narrative.NewTemplateGenerator())
	if err := narrativeWorker.Start(); err != nil {
		slog.Error("failed to start narrative worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker before the server so in-flight narrative fills
	// can finish against a live store.
	if err := narrativeWorker.Stop(); err != nil {
		slog.Error("failed to stop narrative worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// loadRuleSet loads typology rules from the configured file, falling
// back to the built-in default set.
func loadRuleSet(path string) (*domain.RuleSet, error) {
	if path == "" {
		slog.Info("no rule file configured, using built-in rule set")
		return scoring.DefaultRuleSet()
	}

	rs, err := scoring.LoadRuleFile(path)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded rule file", "path", path, "rules", len(rs.Rules))
	return rs, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HARRIER - AML Case Engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /cases                 - Submit evidence, open a case")
	fmt.Println("    GET  /cases                 - List cases")
	fmt.Println("    GET  /cases/{id}            - Get case by ID")
	fmt.Println("    GET  /cases/{id}/audit      - Case audit trail")
	fmt.Println("    POST /cases/{id}/rescore    - Re-score against active rules")
	fmt.Println("    POST /cases/{id}/narrative  - Attach a draft narrative")
	fmt.Println("    POST /cases/{id}/review     - Open analyst review")
	fmt.Println("    POST /cases/{id}/approve    - Approve the case")
	fmt.Println("    POST /cases/{id}/reject     - Reject the case")
	fmt.Println("    POST /cases/{id}/reopen     - Reopen a decided case")
	fmt.Println("    POST /cases/{id}/archive    - Archive a decided case")
	fmt.Println("    GET  /audit                 - Audit queries (actor, typology, range)")
	fmt.Println("    GET  /stats                 - Dashboard aggregates")
	fmt.Println("    GET  /rules                 - Active rule set")
	fmt.Println("    POST /rules/reload          - Hot-reload typology rules")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
