// Package main is the entry point for the quant portfolio analytics service.
// The service ingests daily price history, optimizes portfolio weights under
// several objectives, attributes realized returns to systematic factors, and
// validates strategies out-of-sample with walk-forward analysis.
//
// Startup sequence:
// 1. Load configuration from environment variables
// 2. Initialize structured logging
// 3. Open the SQLite price database and run migrations
// 4. Wire the computation cache, factor calculator, optimizer, attribution
//    engine, and walk-forward validator
// 5. Start the HTTP server and background scheduler
// 6. Wait for shutdown signal and drain gracefully
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/frontieralpha/quant/internal/config"
	"github.com/frontieralpha/quant/internal/database"
	"github.com/frontieralpha/quant/internal/modules/attribution"
	"github.com/frontieralpha/quant/internal/modules/factors"
	"github.com/frontieralpha/quant/internal/modules/marketdata"
	"github.com/frontieralpha/quant/internal/modules/optimization"
	"github.com/frontieralpha/quant/internal/modules/walkforward"
	"github.com/frontieralpha/quant/internal/reliability"
	"github.com/frontieralpha/quant/internal/scheduler"
	"github.com/frontieralpha/quant/internal/server"
	"github.com/frontieralpha/quant/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting quant service")

	// Price history database. Single SQLite file in WAL mode; the store
	// runs its own migrations on Init.
	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "quant.db"),
		Name: "quant",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	store := marketdata.NewStore(db.Conn(), log)
	if err := store.Init(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price store")
	}

	// Shared computation cache for covariance matrices and returns.
	cache := marketdata.NewCache(log)

	factorCalc := factors.NewCalculator(log)
	optimizer := optimization.NewOptimizer(factorCalc, cache, log)
	attributionEngine := attribution.NewEngine(attribution.Config{}, log)
	validator := walkforward.NewValidator(log)

	// Report archiver is nil when no archive bucket is configured;
	// handlers and jobs treat nil as "archiving off".
	archiver, err := reliability.NewReportArchiver(cfg.Archive, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize report archiver")
	}
	if archiver != nil {
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Report archiving enabled")
	}

	handlers := server.NewHandlers(store, optimizer, attributionEngine, validator, factorCalc, archiver, log)
	health := server.NewHealthHandler(db, log)

	srv := server.New(server.Config{
		Log:      log,
		Config:   cfg,
		Handlers: handlers,
		Health:   health,
		Port:     cfg.Port,
		DevMode:  cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Background jobs: periodic cache sweeps, a WAL checkpoint alongside
	// each sweep, and optionally a scheduled walk-forward revalidation.
	sched := scheduler.New(log)

	sweepJob := &scheduler.CacheSweepJob{Cache: cache, Log: log}
	if err := sched.AddJob(cfg.CacheSweepSchedule, sweepJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache sweep")
	}
	checkpointJob := &scheduler.WALCheckpointJob{DB: db, Log: log}
	if err := sched.AddJob("@every 1h", checkpointJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule WAL checkpoint")
	}

	if cfg.ValidationSchedule != "" && cfg.ValidationSymbolsCSV != "" {
		validationJob := &scheduler.ValidationJob{
			Store:     store,
			Validator: validator,
			Archiver:  archiver,
			Symbols:   splitSymbols(cfg.ValidationSymbolsCSV),
			Objective: optimization.ObjectiveMaxSharpe,
			Log:       log,
		}
		if err := sched.AddJob(cfg.ValidationSchedule, validationJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule validation job")
		}
		log.Info().Str("schedule", cfg.ValidationSchedule).Msg("Scheduled validation enabled")
	}

	sched.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		log.Warn().Err(err).Msg("Final WAL checkpoint failed")
	}

	log.Info().Msg("Shutdown complete")
}

// splitSymbols parses a comma-separated symbol list, trimming blanks.
func splitSymbols(csv string) []string {
	parts := strings.Split(csv, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}
