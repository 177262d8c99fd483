// Package main is the entry point for the Vantage portfolio analytics
// service. It runs the nightly batch pipeline (price sync, valuation, factor
// exposures, correlations, stress tests, snapshots) and serves the results
// over HTTP.
package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/vantage/internal/analytics/correlation"
	"github.com/aristath/vantage/internal/analytics/exposure"
	"github.com/aristath/vantage/internal/analytics/pricesync"
	"github.com/aristath/vantage/internal/analytics/snapshot"
	"github.com/aristath/vantage/internal/analytics/stress"
	"github.com/aristath/vantage/internal/analytics/valuation"
	"github.com/aristath/vantage/internal/batch"
	"github.com/aristath/vantage/internal/clientcache"
	"github.com/aristath/vantage/internal/clients/marketdata"
	"github.com/aristath/vantage/internal/config"
	"github.com/aristath/vantage/internal/database"
	"github.com/aristath/vantage/internal/events"
	"github.com/aristath/vantage/internal/portfolio"
	"github.com/aristath/vantage/internal/reliability"
	"github.com/aristath/vantage/internal/scheduler"
	"github.com/aristath/vantage/internal/server"
	"github.com/aristath/vantage/pkg/logger"
)

// engineTimeout bounds a single engine's work on one portfolio. The factor
// regression over a full lookback window is the slowest job by far.
const engineTimeout = 10 * time.Minute

// cachePurgeSchedule evicts expired market data cache rows hourly.
const cachePurgeSchedule = "0 15 * * * *"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Int("port", cfg.Port).Msg("Vantage starting")

	// Two databases: durable analytics results and an ephemeral market data
	// cache that can be deleted at any time.
	analyticsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "analytics.db"),
		Profile: database.ProfileStandard,
		Name:    "analytics",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open analytics database")
	}
	defer analyticsDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "marketcache.db"),
		Profile: database.ProfileCache,
		Name:    "marketcache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market cache database")
	}
	defer cacheDB.Close()

	// Repositories.
	positions := portfolio.NewPositionRepository(analyticsDB.Conn(), log)
	exposures := exposure.NewRepository(analyticsDB.Conn(), log)
	correlations := correlation.NewRepository(analyticsDB.Conn(), log)
	stressRepo := stress.NewRepository(analyticsDB.Conn(), log)
	valuations := valuation.NewRepository(analyticsDB.Conn(), log)
	snapshots := snapshot.NewRepository(analyticsDB.Conn(), log)
	cacheRepo := clientcache.NewRepository(cacheDB.Conn())

	type schemaIniter interface{ InitSchema() error }
	for _, repo := range []schemaIniter{positions, exposures, correlations, stressRepo, valuations, snapshots, cacheRepo} {
		if err := repo.InitSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database schema")
		}
	}

	// Historical rows imported before classification existed have a NULL
	// class; fill them in so the engines can trust the stored value.
	if backfilled, err := positions.BackfillClasses(); err != nil {
		log.Error().Err(err).Msg("Position class backfill failed")
	} else if backfilled > 0 {
		log.Info().Int("positions", backfilled).Msg("Backfilled position classes")
	}

	marketClient := marketdata.NewClient(cfg.MarketDataBaseURL, cfg.MarketDataAPIKey, cacheRepo, log)

	// Engines in dependency order. Price sync and valuation are critical;
	// a failure there short-circuits the portfolio's remaining jobs.
	valuationEngine := valuation.NewEngine(positions, marketClient, valuations, log)
	engines := []batch.Engine{
		pricesync.NewEngine(positions, marketClient, cfg.LookbackDays, log),
		valuationEngine,
		exposure.NewEngine(positions, marketClient, exposures, cfg.LookbackDays, cfg.MinRegressionDays, log),
		correlation.NewEngine(positions, marketClient, correlations, cfg.LookbackDays, cfg.MinPairOverlapDays, log),
		stress.NewEngine(exposures, valuations, stressRepo, log),
		snapshot.NewEngine(valuations, snapshots, log),
	}

	tracker := batch.NewTracker()
	eventManager := events.NewManager(log)
	orchestrator := batch.NewOrchestrator(tracker, positions, engines, eventManager, engineTimeout, log)

	// Scheduled jobs.
	sched := scheduler.New(log)
	if cfg.BatchSchedule != "" {
		if err := sched.AddJob(cfg.BatchSchedule, scheduler.NewNightlyBatchJob(orchestrator, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule nightly batch")
		}
	}
	if err := sched.AddJob(cachePurgeSchedule, scheduler.NewCachePurgeJob(cacheRepo, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cache purge")
	}

	if cfg.Backup.Enabled() {
		s3Client, err := reliability.NewS3Client(
			context.Background(),
			cfg.Backup.Endpoint,
			cfg.Backup.Region,
			cfg.Backup.AccessKeyID,
			cfg.Backup.SecretAccessKey,
			cfg.Backup.Bucket,
			log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client for backups")
		}
		backupService := reliability.NewBackupService(
			s3Client,
			[]*database.DB{analyticsDB},
			cfg.DataDir,
			cfg.Backup.Retention,
			log,
		)
		if err := sched.AddJob(cfg.Backup.Schedule, backupService); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backups")
		}
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Cloud backups enabled")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		DataDir:      cfg.DataDir,
		AnalyticsDB:  analyticsDB,
		CacheDB:      cacheDB,
		Positions:    positions,
		Exposures:    exposures,
		Correlations: correlations,
		Stress:       stressRepo,
		Valuations:   valuations,
		Snapshots:    snapshots,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Events:       eventManager,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	sched.Stop()
	log.Info().Msg("Shutdown complete")
}
