// Command qaengine wires the execution core's components into a single
// process: Execution Orchestrator, Scheduler, History Recorder, Flakiness
// Analyzer and (on demand) the Fix Agent, fronted by the in-process
// api.Core surface. Grounded on the teacher's cmd/appserver/main.go
// flag/DSN/signal-handling shape, adapted from an HTTP listener to a
// headless service process since this core exposes no REST surface.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/qa-automation-core/internal/agent"
	"github.com/r3e-network/qa-automation-core/internal/api"
	"github.com/r3e-network/qa-automation-core/internal/artifact"
	"github.com/r3e-network/qa-automation-core/internal/browserdriver"
	"github.com/r3e-network/qa-automation-core/internal/config"
	"github.com/r3e-network/qa-automation-core/internal/flaky"
	"github.com/r3e-network/qa-automation-core/internal/history"
	"github.com/r3e-network/qa-automation-core/internal/logging"
	"github.com/r3e-network/qa-automation-core/internal/metricsx"
	"github.com/r3e-network/qa-automation-core/internal/orchestrator"
	"github.com/r3e-network/qa-automation-core/internal/persistence/memory"
	"github.com/r3e-network/qa-automation-core/internal/persistence/postgres"
	"github.com/r3e-network/qa-automation-core/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
)

// buildRepositories wires either the Postgres adapter (when cfg.Database.DSN
// is set) or the in-memory default, returning the narrow interfaces each
// component depends on plus a cleanup func.
func buildRepositories(cfg *config.Config, runMigrations bool, logger *logging.Logger) (
	api.TestStore, orchestrator.RunRepository, scheduler.Repository, history.Repository, api.AgentStore, func(),
) {
	if cfg.Database.DSN == "" {
		logger.Info("no database DSN configured; using in-memory persistence")
		store := memory.New()
		return memory.NewTestRepository(store), memory.NewRunRepository(store), memory.NewScheduleRepository(store),
			memory.NewHistoryRepository(store), memory.NewAgentRepository(store), func() {}
	}

	db, err := postgres.Open(context.Background(), cfg.Database.DSN)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if runMigrations && cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(db, cfg.Database.MigrationsPath); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	return postgres.NewTestRepository(db), postgres.NewRunRepository(db), postgres.NewScheduleRepository(db),
		postgres.NewHistoryRepository(db), postgres.NewAgentRepository(db), func() { db.Close() }
}

func main() {
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "Path to YAML configuration file")
	runMigrations := flag.Bool("migrate", true, "apply database migrations from the configured migrations path on startup (ignored for in-memory)")
	flag.Parse()

	if trimmed := *configPath; trimmed != "" {
		os.Setenv("CONFIG_FILE", trimmed)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	logger := logging.New("qaengine", cfg.Logging.Level, cfg.Logging.Format)
	registry := prometheus.NewRegistry()
	metrics := metricsx.New(registry)

	testRepo, runRepo, schedRepo, histRepo, agentRepo, closeStore := buildRepositories(cfg, *runMigrations, logger)
	defer closeStore()

	artifactStore := artifact.New(cfg.Artifact.Root, cfg.Artifact.MaxFileBytes)
	artifactSink := &orchestrator.StoreArtifactSink{Store: artifactStore}

	driver := browserdriver.NewRodDriverWithRateLimit(5, 2)

	orch := orchestrator.New(cfg, logger, metrics, runRepo, testRepo, driver, artifactSink)

	schedCfg := scheduler.Config{
		TickInterval: time.Duration(cfg.Scheduler.TickMs) * time.Millisecond,
		Catchup:      scheduler.CatchupPolicy(cfg.Scheduler.Catchup),
	}
	sched := scheduler.New(schedCfg, logger, metrics, schedRepo, orch)

	recorder := history.New(1024, logger, metrics, histRepo, testRepo)
	orch.Observe(recorder.Observe)

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr})
	}
	analyzer := flaky.NewAnalyzer(histRepo, redisClient, time.Duration(cfg.Cache.TTLSec)*time.Second, logger, metrics)

	proposer := agent.NewHeuristicProposer(0)
	newAgent := func(acfg agent.Config) *agent.Agent {
		return agent.New(acfg, logger, metrics, testRepo, orch, orch, analyzer, histRepo, proposer)
	}

	core := api.New(orch, sched, artifactStore, testRepo, agentRepo, analyzer, newAgent)
	_ = core

	ctx := context.Background()
	go metrics.PollHostStats(ctx, 0)
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("start orchestrator: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	if err := recorder.Start(ctx); err != nil {
		log.Fatalf("start history recorder: %v", err)
	}
	logger.Info("qa automation core started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := recorder.Stop(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("history recorder shutdown failed")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("scheduler shutdown failed")
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("orchestrator shutdown failed")
	}
}
