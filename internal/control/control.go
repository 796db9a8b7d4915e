// Package control wires the tracker together and drives its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/calcwatch/internal/classify"
	"github.com/vietddude/calcwatch/internal/core/config"
	"github.com/vietddude/calcwatch/internal/health"
	"github.com/vietddude/calcwatch/internal/infra/inputs"
	redisclient "github.com/vietddude/calcwatch/internal/infra/redis"
	"github.com/vietddude/calcwatch/internal/infra/scheduler"
	"github.com/vietddude/calcwatch/internal/infra/scheduler/slurm"
	"github.com/vietddude/calcwatch/internal/infra/storage"
	"github.com/vietddude/calcwatch/internal/infra/storage/memory"
	"github.com/vietddude/calcwatch/internal/infra/storage/postgres"
	"github.com/vietddude/calcwatch/internal/recovery"
	"github.com/vietddude/calcwatch/internal/workflow"
)

// App owns every long-lived component of the tracker.
type App struct {
	cfg     *config.AppConfig
	store   *storage.Store
	db      *postgres.DB // nil in memory mode
	redis   *redisclient.Client
	mirror  *scheduler.Mirror
	monitor *Monitor
	health  *health.Server
	log     *slog.Logger
}

// NewApp assembles the tracker from configuration. An empty database URL
// selects the in-memory store; an empty redis URL disables the recheck
// queue.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.With("component", "app")

	var (
		store *storage.Store
		db    *postgres.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init database: %w", err)
		}
		store = postgres.NewStore(db)
		log.Info("using postgres store")
	} else {
		store = memory.NewStore(memory.NewMemoryStorage())
		log.Warn("no database URL configured, using in-memory store")
	}

	var (
		rdb     *redisclient.Client
		recheck *redisclient.RecheckQueue
	)
	if cfg.Redis.URL != "" {
		var err error
		rdb, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		recheck = redisclient.NewRecheckQueue(rdb)
		log.Info("recheck queue enabled")
	}

	classifier := classify.New()
	if cfg.Monitor.RulesFile != "" {
		rules, err := classify.LoadRules(cfg.Monitor.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load classifier rules: %w", err)
		}
		classifier, err = classify.NewWithRules(rules)
		if err != nil {
			return nil, fmt.Errorf("failed to compile classifier rules: %w", err)
		}
	}

	generator := inputs.NewCommandGenerator(cfg.Generator)
	sched := slurm.NewAdapter(cfg.Scheduler, slurm.ExecRunner{})
	rec := recovery.NewEngine(store.Calculations, generator, cfg.Monitor.MaxRecoveryAttempts)
	wf := workflow.NewEngine(store, generator, cfg.Monitor.WorkRoot)

	if err := workflow.EnsureTemplates(ctx, store.Workflows); err != nil {
		return nil, fmt.Errorf("failed to register workflow templates: %w", err)
	}

	var mirror *scheduler.Mirror
	if cfg.Monitor.MirrorPath != "" {
		mirror = scheduler.NewMirror(cfg.Monitor.MirrorPath)
		if err := mirror.Rebuild(ctx, store.Calculations); err != nil {
			log.Warn("failed to rebuild status mirror", "error", err)
		}
	}

	var pinger health.Pinger
	if db != nil {
		pinger = db
	}
	healthSrv := health.NewServer(health.NewMonitor(pinger, store.Calculations), cfg.Server.Port)

	return &App{
		cfg:     cfg,
		store:   store,
		db:      db,
		redis:   rdb,
		mirror:  mirror,
		monitor: NewMonitor(store, sched, classifier, rec, wf, mirror, recheck, cfg.Monitor),
		health:  healthSrv,
		log:     log,
	}, nil
}

// Store exposes the repositories, mainly for the admin binary.
func (a *App) Store() *storage.Store { return a.store }

// Mirror exposes the legacy status mirror, nil when disabled.
func (a *App) Mirror() *scheduler.Mirror { return a.mirror }

// Monitor exposes the monitor loop for single-cycle invocation.
func (a *App) Monitor() *Monitor { return a.monitor }

// Start launches the health server and the monitor loop. It blocks until
// the context is cancelled.
func (a *App) Start(ctx context.Context) error {
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go func() {
		a.log.Info("health server listening", "port", a.cfg.Server.Port)
		if err := a.health.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Error("health server failed", "error", err)
		}
	}()

	a.monitor.Start(ctx)
	return nil
}

// Stop shuts the app down.
func (a *App) Stop(ctx context.Context) {
	if err := a.health.Stop(ctx); err != nil {
		a.log.Warn("health server shutdown failed", "error", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("database close failed", "error", err)
		}
	}
	a.log.Info("shutdown complete")
}
