// Package app builds the call pipeline from configuration. Both the api
// server and callctl use it so they share one store and one set of rules.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"callpilot/internal/calls"
	"callpilot/internal/classifier"
	"callpilot/internal/config"
	"callpilot/internal/events"
	"callpilot/internal/metrics"
	"callpilot/internal/orchestrator"
	"callpilot/internal/reporting"
	"callpilot/internal/telephony"
	"callpilot/pkg/utils"

	"github.com/redis/go-redis/v9"
)

type App struct {
	Config     config.Config
	Log        *slog.Logger
	Metrics    *metrics.Metrics
	Store      calls.Store
	Provider   telephony.Provider
	Classifier *classifier.Classifier
	Bus        *events.Bus
	Orch       *orchestrator.Orchestrator
	Reports    *reporting.Service

	db  *sql.DB
	rdb *redis.Client
}

type Option func(*options)

type options struct {
	provider telephony.Provider
	metrics  *metrics.Metrics
}

// WithProvider replaces the Synthflow client. Used by tests and dry runs.
func WithProvider(p telephony.Provider) Option {
	return func(o *options) { o.provider = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New opens the configured store (running migrations), connects Redis when
// configured and assembles the orchestrator. Close releases everything.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = slog.Default()
	}

	a := &App{Config: cfg, Log: log, Metrics: o.metrics}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeResources()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.Provider = o.provider
	if a.Provider == nil {
		p, err := telephony.NewSynthflowProvider(telephony.SynthflowConfig{
			BaseURL:     cfg.Synthflow.BaseURL,
			APIKey:      cfg.Synthflow.APIKey,
			AssistantID: cfg.Synthflow.AssistantID,
			FromNumber:  cfg.Synthflow.FromNumber,
			Timeout:     cfg.Synthflow.Timeout,
		})
		if err != nil {
			return nil, err
		}
		a.Provider = p
	}

	a.Classifier = classifier.NewDefault()
	if path := cfg.Classifier.PhrasesFile; path != "" {
		if err := a.Classifier.LoadFile(path); err != nil {
			return nil, err
		}
		log.Info("classifier phrases loaded", "path", path)
	}

	a.Bus = events.NewBus(events.WithDropHook(a.Metrics.EventDropped))

	limiter, err := a.limiter(ctx)
	if err != nil {
		return nil, err
	}

	oc := cfg.Orchestrator
	a.Orch, err = orchestrator.New(a.Store, a.Provider, a.Classifier, a.Bus, orchestrator.Config{
		PollInterval:         oc.PollInterval,
		MaxPolls:             oc.MaxPolls,
		QueueStuckPolls:      oc.QueueStuckPolls,
		MaxConsecutiveErrors: oc.MaxConsecutiveErrors,
		StaleAfter:           oc.StaleAfter,
		MaxConcurrent:        oc.MaxConcurrent,
	},
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(a.Metrics),
		orchestrator.WithLimiter(limiter),
	)
	if err != nil {
		return nil, err
	}

	a.Reports = reporting.NewService(reporting.NewStoreRepo(a.Store))
	ok = true
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.Store = calls.NewMemoryStore()
		return nil
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." && cfg.SQLite.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("app: sqlite dir: %w", err)
			}
		}
		db, err := utils.OpenSQLite(ctx, utils.SQLiteConfig{Path: cfg.SQLite.Path, BusyTimeout: cfg.SQLite.BusyTimeout})
		if err != nil {
			return fmt.Errorf("app: open sqlite: %w", err)
		}
		a.db = db
		return a.migrateSQL(calls.DialectSQLite)
	case config.DriverPostgres:
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PoolConfig{})
		if err != nil {
			return fmt.Errorf("app: open postgres: %w", err)
		}
		a.db = db
		return a.migrateSQL(calls.DialectPostgres)
	default:
		return fmt.Errorf("app: unknown store driver %q", cfg.Store.Driver)
	}
}

func (a *App) migrateSQL(d calls.Dialect) error {
	if err := calls.Migrate(a.db, d); err != nil {
		return err
	}
	s, err := calls.NewSQLStore(a.db, d)
	if err != nil {
		return err
	}
	a.Store = s
	a.Log.Info("call store ready", "driver", string(d))
	return nil
}

func (a *App) limiter(ctx context.Context) (orchestrator.Limiter, error) {
	cfg := a.Config
	if !cfg.RedisEnabled() {
		return orchestrator.NewLocalLimiter(cfg.Orchestrator.MaxConcurrent), nil
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return nil, fmt.Errorf("app: redis: %w", err)
	}
	a.rdb = rdb
	a.Log.Info("shared concurrency cap enabled", "addr", cfg.RedisAddr(), "limit", cfg.Orchestrator.MaxConcurrent)
	return orchestrator.NewRedisLimiter(rdb, cfg.Redis.LimiterKey, cfg.Orchestrator.MaxConcurrent, cfg.Orchestrator.StaleAfter, a.Log)
}

// Start launches the background loops: the stale-call sweeper and, when a
// phrase file is configured, its watcher. Both stop with ctx.
func (a *App) Start(ctx context.Context) error {
	if path := a.Config.Classifier.PhrasesFile; path != "" {
		if err := a.Classifier.Watch(ctx, path, a.Log); err != nil {
			return err
		}
	}
	go a.Orch.RunSweeper(ctx, a.Config.Orchestrator.SweepInterval)
	return nil
}

// Close stops the orchestrator, waiting up to ctx for workers, then releases
// the database and Redis connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Orch != nil {
		if err := a.Orch.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
		a.rdb = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	return errors.Join(errs...)
}

// ShutdownTimeout bounds how long Close waits for in-flight workers.
const ShutdownTimeout = 20 * time.Second
