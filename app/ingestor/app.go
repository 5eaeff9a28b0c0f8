package ingestor

import (
	"context"
	"fmt"

	"github.com/fredx-io/fredx/pkg/db"
	"github.com/fredx-io/fredx/pkg/db/memory"
	"github.com/fredx-io/fredx/pkg/db/postgres"
	seriesdb "github.com/fredx-io/fredx/pkg/db/postgres/series"
	"github.com/fredx-io/fredx/pkg/fred"
	"github.com/fredx-io/fredx/pkg/ingest/ledger"
	"github.com/fredx-io/fredx/pkg/ingest/orchestrator"
	"github.com/fredx-io/fredx/pkg/ingest/upsert"
	"github.com/fredx-io/fredx/pkg/logging"
	"github.com/fredx-io/fredx/pkg/redis"
	"go.uber.org/zap"
)

// Store is what the CLI needs from persistence.
type Store interface {
	db.SeriesStore
	db.MaintenanceStore
}

type App struct {
	Logger       *zap.Logger
	Store        Store
	Source       *fred.Client
	Ledger       *ledger.Ledger
	Orchestrator *orchestrator.Orchestrator
	Notifier     orchestrator.Notifier
	Redis        *redis.Client
}

// Config selects how Initialize wires the application.
type Config struct {
	LogLevel string
	// DryRun keeps everything in memory. Nothing reaches PostgreSQL or Redis.
	DryRun bool
}

// Initialize builds the logger, the store, the source client and the orchestrator.
func Initialize(ctx context.Context, cfg Config) (*App, error) {
	logger, err := logging.NewWithLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	app := &App{Logger: logger}

	if cfg.DryRun {
		logger.Info("Dry run, using the in-memory store")
		app.Store = memory.New()
	} else {
		store, err := seriesdb.New(ctx, logger, postgres.PoolConfigFromEnv("ingestor"))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		app.Store = store
	}

	var notifier orchestrator.Notifier = redis.NopNotifier{}
	if redis.Enabled() && !cfg.DryRun {
		rc, err := redis.NewClient(ctx, logger)
		if err != nil {
			// notifications are optional
			logger.Warn("Redis unavailable, sync notifications disabled", zap.Error(err))
		} else {
			app.Redis = rc
			notifier = redis.NewNotifier(rc, logger)
		}
	}

	app.Source = fred.NewWithOpts(fred.OptsFromEnv())
	app.Ledger = ledger.New(app.Store, logger)
	engine := upsert.New(app.Store, logger)
	app.Notifier = notifier
	app.Orchestrator = orchestrator.New(app.Source, engine, app.Ledger, notifier, logger)

	return app, nil
}

// Close releases connections and flushes the logger.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("Failed to close store", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
