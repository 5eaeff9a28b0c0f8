package series

import (
	"context"
	"fmt"

	seriesmodels "github.com/fredx-io/fredx/pkg/db/models/series"
	"github.com/fredx-io/fredx/pkg/db/postgres"
	"go.uber.org/zap"
)

// DB is the PostgreSQL store for series metadata, observations and the sync log.
type DB struct {
	postgres.Client
}

// New connects to PostgreSQL. It does not touch the schema; call InitializeDB for that.
func New(ctx context.Context, logger *zap.Logger, poolConfig postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(
		zap.String("component", poolConfig.Component),
	), poolConfig)
	if err != nil {
		return nil, err
	}
	return &DB{Client: client}, nil
}

// NewWithClient wraps an already connected client.
func NewWithClient(client postgres.Client) *DB {
	return &DB{Client: client}
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Client.Close()
	return nil
}

// InitializeDB ensures the tables and the observation unique constraint exist.
// Tables are created in foreign key order.
func (db *DB) InitializeDB(ctx context.Context) error {
	tables := []struct {
		name string
		init func(context.Context) error
	}{
		{seriesmodels.SeriesTableName, db.initSeries},
		{seriesmodels.ObservationsTableName, db.initObservations},
		{seriesmodels.SyncLogTableName, db.initSyncLog},
	}
	for _, t := range tables {
		db.Logger.Info("Initialize table", zap.String("table", t.name))
		if err := t.init(ctx); err != nil {
			return fmt.Errorf("init %s: %w", t.name, err)
		}
	}

	if err := db.EnsureUniqueConstraint(ctx); err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%s holds duplicate dates, run the dedupe command first: %w", seriesmodels.ObservationsTableName, err)
		}
		return err
	}

	return nil
}
