package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading/cmd/server/config"
	"trading/internal/catalog"
	tradingdb "trading/internal/db/trading"
	"trading/internal/trading/saga"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type sagaRepository interface {
	saga.Store
	saga.Outbox
}

var openSagaDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// buildSagaStore opens the Postgres saga store. Only an empty DSN runs in
// memory; a configured database that cannot be reached is an error.
func buildSagaStore(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (sagaRepository, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, saga state is kept in memory")
		return saga.NewMemoryStore(), func() {}, nil
	}

	db, err := openSagaDB("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := tradingdb.NewSagaStoreWithSchema(setupCtx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init postgres saga store: %w", err)
	}
	logger.Info("postgres saga store enabled")
	return store, func() {
		if err := db.Close(); err != nil {
			logger.Warn("close postgres", zap.Error(err))
		}
	}, nil
}

// buildCatalog connects the catalog read models in Mongo, or an empty
// in-memory catalog when no URI is configured.
func buildCatalog(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (catalog.Repository, func(), error) {
	if cfg.URI == "" {
		logger.Warn("MONGO_URI not set, using an empty in-memory catalog")
		return catalog.NewMemoryRepository(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}

	repo := catalog.NewMongoRepository(client.Database(cfg.Database))
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return repo, func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Warn("close mongo", zap.Error(err))
		}
	}, nil
}
