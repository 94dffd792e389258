package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/consult-service/config"
	"github.com/cwrk-planet/consult-service/internal/badgerdb"
	"github.com/cwrk-planet/consult-service/internal/mongodb"
	"github.com/cwrk-planet/consult-service/internal/postgres"
	"github.com/cwrk-planet/consult-service/internal/service"
)

// openStore выбирает хранилище сообщений по storage.driver.
// closeFn освобождает соединения/файлы; вызывать после остановки серверов.
func openStore(ctx context.Context, cfg *config.Config) (repo service.MessageRepository, closeFn func(), err error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		slog.Info("message store ready", "driver", config.DriverPostgres)
		return postgres.NewMessageRepository(pool), pool.Close, nil

	case config.DriverMongo:
		client, err := mongodb.Connect(ctx, mongodb.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		r := mongodb.NewMessageRepository(client.Database(cfg.Mongo.Database))
		if err := r.EnsureIndexes(ctx); err != nil {
			_ = mongodb.Disconnect(client)
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		slog.Info("message store ready", "driver", config.DriverMongo, "database", cfg.Mongo.Database)
		return r, func() { _ = mongodb.Disconnect(client) }, nil

	default:
		db, err := badgerdb.Open(badgerdb.Config{Path: cfg.Badger.Path, InMemory: cfg.Badger.InMemory})
		if err != nil {
			return nil, nil, fmt.Errorf("badger: %w", err)
		}
		slog.Info("message store ready", "driver", config.DriverBadger, "path", cfg.Badger.Path, "in_memory", cfg.Badger.InMemory)
		return badgerdb.NewMessageRepository(db), func() { _ = db.Close() }, nil
	}
}
