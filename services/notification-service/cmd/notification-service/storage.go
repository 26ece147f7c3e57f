package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carmatch/meetguard/libs/config"
	"github.com/carmatch/meetguard/libs/db"
	"github.com/carmatch/meetguard/libs/runtime"
	"github.com/carmatch/meetguard/services/notification-service/internal/consumer"
	"github.com/carmatch/meetguard/services/notification-service/internal/inbox"
	"github.com/carmatch/meetguard/services/notification-service/internal/storage"
	"github.com/carmatch/meetguard/services/notification-service/migrations"
)

type storageBackend struct {
	store storage.Store
	inbox consumer.Inbox
	ready runtime.ReadyCheck
	close func()
}

func openStorage(ctx context.Context, logger *slog.Logger) (*storageBackend, error) {
	switch driver := config.String("STORAGE_DRIVER", "postgres"); driver {
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if config.Bool("DB_AUTO_MIGRATE", false) {
			if err := db.Migrate(ctx, pool, migrations.Files); err != nil {
				pool.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("migrations applied")
		}
		return &storageBackend{
			store: storage.NewRepository(pool),
			inbox: inbox.NewRepository(pool),
			ready: runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
			close: pool.Close,
		}, nil
	case "sqlite":
		path := config.String("SQLITE_PATH", "data/notifications.db")
		s, err := storage.OpenSQLite(ctx, path, config.Duration("SQLITE_BUSY_TIMEOUT", 5*time.Second))
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite notification store", "path", path)
		return &storageBackend{
			store: s,
			inbox: s,
			ready: runtime.ReadyCheck{Name: "sqlite", Check: s.Ping},
			close: func() { _ = s.Close() },
		}, nil
	case "memory":
		logger.Warn("using in-memory notification store; data is lost on restart")
		s := storage.NewMemoryStore()
		return &storageBackend{
			store: s,
			inbox: s,
			ready: runtime.ReadyCheck{Name: "store", Check: func(context.Context) error { return nil }},
			close: func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", driver)
	}
}
