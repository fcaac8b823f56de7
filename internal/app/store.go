package app

import (
	"context"
	"fmt"
	"log/slog"

	"delayd/internal/config"
	"delayd/internal/persist"
	"delayd/internal/store/pgstore"
	"delayd/internal/store/redisstore"
	"delayd/internal/store/sqlitestore"
)

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (persist.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return persist.NewMemoryStore(), nil
	case "sqlite":
		return sqlitestore.Open(ctx, cfg.Store.SQLitePath)
	case "postgres":
		return pgstore.Open(ctx, cfg.Store.PostgresDSN, log)
	case "redis":
		return redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Key:      cfg.Store.Redis.Key,
		}, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
