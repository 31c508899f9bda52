package storage

import (
	"context"

	"github.com/deusflow/metalnews/internal/config"
	"github.com/deusflow/metalnews/internal/logger"
)

// Open builds the store for the configured backend. The set is empty until
// Load is called.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.DedupBackend {
	case "sqlite":
		b, err = OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		b, err = OpenPostgres(ctx, cfg.DatabaseURL)
	case "redis":
		b, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisKey)
	default:
		b = NewFileBackend(cfg.DuplicatesFile)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("dedup record ready", "backend", cfg.DedupBackend)
	return NewStore(b), nil
}
