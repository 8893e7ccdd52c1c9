package snapshot

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
)

// Open builds the store selected by cfg.SnapshotDriver and returns its
// cleanup. rdb may be nil; the Redis driver then dials its own client.
func Open(ctx context.Context, cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (Store, func(), error) {
	switch cfg.SnapshotDriver {
	case config.SnapshotDriverMemory:
		log.Warn().Msg("Snapshots are kept in memory and will not survive a restart")
		return NewMemoryStore(log), func() {}, nil

	case config.SnapshotDriverRedis:
		closeFn := func() {}
		if rdb == nil {
			var err error
			rdb, err = database.NewRedisClient(ctx, cfg, log)
			if err != nil {
				return nil, nil, err
			}
			closeFn = func() { _ = rdb.Close() }
		}
		return NewRedisStore(rdb, cfg.SnapshotMaxAge, log), closeFn, nil

	case config.SnapshotDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresStore(pool, log), pool.Close, nil

	case config.SnapshotDriverSQLite:
		db, err := database.NewSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := NewSQLiteStore(ctx, db, log)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown snapshot driver %q", cfg.SnapshotDriver)
}
