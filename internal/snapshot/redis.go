package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// RedisStore keeps snapshots as string keys plus an index set for listing.
// Keys expire after ttl, matching the maximum recoverable snapshot age.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewRedisStore creates a RedisStore. A zero ttl disables expiry.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "snapshot_redis").Logger(),
	}
}

func (s *RedisStore) Get(ctx context.Context, examID string) (*model.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.SnapshotKey(examID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	snap, err := Decode(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Dropping corrupt snapshot")
		if rmErr := s.removeIfUnchanged(ctx, examID, raw); rmErr != nil {
			s.log.Error().Err(rmErr).Str("exam_id", examID).Msg("Remove corrupt snapshot failed")
		}
		return nil, ErrNotFound
	}
	return snap, nil
}

func (s *RedisStore) Put(ctx context.Context, examID string, snap *model.Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.SnapshotKey(examID), raw, s.ttl)
	pipe.SAdd(ctx, config.CacheKey.SnapshotIndexKey(), examID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, examID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, config.CacheKey.SnapshotKey(examID))
	pipe.SRem(ctx, config.CacheKey.SnapshotIndexKey(), examID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*model.Snapshot, error) {
	ids, err := s.rdb.SMembers(ctx, config.CacheKey.SnapshotIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshot ids: %w", err)
	}
	sort.Strings(ids)

	out := make([]*model.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Expired by TTL; drop the dangling index entry.
			s.rdb.SRem(ctx, config.CacheKey.SnapshotIndexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// removeIfUnchanged deletes the key only if it still holds raw, so a Put
// racing with the self-heal survives.
func (s *RedisStore) removeIfUnchanged(ctx context.Context, examID string, raw []byte) error {
	key := config.CacheKey.SnapshotKey(examID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, raw) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, config.CacheKey.SnapshotIndexKey(), examID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}
