package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// PollTimeout is how long Dequeue blocks. Must be >= 1s to satisfy Redis.
const PollTimeout = time.Second

// Queue holds automatic submissions waiting for a retry.
// Dequeue and TryDequeue return nil, nil when the queue is empty.
type Queue interface {
	Enqueue(ctx context.Context, p model.PendingSubmission) error
	Dequeue(ctx context.Context, timeout time.Duration) (*model.PendingSubmission, error)
	TryDequeue(ctx context.Context) (*model.PendingSubmission, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryQueue is an in-process FIFO. Entries are lost on restart; the
// snapshot left behind lets the next launch auto-submit again.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []model.PendingSubmission
	signal chan struct{}
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{signal: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, p model.PendingSubmission) error {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*model.PendingSubmission, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if p := q.pop(); p != nil {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) TryDequeue(_ context.Context) (*model.PendingSubmission, error) {
	return q.pop(), nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) pop() *model.PendingSubmission {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	return &p
}

// RedisQueue is a Redis list shared by every process of the device.
type RedisQueue struct {
	rdb *redis.Client
	key string
	log zerolog.Logger
}

// NewRedisQueue creates a RedisQueue on the pending submissions list.
func NewRedisQueue(rdb *redis.Client, log zerolog.Logger) *RedisQueue {
	return &RedisQueue{
		rdb: rdb,
		key: config.WorkerKey.PendingSubmissionsQueue,
		log: log.With().Str("component", "retry_queue").Logger(),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, p model.PendingSubmission) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending submission: %w", err)
	}
	return q.rdb.RPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*model.PendingSubmission, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	return q.decode(result[1])
}

func (q *RedisQueue) TryDequeue(ctx context.Context) (*model.PendingSubmission, error) {
	raw, err := q.rdb.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q.decode(raw)
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// decode drops malformed entries: they can never be retried.
func (q *RedisQueue) decode(raw string) (*model.PendingSubmission, error) {
	var p model.PendingSubmission
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		q.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed pending submission")
		return nil, nil
	}
	return &p, nil
}
