package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/metrics"
)

// DefaultRedisKey is the list jobs are pushed onto
const DefaultRedisKey = "meal-learner:runs"

// RedisQueue shares jobs between processes through a Redis list: LPUSH to enqueue, BRPOP
// to dequeue
type RedisQueue struct {
	log         *logger.Logger
	rdb         goredis.UniversalClient
	key         string
	pollTimeout time.Duration
	closed      atomic.Bool
}

// NewRedisQueue connects to addr and verifies the connection
func NewRedisQueue(ctx context.Context, addr, key string, log *logger.Logger) (*RedisQueue, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisQueueWithClient(rdb, key, log), nil
}

// NewRedisQueueWithClient wraps an existing client
func NewRedisQueueWithClient(rdb goredis.UniversalClient, key string, log *logger.Logger) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{
		log:         log.With("component", "redis_queue"),
		rdb:         rdb,
		key:         key,
		pollTimeout: 2 * time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, raw).Err(); err != nil {
		metrics.QueueJobs.WithLabelValues("redis", "rejected").Inc()
		return fmt.Errorf("failed to push job: %w", err)
	}
	metrics.QueueJobs.WithLabelValues("redis", "enqueued").Inc()
	return nil
}

// Dequeue polls with a short BRPOP timeout so ctx cancellation and Close are noticed
func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if q.closed.Load() {
			return Job{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}

		res, err := q.rdb.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			if errors.Is(err, goredis.ErrClosed) {
				return Job{}, ErrClosed
			}
			return Job{}, fmt.Errorf("failed to pop job: %w", err)
		}
		// BRPOP replies [key, value]
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.log.Warn("Dropping undecodable job", "error", err)
			continue
		}
		metrics.QueueJobs.WithLabelValues("redis", "dequeued").Inc()
		return job, nil
	}
}

// Len reports the number of queued jobs
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.rdb.Close()
}
