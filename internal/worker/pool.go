// Package worker runs admitted learning runs in the background and periodically reclaims
// runs left pending by a crashed process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/metrics"
	"github.com/jonathan/meal-learner/internal/queue"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// Handler executes jobs. Abort is called when Execute panics.
type Handler interface {
	Execute(ctx context.Context, job queue.Job) error
	Abort(ctx context.Context, job queue.Job, reason string, cause error) error
}

// Config sizes the pool
type Config struct {
	Concurrency     int
	PendingTTL      time.Duration
	ReclaimInterval time.Duration // 0 disables the sweep
}

// Pool consumes a queue with a fixed number of goroutines. Jobs run on a context detached
// from Start's, so stopping the pool lets in-flight runs finish.
type Pool struct {
	queue   queue.Queue
	handler Handler
	runs    store.RunStore
	cfg     Config
	log     *logger.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

func NewPool(q queue.Queue, h Handler, runs store.RunStore, cfg Config, log *logger.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Pool{
		queue:   q,
		handler: h,
		runs:    runs,
		cfg:     cfg,
		log:     log.With("component", "worker_pool"),
		now:     time.Now,
	}
}

// Start launches the workers and the reclaim ticker. They stop when ctx is done; Wait
// blocks until they have.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("Starting worker pool", "concurrency", p.cfg.Concurrency)
	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := i + 1
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runLoop(ctx, workerID)
		}()
	}

	if p.cfg.ReclaimInterval > 0 && p.cfg.PendingTTL > 0 && p.runs != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.reclaimLoop(ctx)
		}()
	}
}

// Wait blocks until every worker has exited
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				p.log.Info("Worker loop stopped", "worker_id", workerID)
				return
			}
			p.log.Warn("Dequeue failed", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.handle(context.WithoutCancel(ctx), workerID, job)
	}
}

func (p *Pool) handle(ctx context.Context, workerID int, job queue.Job) {
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Run handler panic",
				"worker_id", workerID,
				"run_id", job.RunID.String(),
				"panic", r,
			)
			if err := p.handler.Abort(ctx, job, types.ReasonPanic, fmt.Errorf("panic: %v", r)); err != nil {
				p.log.Error("Failed to fail panicked run", "run_id", job.RunID.String(), "error", err)
			}
		}
	}()

	if err := p.handler.Execute(ctx, job); err != nil {
		p.log.Error("Run execution failed",
			"worker_id", workerID,
			"run_id", job.RunID.String(),
			"error", err,
		)
	}
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ReclaimOnce(ctx); err != nil {
				p.log.Warn("Stale run sweep failed", "error", err)
			}
		}
	}
}

// ReclaimOnce fails every pending run untouched for longer than the pending TTL
func (p *Pool) ReclaimOnce(ctx context.Context) (int64, error) {
	n, err := p.runs.ReclaimStale(ctx, p.now().Add(-p.cfg.PendingTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RunsReclaimed.Add(float64(n))
		p.log.Info("Reclaimed stale pending runs", "count", n)
	}
	return n, nil
}
