// Package queue hands admitted learning runs from intake to the background workers.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/metrics"
)

var (
	// ErrClosed is returned once the queue has been closed
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned when a bounded queue cannot accept more jobs
	ErrFull = errors.New("queue full")
)

// Job identifies one admitted run. Everything else is read from the run row.
type Job struct {
	RunID      uuid.UUID `json:"run_id"`
	UserID     uuid.UUID `json:"user_id"`
	Trigger    string    `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a FIFO of jobs shared by producers and workers
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx is done, or the queue is closed
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

// MemoryQueue is a bounded in-process queue
type MemoryQueue struct {
	jobs      chan Job
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a queue holding up to size pending jobs
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job without blocking
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		metrics.QueueJobs.WithLabelValues("memory", "enqueued").Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		metrics.QueueJobs.WithLabelValues("memory", "rejected").Inc()
		return ErrFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		metrics.QueueJobs.WithLabelValues("memory", "dequeued").Inc()
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case <-q.done:
		return Job{}, ErrClosed
	}
}

// Len reports the number of buffered jobs
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Close stops the queue. Buffered jobs are dropped; their runs stay pending until reclaimed.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
