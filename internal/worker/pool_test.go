package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/memstore"
	"github.com/jonathan/meal-learner/internal/queue"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingHandler struct {
	mu       sync.Mutex
	executed []uuid.UUID
	aborted  map[uuid.UUID]string
	execute  func(job queue.Job) error
	done     chan struct{}
}

func newRecordingHandler(expect int) *recordingHandler {
	return &recordingHandler{aborted: map[uuid.UUID]string{}, done: make(chan struct{}, expect)}
}

func (h *recordingHandler) Execute(ctx context.Context, job queue.Job) error {
	defer func() { h.done <- struct{}{} }()
	h.mu.Lock()
	h.executed = append(h.executed, job.RunID)
	h.mu.Unlock()
	if h.execute != nil {
		return h.execute(job)
	}
	return nil
}

func (h *recordingHandler) Abort(ctx context.Context, job queue.Job, reason string, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aborted[job.RunID] = reason
	return nil
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for job %d of %d", i+1, n)
		}
	}
}

func TestPool_ExecutesJobs(t *testing.T) {
	q := queue.NewMemoryQueue(10)
	defer q.Close()
	h := newRecordingHandler(5)
	pool := NewPool(q, h, nil, Config{Concurrency: 3}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), queue.Job{RunID: uuid.New()}))
	}
	waitFor(t, h.done, 5)

	cancel()
	pool.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.executed, 5)
}

func TestPool_RecoversPanics(t *testing.T) {
	q := queue.NewMemoryQueue(10)
	defer q.Close()
	h := newRecordingHandler(2)
	boom := uuid.New()
	h.execute = func(job queue.Job) error {
		if job.RunID == boom {
			panic("nil map")
		}
		return errors.New("ordinary failure")
	}
	pool := NewPool(q, h, nil, Config{Concurrency: 1}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	require.NoError(t, q.Enqueue(ctx, queue.Job{RunID: boom}))
	require.NoError(t, q.Enqueue(ctx, queue.Job{RunID: uuid.New()}))
	waitFor(t, h.done, 2)
	cancel()
	pool.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.executed, 2, "worker keeps consuming after a panic")
	assert.Equal(t, map[uuid.UUID]string{boom: types.ReasonPanic}, h.aborted)
}

func TestPool_StopsOnQueueClose(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	pool := NewPool(q, newRecordingHandler(0), nil, Config{Concurrency: 2}, logger.Nop())
	pool.Start(context.Background())

	require.NoError(t, q.Close())
	pool.Wait()
}

func TestPool_ReclaimOnce(t *testing.T) {
	st := memstore.New()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return base })

	userID := uuid.New()
	run, err := st.CreatePendingRun(context.Background(), store.PendingRunInput{
		UserID:                   userID,
		Trigger:                  types.TriggerManual,
		EventContext:             []byte(`{}`),
		EventContextFingerprint:  "c",
		UsageSnapshot:            []byte(`{}`),
		UsageSnapshotFingerprint: "u",
	})
	require.NoError(t, err)

	pool := NewPool(queue.NewMemoryQueue(1), newRecordingHandler(0), st, Config{PendingTTL: 15 * time.Minute, ReclaimInterval: time.Minute}, logger.Nop())

	pool.now = func() time.Time { return base.Add(10 * time.Minute) }
	n, err := pool.ReclaimOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	pool.now = func() time.Time { return base.Add(20 * time.Minute) }
	n, err = pool.ReclaimOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, got.Status)
	assert.Equal(t, types.ReasonStalePendingReclaimed, got.Reason())
}

func TestPool_ReclaimTickerStops(t *testing.T) {
	st := memstore.New()
	pool := NewPool(queue.NewMemoryQueue(1), newRecordingHandler(0), st, Config{PendingTTL: time.Minute, ReclaimInterval: 5 * time.Millisecond}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	pool.Wait()
}
