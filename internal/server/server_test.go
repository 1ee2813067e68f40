package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/meal-learner/internal/guard"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/memstore"
	"github.com/jonathan/meal-learner/internal/pipeline"
	"github.com/jonathan/meal-learner/internal/queue"
	"github.com/jonathan/meal-learner/internal/server/ratelimit"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

type harness struct {
	srv     *Server
	handler http.Handler
	store   *memstore.Store
	queue   *queue.MemoryQueue
}

func newHarness(t *testing.T, cfg Config, health Pinger) *harness {
	t.Helper()
	st := memstore.New()
	q := queue.NewMemoryQueue(16)
	log := logger.Nop()
	svc := pipeline.NewService(guard.New(st, log), st, st, q, log)

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	srv := New(cfg, svc, st, health, log)
	t.Cleanup(func() {
		srv.Close()
		q.Close()
	})
	return &harness{srv: srv, handler: srv.Handler(), store: st, queue: q}
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestTrigger_Accepted(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	userID := uuid.New()

	w := h.do(http.MethodPost, "/triggers", map[string]any{
		"user_id":       userID.String(),
		"trigger":       types.TriggerMealRated,
		"event_context": map[string]any{"meal_id": "m-1", "rating": 5},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[TriggerResponse](t, w)
	assert.True(t, resp.Accepted)
	runID, err := uuid.Parse(resp.RunID)
	require.NoError(t, err)

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, types.RunStatusPending, run.Status)
	assert.JSONEq(t, `{"meal_id":"m-1","rating":5}`, string(run.EventContext))
	assert.Equal(t, 1, h.queue.Len())
}

func TestTrigger_ActiveRunConflict(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	body := map[string]any{"user_id": uuid.New().String(), "trigger": types.TriggerManual}

	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/triggers", body).Code)

	w := h.do(http.MethodPost, "/triggers", body)
	require.Equal(t, http.StatusConflict, w.Code)
	resp := decode[TriggerResponse](t, w)
	assert.False(t, resp.Accepted)
	assert.Empty(t, resp.RunID)
	assert.Equal(t, types.ReasonActiveRunInProgress, resp.Reason)
	assert.Equal(t, 1, h.queue.Len())
}

func TestTrigger_Validation(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"malformed json", `{"user_id":`, "Invalid request body"},
		{"bad user id", map[string]any{"user_id": "nope", "trigger": "manual"}, "UserID"},
		{"missing trigger", map[string]any{"user_id": uuid.New().String()}, "Trigger"},
		{"trigger too long", map[string]any{"user_id": uuid.New().String(), "trigger": strings.Repeat("x", 65)}, "Trigger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(http.MethodPost, "/triggers", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
	assert.Equal(t, 0, h.queue.Len())
}

type failingSubmitter struct{}

func (failingSubmitter) Submit(context.Context, pipeline.SubmitRequest) (*pipeline.SubmitResult, error) {
	return nil, errors.New("profile store down")
}

func TestTrigger_SubmitError(t *testing.T) {
	srv := New(Config{}, failingSubmitter{}, memstore.New(), nil, logger.Nop())
	defer srv.Close()

	body := `{"user_id":"` + uuid.New().String() + `","trigger":"manual"}`
	req := httptest.NewRequest(http.MethodPost, "/triggers", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "profile store down")
}

func TestGetRun(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	accepted := decode[TriggerResponse](t, h.do(http.MethodPost, "/triggers",
		map[string]any{"user_id": uuid.New().String(), "trigger": "manual"}))

	w := h.do(http.MethodGet, "/runs/"+accepted.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	run := decode[types.LearningRun](t, w)
	assert.Equal(t, accepted.RunID, run.ID.String())
	assert.Equal(t, types.RunStatusPending, run.Status)
	assert.NotEmpty(t, run.UsageSnapshotFingerprint)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/runs/"+uuid.New().String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/runs/not-a-uuid", nil).Code)
}

func TestListUserRuns(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	userID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp := decode[TriggerResponse](t, h.do(http.MethodPost, "/triggers",
			map[string]any{"user_id": userID.String(), "trigger": "manual", "event_context": map[string]int{"n": i}}))
		require.True(t, resp.Accepted)
		require.NoError(t, h.store.FinishRun(ctx, store.FinishRunInput{
			RunID:  uuid.MustParse(resp.RunID),
			Status: types.RunStatusSkipped,
			Reason: types.ReasonNoProfile,
		}))
	}

	w := h.do(http.MethodGet, "/users/"+userID.String()+"/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Runs  []RunSummary `json:"runs"`
		Count int          `json:"count"`
	}](t, w)
	assert.Equal(t, 2, body.Count)
	for _, r := range body.Runs {
		assert.Equal(t, types.RunStatusSkipped, r.Status)
		assert.Equal(t, types.ReasonNoProfile, r.Reason)
	}

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/users/"+userID.String()+"/runs?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/users/x/runs", nil).Code)
}

func TestRunEvents_StreamsUntilTerminal(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	resp := decode[TriggerResponse](t, h.do(http.MethodPost, "/triggers",
		map[string]any{"user_id": uuid.New().String(), "trigger": "manual"}))
	runID := uuid.MustParse(resp.RunID)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = h.store.FinishRun(context.Background(), store.FinishRunInput{
			RunID:  runID,
			Status: types.RunStatusFailed,
			Reason: types.ReasonRecommendationTimeout,
		})
	}()

	w := h.do(http.MethodGet, "/runs/"+runID.String()+"/events", nil)
	body := w.Body.String()

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(body, "event: status"), body)
	assert.Contains(t, body, `"status":"pending"`)
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, types.ReasonRecommendationTimeout)
	assert.Contains(t, body, "retry: ")
	assert.Contains(t, body, "id: 3\nevent: complete")
}

func TestRunEvents_UnknownRun(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	w := h.do(http.MethodGet, "/runs/"+uuid.New().String()+"/events", nil)
	assert.Contains(t, w.Body.String(), "event: error")
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	ok := newHarness(t, Config{}, stubPinger{})
	w := ok.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	down := newHarness(t, Config{}, stubPinger{err: errors.New("connection refused")})
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.do(http.MethodGet, "/health", nil)

	w := h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `meal_learner_http_requests_total{method="GET",route="GET /health",status="200"}`)
}

func TestRateLimit_Triggers(t *testing.T) {
	h := newHarness(t, Config{RateLimit: ratelimit.NewConfig(600, 6, 0)}, nil)

	first := h.do(http.MethodPost, "/triggers", map[string]any{"user_id": uuid.New().String(), "trigger": "manual"})
	require.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, "6", first.Header().Get("X-RateLimit-Limit"))

	second := h.do(http.MethodPost, "/triggers", map[string]any{"user_id": uuid.New().String(), "trigger": "manual"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", nil).Code, "health is never limited")
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	w := h.do(http.MethodOptions, "/triggers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(&ErrValidation{Field: "user_id", Message: "must be a UUID"}))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(&ErrNotFound{Resource: "run", ID: "x"}))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, "validation error: user_id - must be a UUID", (&ErrValidation{Field: "user_id", Message: "must be a UUID"}).Error())
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, failingSubmitter{}, memstore.New(), nil, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
