package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/pipeline"
	"github.com/jonathan/meal-learner/internal/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// TriggerRequest is the body of POST /triggers
type TriggerRequest struct {
	UserID       string          `json:"user_id" validate:"required,uuid"`
	Trigger      string          `json:"trigger" validate:"required,max=64"`
	EventContext json.RawMessage `json:"event_context,omitempty"`
}

// TriggerResponse answers POST /triggers
type TriggerResponse struct {
	Accepted bool   `json:"accepted"`
	RunID    string `json:"run_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// RunSummary is the list view of a run
type RunSummary struct {
	ID        string          `json:"id"`
	Trigger   string          `json:"trigger"`
	Status    types.RunStatus `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Model     string          `json:"model,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func summarize(r *types.LearningRun) RunSummary {
	s := RunSummary{
		ID:        r.ID.String(),
		Trigger:   r.Trigger,
		Status:    r.Status,
		Reason:    r.Reason(),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Model != nil {
		s.Model = *r.Model
	}
	return s
}

// handleTrigger runs the guard and answers 202 with the run id, or 409 with the reason the
// trigger was not admitted
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		verr := validationError(err)
		s.errorResponse(w, HTTPStatus(verr), verr.Error())
		return
	}

	var eventContext any
	if len(req.EventContext) > 0 {
		if err := json.Unmarshal(req.EventContext, &eventContext); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid event_context: "+err.Error())
			return
		}
	}

	result, err := s.submitter.Submit(r.Context(), pipeline.SubmitRequest{
		UserID:       uuid.MustParse(req.UserID),
		Trigger:      req.Trigger,
		EventContext: eventContext,
	})
	if err != nil {
		s.log.Error("Trigger submission failed", "user_id", req.UserID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to submit trigger")
		return
	}
	if !result.Accepted {
		s.jsonResponse(w, http.StatusConflict, TriggerResponse{Reason: result.Reason})
		return
	}
	s.jsonResponse(w, http.StatusAccepted, TriggerResponse{Accepted: true, RunID: result.RunID.String()})
}

// handleGetRun returns the full audit record of a run
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		s.log.Error("Failed to load run", "run_id", runID.String(), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if run == nil {
		nf := &ErrNotFound{Resource: "run", ID: runID.String()}
		s.errorResponse(w, HTTPStatus(nf), nf.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleListUserRuns returns a user's runs, newest first
func (s *Server) handleListUserRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := s.runs.ListRunsByUser(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("Failed to list runs", "user_id", userID.String(), "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	out := make([]RunSummary, 0, len(runs))
	for i := range runs {
		out = append(out, summarize(&runs[i]))
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": out, "count": len(out)})
}

// handleRunEvents streams the run's status until it is terminal or the client leaves
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	stream, err := newRunStream(w, s.pollInterval)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last types.RunStatus
	for {
		run, err := s.runs.GetRun(r.Context(), runID)
		switch {
		case err != nil:
			if r.Context().Err() == nil {
				stream.fail("failed to load run")
			}
			return
		case run == nil:
			stream.fail("run not found")
			return
		}

		if run.Status != last {
			last = run.Status
			if err := stream.status(run); err != nil {
				return
			}
		}
		if run.Status.IsTerminal() {
			stream.complete(run) //nolint:errcheck
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.log.Warn("Health check failed", "error", err)
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		verr := &ErrValidation{Field: name, Message: "must be a UUID"}
		s.errorResponse(w, HTTPStatus(verr), verr.Error())
		return uuid.Nil, false
	}
	return id, true
}
