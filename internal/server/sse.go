package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/jonathan/meal-learner/internal/types"
)

// runStream writes a run's status changes as Server-Sent Events. Every event carries an
// increasing id so a client can tell replays apart after reconnecting.
type runStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func newRunStream(w http.ResponseWriter, retry time.Duration) (*runStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n\n", retry.Milliseconds()); err != nil {
			return nil, err
		}
	}
	flusher.Flush()
	return &runStream{w: w, flusher: flusher}, nil
}

func (s *runStream) send(event string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, event, body); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// status emits the run's current summary
func (s *runStream) status(run *types.LearningRun) error {
	return s.send("status", summarize(run))
}

// complete emits the terminal event
func (s *runStream) complete(run *types.LearningRun) error {
	return s.send("complete", map[string]string{
		"run_id": run.ID.String(),
		"status": string(run.Status),
		"reason": run.Reason(),
	})
}

func (s *runStream) fail(message string) {
	s.send("error", map[string]string{"error": message}) //nolint:errcheck
}
