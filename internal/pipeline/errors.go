package pipeline

import (
	"fmt"

	"github.com/jonathan/meal-learner/internal/types"
)

// Kind classifies a stage failure and decides the run's terminal status
type Kind string

const (
	KindPreconditionFailed      Kind = "precondition_failed"
	KindOracleTimeout           Kind = "oracle_timeout"
	KindOracleMalformedResponse Kind = "oracle_malformed_response"
	KindOracleError             Kind = "oracle_error"
	KindPersistenceFailure      Kind = "persistence_failure"
	KindInternal                Kind = "internal"
)

// Status maps the kind to a terminal run status. Only unmet preconditions skip.
func (k Kind) Status() types.RunStatus {
	if k == KindPreconditionFailed {
		return types.RunStatusSkipped
	}
	return types.RunStatusFailed
}

// StageError stops a run. Reason is the code recorded on the run row.
type StageError struct {
	Stage  string
	Kind   Kind
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s stage %s (%s): %v", e.Stage, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s stage %s (%s)", e.Stage, e.Kind, e.Reason)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, kind Kind, reason string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Reason: reason, Err: err}
}
