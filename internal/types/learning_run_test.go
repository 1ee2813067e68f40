package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.IsTerminal())
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
	assert.True(t, RunStatusSkipped.IsTerminal())
	assert.False(t, RunStatus("running").IsTerminal())
}

func TestRunStatus_Valid(t *testing.T) {
	assert.True(t, RunStatusPending.Valid())
	assert.True(t, RunStatusSkipped.Valid())
	assert.False(t, RunStatus("").Valid())
}

func TestLearningRun_Reason(t *testing.T) {
	var nilRun *LearningRun
	assert.Equal(t, "", nilRun.Reason())

	run := &LearningRun{}
	assert.Equal(t, "", run.Reason())

	reason := ReasonNoProfile
	run.ErrorMessage = &reason
	assert.Equal(t, "no_profile", run.Reason())
}

func TestLearningRun_JSONFieldNames(t *testing.T) {
	run := LearningRun{
		Trigger:                  TriggerMealRated,
		Status:                   RunStatusPending,
		EventContext:             json.RawMessage(`{"meal_id":"m1"}`),
		EventContextFingerprint:  "abc",
		UsageSnapshotFingerprint: "def",
	}

	data, err := json.Marshal(run)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trigger":"meal_rated"`)
	assert.Contains(t, string(data), `"event_context":{"meal_id":"m1"}`)
	assert.Contains(t, string(data), `"event_context_fingerprint":"abc"`)
	assert.NotContains(t, string(data), `"error_message"`)
}

func TestTagKey(t *testing.T) {
	assert.Equal(t, "cuisine:thai", TagKey(TagCategoryCuisine, "thai"))
}

func TestNewFeedbackSummary(t *testing.T) {
	s := NewFeedbackSummary()
	require.NotNil(t, s.Liked)
	require.NotNil(t, s.Disliked)
	assert.Empty(t, s.Sources)
}
