package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/meal-learner/internal/pipeline"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

func TestReadEventContext(t *testing.T) {
	v, err := readEventContext("", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = readEventContext(`{"meal_id": "m-1", "action": "skip"}`, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"meal_id": "m-1", "action": "skip"}, v)

	path := filepath.Join(t.TempDir(), "ctx.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0o600))
	v, err = readEventContext("", path)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, v)

	_, err = readEventContext("{broken", "")
	assert.ErrorContains(t, err, "event context JSON")

	_, err = readEventContext("", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read context file")
}

func TestSubmitCommand_MissingUserID(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "submit", "--trigger", "manual")
	cmd.Env = offlineEnv(t, t.TempDir())
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "required")
}

func TestSubmitCommand_InvalidUserID(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "submit", "--user-id", "not-a-uuid")
	cmd.Env = offlineEnv(t, t.TempDir())
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "invalid --user-id")
}

func TestSubmitCommand_MemoryQueueNeedsWait(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "submit", "--user-id", uuid.NewString())
	cmd.Env = offlineEnv(t, t.TempDir())
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "--wait")
}

func TestSubmitCommand_WaitRunsPipeline(t *testing.T) {
	binaryPath := getBinaryPath(t)
	dir := t.TempDir()

	profile := filepath.Join(dir, "profile.json")
	require.NoError(t, os.WriteFile(profile, []byte(`{"preferences": {"tags": {"liked": {"cuisine": ["thai"]}}}}`), 0o600))

	cmd := exec.Command(binaryPath, "submit",
		"--user-id", uuid.NewString(),
		"--trigger", "manual",
		"--context", `{"source": "cli"}`,
		"--profile-file", profile,
		"--wait")
	cmd.Env = offlineEnv(t, dir)
	output, err := cmd.CombinedOutput()

	require.NoError(t, err, string(output))
	assert.Contains(t, string(output), "Accepted: run")
	assert.Contains(t, string(output), "RECOMMENDATIONS")
	assert.Contains(t, string(output), "completed")
}

func newOfflineApp(t *testing.T) (*app, *cobra.Command, *bytes.Buffer) {
	t.Helper()
	setOfflineEnv(t, t.TempDir())
	a, err := newApp(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	return a, cmd, &out
}

func TestSubmitAndWait_RunnerBuildFailureLeavesNoPendingRun(t *testing.T) {
	a, cmd, out := newOfflineApp(t)
	ctx := context.Background()
	userID := uuid.New()
	req := pipeline.SubmitRequest{UserID: userID, Trigger: types.TriggerManual}

	broken := func(context.Context) (*pipeline.Runner, error) {
		return nil, errors.New("failed to create LLM client: API key is required")
	}
	run, err := submitAndWait(ctx, a, req, broken, cmd)
	require.ErrorContains(t, err, "API key is required")
	assert.Nil(t, run)
	assert.NotContains(t, out.String(), "Accepted")

	runs, err := a.store.ListRunsByUser(ctx, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "nothing is admitted when the runner cannot be built")

	working := func(ctx context.Context) (*pipeline.Runner, error) {
		return a.newRunner(ctx, nil)
	}
	run, err = submitAndWait(ctx, a, req, working, cmd)
	require.NoError(t, err)
	require.NotNil(t, run, "the user is not blocked by an active run")
	assert.True(t, run.Status.IsTerminal())
	assert.NotEqual(t, types.RunStatusPending, run.Status)
}

func TestSubmitAndWait_GuardRejection(t *testing.T) {
	a, cmd, out := newOfflineApp(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := a.store.CreatePendingRun(ctx, pendingInput(userID))
	require.NoError(t, err)

	working := func(ctx context.Context) (*pipeline.Runner, error) {
		return a.newRunner(ctx, nil)
	}
	run, err := submitAndWait(ctx, a, pipeline.SubmitRequest{UserID: userID, Trigger: types.TriggerManual}, working, cmd)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.Contains(t, out.String(), "Not admitted: "+types.ReasonActiveRunInProgress)
}

func pendingInput(userID uuid.UUID) store.PendingRunInput {
	return store.PendingRunInput{
		UserID:                   userID,
		Trigger:                  types.TriggerManual,
		EventContext:             []byte(`{}`),
		EventContextFingerprint:  "ctx",
		UsageSnapshot:            []byte(`{}`),
		UsageSnapshotFingerprint: "usage",
	}
}
