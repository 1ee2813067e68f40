package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/meal-learner/internal/observability"
	"github.com/jonathan/meal-learner/internal/pipeline"
	"github.com/jonathan/meal-learner/internal/queue"
	"github.com/jonathan/meal-learner/internal/types"
)

var (
	submitUserID      string
	submitTrigger     string
	submitContext     string
	submitContextFile string
	submitProfileFile string
	submitWait        bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a trigger for a user",
	Long: `Submit a trigger through the guard. With --wait the admitted run is executed in this
process and its progress and result are printed; without it the run is handed to the
configured queue for the serve workers.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitUserID, "user-id", "", "User UUID (required)")
	submitCmd.Flags().StringVar(&submitTrigger, "trigger", types.TriggerManual, "Trigger type")
	submitCmd.Flags().StringVar(&submitContext, "context", "", "Event context as a JSON document")
	submitCmd.Flags().StringVar(&submitContextFile, "context-file", "", "Path to a JSON file holding the event context")
	submitCmd.Flags().StringVar(&submitProfileFile, "profile-file", "", "Path to a preference profile JSON file to store before submitting")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Run the pipeline in this process and print the result")

	_ = submitCmd.MarkFlagRequired("user-id")
	submitCmd.MarkFlagsMutuallyExclusive("context", "context-file")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, err := uuid.Parse(submitUserID)
	if err != nil {
		return fmt.Errorf("invalid --user-id: %w", err)
	}
	eventContext, err := readEventContext(submitContext, submitContextFile)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if submitProfileFile != "" {
		if err := seedProfile(ctx, a, userID, submitProfileFile); err != nil {
			return err
		}
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())

	if !submitWait {
		if a.cfg.Queue.Backend != "redis" {
			return fmt.Errorf("the %s queue only lives inside this process; use --wait or the redis backend", a.cfg.Queue.Backend)
		}
		q, err := a.newQueue(ctx)
		if err != nil {
			return fmt.Errorf("failed to open run queue: %w", err)
		}
		defer q.Close() //nolint:errcheck

		result, err := a.newService(q).Submit(ctx, pipeline.SubmitRequest{UserID: userID, Trigger: submitTrigger, EventContext: eventContext})
		if err != nil {
			return err
		}
		return printSubmitResult(cmd, result)
	}

	req := pipeline.SubmitRequest{UserID: userID, Trigger: submitTrigger, EventContext: eventContext}
	build := func(ctx context.Context) (*pipeline.Runner, error) {
		return a.newRunner(ctx, printer.PrintProgress)
	}
	run, err := submitAndWait(ctx, a, req, build, cmd)
	if err != nil || run == nil {
		return err
	}
	printer.PrintRun(run)
	return nil
}

// submitAndWait admits the trigger and executes the run in this process. The runner is
// built before admission so a wiring error never leaves a pending row behind. Returns a
// nil run when the guard rejects the trigger.
func submitAndWait(ctx context.Context, a *app, req pipeline.SubmitRequest, build func(context.Context) (*pipeline.Runner, error), cmd *cobra.Command) (*types.LearningRun, error) {
	runner, err := build(ctx)
	if err != nil {
		return nil, err
	}

	// One-slot queue drained right here by the inline runner
	q := queue.NewMemoryQueue(1)
	defer q.Close() //nolint:errcheck

	result, err := a.newService(q).Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := printSubmitResult(cmd, result); err != nil || !result.Accepted {
		return nil, err
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		abortErr := runner.Abort(context.WithoutCancel(ctx), queue.Job{RunID: result.RunID, UserID: req.UserID, Trigger: req.Trigger}, types.ReasonInternalError, err)
		return nil, errors.Join(fmt.Errorf("failed to take admitted run: %w", err), abortErr)
	}
	if err := runner.Execute(context.WithoutCancel(ctx), job); err != nil {
		return nil, err
	}

	run, err := a.store.GetRun(ctx, job.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load finished run: %w", err)
	}
	return run, nil
}

//nolint:errcheck // writing to stdout
func printSubmitResult(cmd *cobra.Command, result *pipeline.SubmitResult) error {
	if result.Accepted {
		fmt.Fprintf(cmd.OutOrStdout(), "Accepted: run %s\n", result.RunID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Not admitted: %s\n", result.Reason)
	return nil
}

// readEventContext decodes the inline or file event context; nil when neither is given
func readEventContext(inline, path string) (any, error) {
	data := []byte(inline)
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read context file %s: %w", path, err)
		}
	}
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse event context JSON: %w", err)
	}
	return v, nil
}

func seedProfile(ctx context.Context, a *app, userID uuid.UUID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile file %s: %w", path, err)
	}
	var profile types.UserPreferenceProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("failed to parse profile JSON: %w", err)
	}
	profile.UserID = userID
	if err := a.store.UpsertProfile(ctx, &profile); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	a.log.Info("Stored preference profile", "user_id", userID.String())
	return nil
}
