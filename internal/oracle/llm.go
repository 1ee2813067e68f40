package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/jonathan/meal-learner/internal/llm"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/metrics"
	"github.com/jonathan/meal-learner/internal/prompts"
)

// LLMOracle renders the oracle prompts and sends them to an llm.Client
type LLMOracle struct {
	client llm.Client
	log    *logger.Logger
}

// NewLLMOracle creates an oracle backed by client
func NewLLMOracle(client llm.Client, log *logger.Logger) *LLMOracle {
	if log == nil {
		log = logger.Nop()
	}
	return &LLMOracle{client: client, log: log}
}

// Model reports the model used for final recommendations
func (o *LLMOracle) Model() string {
	return o.client.GetModel(llm.TierStandard)
}

// Explore asks the lite tier for picks from one archetype batch
func (o *LLMOracle) Explore(ctx context.Context, req ExploreRequest) (*Selection, error) {
	data, err := promptData(req.Context, req.Candidates, req.Count)
	if err != nil {
		return nil, err
	}
	data["ArchetypeID"] = req.ArchetypeID

	prompt := prompts.Format(prompts.MustGet(prompts.OracleFile, prompts.KeyExplore), data)
	return o.call(ctx, "exploration", prompt, llm.TierLite)
}

// Recommend asks the standard tier for the final ranking
func (o *LLMOracle) Recommend(ctx context.Context, req RecommendRequest) (*Selection, error) {
	data, err := promptData(req.Context, req.Candidates, req.Count)
	if err != nil {
		return nil, err
	}

	prompt := prompts.Format(prompts.MustGet(prompts.OracleFile, prompts.KeyRecommend), data)
	return o.call(ctx, "recommendation", prompt, llm.TierStandard)
}

func (o *LLMOracle) call(ctx context.Context, stage, prompt string, tier llm.ModelTier) (*Selection, error) {
	start := time.Now()
	text, err := o.client.GenerateJSON(ctx, prompt, tier)
	if err != nil {
		metrics.RecordOracleCall(stage, outcomeFor(ctx, err), time.Since(start))
		return nil, fmt.Errorf("oracle %s call failed: %w", stage, err)
	}

	sel, err := ParseSelection(text)
	if err != nil {
		metrics.RecordOracleCall(stage, "malformed", time.Since(start))
		o.log.Warn("Oracle returned unreadable selection",
			"stage", stage,
			"model", o.client.GetModel(tier),
			"response_bytes", len(text))
		return nil, err
	}

	metrics.RecordOracleCall(stage, "ok", time.Since(start))
	o.log.Debug("Oracle selection received",
		"stage", stage,
		"ids", len(sel.IDs),
		"notes", len(sel.Notes))
	return sel, nil
}

func promptData(c Context, candidates []Candidate, count int) (map[string]string, error) {
	usage, err := json.MarshalIndent(c.Usage, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode usage snapshot: %w", err)
	}
	feedback := []byte("{}")
	if c.Feedback != nil {
		if feedback, err = json.MarshalIndent(c.Feedback, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to encode feedback: %w", err)
		}
	}
	event := []byte("{}")
	if c.EventContext != nil {
		if event, err = json.MarshalIndent(c.EventContext, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to encode event context: %w", err)
		}
	}
	cands, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}

	return map[string]string{
		"Count":        strconv.Itoa(count),
		"Usage":        string(usage),
		"Feedback":     string(feedback),
		"EventContext": string(event),
		"Candidates":   string(cands),
	}, nil
}

func outcomeFor(ctx context.Context, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "timeout"
	}
	if err != nil {
		return "error"
	}
	return "ok"
}
