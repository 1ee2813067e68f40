package oracle

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jonathan/meal-learner/internal/llm"
	"github.com/jonathan/meal-learner/internal/schemas"
)

type rawSelection struct {
	IDs   []any `json:"ids"`
	Notes any   `json:"notes"`
}

// ParseSelection reads an oracle response. The envelope must be an object with an "ids"
// array; anything else wraps ErrMalformedResponse. Inside a valid envelope, ids that are
// not non-empty strings and notes that are not strings are dropped, and unknown fields are
// ignored.
func ParseSelection(text string) (*Selection, error) {
	cleaned := llm.CleanJSONBlock(text)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	if err := schemas.ValidateSelection(cleaned); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var raw rawSelection
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	sel := &Selection{IDs: make([]string, 0, len(raw.IDs))}
	for _, v := range raw.IDs {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			sel.IDs = append(sel.IDs, s)
		}
	}

	switch notes := raw.Notes.(type) {
	case string:
		if notes = strings.TrimSpace(notes); notes != "" {
			sel.Notes = []string{notes}
		}
	case []any:
		for _, n := range notes {
			if s, ok := n.(string); ok && strings.TrimSpace(s) != "" {
				sel.Notes = append(sel.Notes, strings.TrimSpace(s))
			}
		}
	}
	return sel, nil
}
