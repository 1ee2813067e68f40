// Package observability provides human-readable output of learning runs for the CLI.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jonathan/meal-learner/internal/pipeline"
	"github.com/jonathan/meal-learner/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the runs commands
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintRun outputs the run header followed by whatever its payload recorded
func (p *Printer) PrintRun(run *types.LearningRun) {
	if run == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:      %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("User:     %s\n", run.UserID))
	sb.WriteString(fmt.Sprintf("Trigger:  %s\n", run.Trigger))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", run.Status))
	if reason := run.Reason(); reason != "" {
		sb.WriteString(fmt.Sprintf("Reason:   %s\n", reason))
	}
	if run.Model != nil {
		sb.WriteString(fmt.Sprintf("Model:    %s\n", *run.Model))
	}
	sb.WriteString(fmt.Sprintf("Created:  %s\n", run.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Updated:  %s", run.UpdatedAt.Format(time.RFC3339)))
	p.printBox("LEARNING RUN", sb.String())

	if len(run.ResponsePayload) == 0 {
		return
	}
	var payload pipeline.Payload
	if err := json.Unmarshal(run.ResponsePayload, &payload); err != nil {
		p.printBox("PAYLOAD", "unreadable: "+err.Error())
		return
	}
	p.PrintPayload(&payload)
}

// PrintPayload outputs each recorded section of a run payload
func (p *Printer) PrintPayload(payload *pipeline.Payload) {
	if payload == nil {
		return
	}

	if payload.Pool != nil {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Manifest: %s (%s)\n", payload.Pool.ManifestID, payload.Pool.ManifestVersion))
		sb.WriteString(fmt.Sprintf("Size:     %d", payload.Pool.Size))
		if len(payload.Pool.Dropped) > 0 {
			sb.WriteString("\nDropped:  " + formatCounts(payload.Pool.Dropped))
		}
		p.printBox("CANDIDATE POOL", sb.String())
	}

	if ex := payload.Exploration; ex != nil {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Shortlist: %d meals from %d archetypes\n", len(ex.Shortlist), len(ex.Batches)))
		if ex.TimedOut {
			sb.WriteString("Timed out: yes\n")
		}
		sb.WriteString("\n")
		count := min(len(ex.Batches), maxItemsToShow)
		for i := 0; i < count; i++ {
			b := ex.Batches[i]
			sb.WriteString(fmt.Sprintf("• %s  %s  %d/%d kept of %d  %dms\n",
				b.ArchetypeID, b.Outcome, len(b.Selected), b.Requested, b.Offered, b.DurationMS))
			if len(b.Unknown) > 0 {
				sb.WriteString(fmt.Sprintf("  dropped ids: %s\n", strings.Join(b.Unknown, ", ")))
			}
		}
		if len(ex.Batches) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more archetypes\n", len(ex.Batches)-maxItemsToShow))
		}
		p.printBox("EXPLORATION", strings.TrimSuffix(sb.String(), "\n"))
	}

	if rec := payload.Recommendation; rec != nil && len(rec.Recommendations) > 0 {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Oracle returned %d ids, kept %d, filled %d from pool\n\n",
			len(rec.OracleReturned), rec.Accepted, rec.FallbackFilled))
		for i, r := range rec.Recommendations {
			marker := ""
			if r.Source == types.RecommendationSourceFallback {
				marker = " (fallback)"
			}
			sb.WriteString(fmt.Sprintf("#%d  %s  %s%s\n", i+1, r.MealID, r.Name, marker))
		}
		p.printBox("RECOMMENDATIONS", strings.TrimSuffix(sb.String(), "\n"))
	}

	var sb strings.Builder
	if len(payload.FeedbackSources) > 0 {
		sb.WriteString("Feedback: " + strings.Join(payload.FeedbackSources, ", ") + "\n")
	}
	if len(payload.Notes) > 0 {
		sb.WriteString("Notes:    " + strings.Join(payload.Notes, "; ") + "\n")
	}
	if len(payload.TimingsMS) > 0 {
		sb.WriteString("Timings:  " + formatTimings(payload.TimingsMS) + "\n")
	}
	if e := payload.Error; e != nil {
		sb.WriteString(fmt.Sprintf("Error:    %s at %s (%s)\n", e.Reason, e.Stage, e.Kind))
		if e.Message != "" {
			sb.WriteString("          " + e.Message + "\n")
		}
	}
	if sb.Len() > 0 {
		p.printBox("DETAILS", strings.TrimSuffix(sb.String(), "\n"))
	}
}

// PrintRunList outputs one line per run, newest first as given
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRunList(runs []types.LearningRun) {
	if len(runs) == 0 {
		fmt.Fprintln(p.out, "No runs found.")
		return
	}
	fmt.Fprintf(p.out, "%-36s  %-20s  %-9s  %-20s  %s\n", "RUN", "CREATED", "STATUS", "TRIGGER", "REASON")
	for _, r := range runs {
		fmt.Fprintf(p.out, "%-36s  %-20s  %-9s  %-20s  %s\n",
			r.ID, r.CreatedAt.UTC().Format("2006-01-02 15:04:05"), r.Status, truncate(r.Trigger, 20), r.Reason())
	}
}

// PrintProgress outputs a single pipeline progress event
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(event pipeline.ProgressEvent) {
	fmt.Fprintf(p.out, "[%s/%s] %s\n", event.Category, event.Step, event.Message)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

func formatTimings(timings map[string]int64) string {
	keys := make([]string, 0, len(timings))
	for k := range timings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %dms", k, timings[k])
	}
	return strings.Join(parts, ", ")
}
