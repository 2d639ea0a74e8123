// Package replay reconstructs the recorded trace of a run without executing
// anything.
package replay

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/repository"
)

// ErrRunNotFound is returned when the run to replay does not exist.
var ErrRunNotFound = errors.New("run not found")

// maxAncestry bounds the walk up the fork chain.
const maxAncestry = 64

// StepTrace is a step together with the events that record its outcome.
// For inherited steps Events come from the ancestor run that executed the
// node, named by SourceRunID.
type StepTrace struct {
	domain.Step
	SourceRunID string             `json:"source_run_id"`
	Events      []domain.StepEvent `json:"events"`
}

// Trace is the full recorded history of a run.
type Trace struct {
	Run   *domain.Run      `json:"run"`
	Steps []StepTrace      `json:"steps"`
	Stats *domain.RunStats `json:"stats"`
}

// Replayer reads traces from the repositories.
type Replayer struct {
	runs   repository.RunRepository
	steps  repository.StepRepository
	events repository.EventRepository
}

// New creates a Replayer.
func New(runs repository.RunRepository, steps repository.StepRepository, events repository.EventRepository) *Replayer {
	return &Replayer{runs: runs, steps: steps, events: events}
}

// Trace loads the run, its steps in sequence order and the events of each step.
func (r *Replayer) Trace(ctx context.Context, runID string) (*Trace, error) {
	run, err := r.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "load run %s", runID)
	}
	if run == nil {
		return nil, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	steps, err := r.steps.FindByRunID(ctx, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "load steps of %s", runID)
	}

	trace := &Trace{Run: run, Steps: make([]StepTrace, 0, len(steps))}
	for _, s := range steps {
		st := StepTrace{Step: s, SourceRunID: runID}
		if s.Inherited {
			src, events, err := r.resolveInherited(ctx, run, s.Sequence)
			if err != nil {
				return nil, err
			}
			st.SourceRunID = src
			st.Events = events
		} else {
			st.Events, err = r.events.FindByStepID(ctx, s.StepID)
			if err != nil {
				return nil, errors.Wrapf(err, "load events of step %s", s.StepID)
			}
		}
		if st.Events == nil {
			st.Events = []domain.StepEvent{}
		}
		trace.Steps = append(trace.Steps, st)
	}

	trace.Stats, err = r.events.GetRunStats(ctx, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "load stats of %s", runID)
	}
	return trace, nil
}

// Stats returns the aggregated event statistics of a run.
func (r *Replayer) Stats(ctx context.Context, runID string) (*domain.RunStats, error) {
	run, err := r.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "load run %s", runID)
	}
	if run == nil {
		return nil, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return r.events.GetRunStats(ctx, runID)
}

// resolveInherited walks up the fork chain to the ancestor that executed the
// step at sequence. A missing ancestor yields no events.
func (r *Replayer) resolveInherited(ctx context.Context, run *domain.Run, sequence int) (string, []domain.StepEvent, error) {
	current := run
	for depth := 0; depth < maxAncestry && current.ParentRunID != ""; depth++ {
		parent, err := r.runs.FindByID(ctx, current.ParentRunID)
		if err != nil {
			return "", nil, errors.Wrapf(err, "load run %s", current.ParentRunID)
		}
		if parent == nil {
			break
		}
		steps, err := r.steps.FindByRunID(ctx, parent.RunID)
		if err != nil {
			return "", nil, errors.Wrapf(err, "load steps of %s", parent.RunID)
		}
		var match *domain.Step
		for i := range steps {
			if steps[i].Sequence == sequence {
				match = &steps[i]
				break
			}
		}
		if match == nil {
			break
		}
		if !match.Inherited {
			events, err := r.events.FindByStepID(ctx, match.StepID)
			if err != nil {
				return "", nil, errors.Wrapf(err, "load events of step %s", match.StepID)
			}
			return parent.RunID, events, nil
		}
		current = parent
	}
	return current.RunID, nil, nil
}

// Print writes a human readable rendition of trace. With dryRun the rendered
// prompt of each step is shown as well.
func Print(w io.Writer, trace *Trace, dryRun bool) {
	run := trace.Run
	fmt.Fprintf(w, "Run:     %s\n", run.RunID)
	fmt.Fprintf(w, "Graph:   %s v%s\n", run.GraphID, run.GraphVersion)
	fmt.Fprintf(w, "State:   %s\n", run.State)
	if run.ParentRunID != "" {
		fmt.Fprintf(w, "Fork of: %s (from step %s)\n", run.ParentRunID, run.ForkFromStepID)
	}
	if run.StartedAt != nil {
		fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Tokens:  %d | Cost: $%.6f\n", run.TotalTokens, run.TotalCostUSD)
	if run.Error != nil {
		fmt.Fprintf(w, "Error:   %s: %s\n", run.Error.Type, run.Error.Message)
	}

	fmt.Fprintf(w, "\nSteps (%d total):\n", len(trace.Steps))
	for _, s := range trace.Steps {
		var last *domain.StepEvent
		if n := len(s.Events); n > 0 {
			last = &s.Events[n-1]
		}
		var b strings.Builder
		fmt.Fprintf(&b, "  [%02d] %s (%s)", s.Sequence, s.NodeLabel, s.NodeType)
		if s.Inherited {
			b.WriteString(" [inherited]")
		}
		fmt.Fprintf(&b, " -> %s", s.State)
		if s.DurationMs > 0 {
			fmt.Fprintf(&b, " %dms", s.DurationMs)
		}
		if last != nil && last.Tokens > 0 {
			fmt.Fprintf(&b, " %dt", last.Tokens)
		}
		fmt.Fprintln(w, b.String())

		if dryRun && last != nil && last.RenderedPrompt != "" {
			fmt.Fprintf(w, "       Prompt: %s\n", truncate(last.RenderedPrompt, 80))
		}
		if last != nil && last.Error != nil {
			fmt.Fprintf(w, "       Error: %s: %s\n", last.Error.Type, last.Error.Message)
		}
	}

	if trace.Stats != nil {
		fmt.Fprintf(w, "\nEvents: %d (%d errors)\n", trace.Stats.EventCount, trace.Stats.ErrorCount)
	}
	if dryRun {
		fmt.Fprintln(w, "\nDry run: replay plan printed, nothing executed.")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
