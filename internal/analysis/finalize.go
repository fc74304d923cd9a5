package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dkratky/casecoder/internal/llm"
	"github.com/dkratky/casecoder/internal/models"
	"github.com/dkratky/casecoder/internal/progress"
	"github.com/dkratky/casecoder/internal/store"
)

// finalizationResponse is the wire shape the consolidation prompt asks for.
type finalizationResponse struct {
	FinalThemes []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		MergedFrom  []string `json:"merged_from"`
	} `json:"final_themes"`
	Mappings map[string]string `json:"mappings"`
}

// toOutput validates the model response against the candidate set and
// converts it to the persisted form. Every candidate must be mapped to a
// named final theme; anything less is a format failure and nothing is
// persisted.
func (r finalizationResponse) toOutput(candidates []string) (*models.FinalizationOutput, error) {
	if len(r.FinalThemes) == 0 {
		return nil, fmt.Errorf("response contains no final themes")
	}

	out := &models.FinalizationOutput{
		Mappings:    make(map[string]string, len(r.Mappings)),
		GeneratedAt: time.Now().UTC(),
	}
	names := make(map[string]struct{}, len(r.FinalThemes))
	for _, t := range r.FinalThemes {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("response contains a final theme without a name")
		}
		names[name] = struct{}{}
		out.FinalThemes = append(out.FinalThemes, models.FinalTheme{
			Name:        name,
			Description: strings.TrimSpace(t.Description),
			MergedFrom:  t.MergedFrom,
		})
	}

	for from, to := range r.Mappings {
		to = strings.TrimSpace(to)
		if _, known := names[to]; !known {
			return nil, fmt.Errorf("mapping for %q targets unknown theme %q", from, to)
		}
		out.Mappings[strings.TrimSpace(from)] = to
	}
	for _, c := range candidates {
		if _, ok := out.Mappings[c]; !ok {
			return nil, fmt.Errorf("candidate theme %q is not mapped", c)
		}
	}
	return out, nil
}

// runFinalization consolidates all candidate themes in one annotator call,
// persists the result under the store's reserved metadata key and applies the
// mappings: every case whose candidate theme is mapped gets its final theme
// set in the same write. Unlike the per-case phases there is no incremental
// progress; the run either lands the whole output or leaves the store
// untouched. Cases without a candidate theme are left for the assignment
// phase.
func (s *Service) runFinalization(ctx context.Context, run *Run, st *store.Store, ann Annotator, instructions string) {
	d, err := st.Load()
	if err != nil {
		s.publishFailed(run, fmt.Sprintf("load store: %v", err))
		return
	}

	candidates := newLabelSet()
	for _, rec := range d.Cases {
		candidates.add(rec.CandidateTheme)
	}

	counters := &progress.Counters{
		Total:        candidates.len(),
		Remaining:    candidates.len(),
		UniqueLabels: candidates.len(),
	}
	s.publish(run, progress.Event{
		Type:     progress.EventRunStarted,
		Data:     map[string]any{"store": st.Path(), "model": ann.Name()},
		Progress: counters,
	})

	if candidates.len() == 0 {
		slog.Info("no candidate themes to finalize", "run_id", run.ID, "store", st.Path())
		s.publish(run, progress.Event{
			Type:     progress.EventRunCompleted,
			Message:  "no candidate themes to finalize",
			Progress: counters,
		})
		return
	}

	if run.Cancelled() {
		s.publishStopped(run, counters)
		return
	}

	raw, err := ann.Annotate(ctx, SystemPrompt, buildFinalizationPrompt(candidates.counted(), instructions))
	if run.Cancelled() {
		s.publishStopped(run, counters)
		return
	}
	if err != nil {
		s.publishFailed(run, fmt.Sprintf("annotator: %v", err))
		return
	}

	var resp finalizationResponse
	if err := llm.DecodeModelJSON(raw, &resp); err != nil {
		s.publishFailed(run, fmt.Sprintf("decode finalization response: %v", err))
		return
	}
	out, err := resp.toOutput(candidates.sorted())
	if err != nil {
		s.publishFailed(run, fmt.Sprintf("finalization response rejected: %v", err))
		return
	}

	assigned := 0
	if err := st.Update(func(d *store.Dataset) error {
		d.Finalization = out
		for _, rec := range d.Cases {
			if rec.CandidateTheme == "" {
				continue
			}
			if theme, ok := out.Mappings[rec.CandidateTheme]; ok {
				rec.FinalTheme = theme
				assigned++
			}
		}
		return nil
	}); err != nil {
		s.publishFailed(run, fmt.Sprintf("persist finalization: %v", err))
		return
	}

	slog.Info("theme finalization completed", "run_id", run.ID,
		"candidates", candidates.len(), "final_themes", len(out.FinalThemes),
		"cases_assigned", assigned)
	s.publish(run, progress.Event{
		Type: progress.EventRunCompleted,
		Data: map[string]any{
			"final_themes":   out.ThemeNames(),
			"mappings":       out.Mappings,
			"cases_assigned": assigned,
		},
		Progress: &progress.Counters{
			Processed:    candidates.len(),
			Total:        candidates.len(),
			UniqueLabels: len(out.FinalThemes),
		},
	})
}
