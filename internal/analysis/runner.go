package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dkratky/casecoder/internal/llm"
	"github.com/dkratky/casecoder/internal/models"
	"github.com/dkratky/casecoder/internal/progress"
	"github.com/dkratky/casecoder/internal/store"
)

// responseAttempts bounds re-prompting when a response decodes but does not
// address the requested case. Transport-level retries live in the annotator
// gateway, not here.
const responseAttempts = 3

// caseOutcome is the parsed result of one per-case annotator call.
type caseOutcome struct {
	// data is the event payload shown to watchers.
	data map[string]any
	// labels feed the run's known-vocabulary set.
	labels []string
	// apply mutates the freshly re-read case record during persistence.
	apply func(*models.CaseRecord) error
}

// caseHandler adapts one per-case phase to the shared run loop.
type caseHandler interface {
	// pending reports whether a case still needs this phase's output.
	pending(rec *models.CaseRecord) bool
	// seed derives the initial known-label vocabulary from the dataset and
	// may resolve phase parameters. A seed error fails the run before any
	// case is processed.
	seed(d *store.Dataset) (*labelSet, error)
	// prompt builds the user prompt for one case.
	prompt(id string, rec *models.CaseRecord, known *labelSet, instructions string) string
	// outcome parses one raw model response for the given case.
	outcome(id, raw string) (*caseOutcome, error)
}

// runCases is the shared executor for the three per-case phases. It walks the
// pending cases in deterministic ID order, persists each result immediately
// and publishes progress after every case. Individual case failures are
// recoverable; only a store I/O failure aborts the run.
func (s *Service) runCases(ctx context.Context, run *Run, st *store.Store, ann Annotator, h caseHandler, instructions string) {
	d, err := st.Load()
	if err != nil {
		s.publishFailed(run, fmt.Sprintf("load store: %v", err))
		return
	}

	known, err := h.seed(d)
	if err != nil {
		s.publishFailed(run, err.Error())
		return
	}

	total := len(d.Cases)
	var work []string
	for _, id := range d.IDs() {
		if h.pending(d.Cases[id]) {
			work = append(work, id)
		}
	}
	processed := total - len(work)

	counters := func() *progress.Counters {
		return &progress.Counters{
			Processed:    processed,
			Total:        total,
			Remaining:    total - processed,
			UniqueLabels: known.len(),
		}
	}

	s.publish(run, progress.Event{
		Type:     progress.EventRunStarted,
		Data:     map[string]any{"store": st.Path(), "model": ann.Name()},
		Progress: counters(),
	})

	if len(work) == 0 {
		slog.Info("phase run has nothing to do",
			"phase", run.Phase, "run_id", run.ID, "total", total)
		s.publish(run, progress.Event{
			Type:     progress.EventRunCompleted,
			Message:  "nothing to do",
			Progress: counters(),
		})
		return
	}

	for _, id := range work {
		if run.Cancelled() {
			s.publishStopped(run, counters())
			return
		}

		rec := d.Cases[id]
		out, err := s.annotateCase(ctx, run, ann, h, id, h.prompt(id, rec, known, instructions))
		if run.Cancelled() {
			// A stop raced the in-flight call; discard its result.
			s.publishStopped(run, counters())
			return
		}
		if err != nil {
			slog.Warn("case failed, continuing",
				"phase", run.Phase, "run_id", run.ID, "case_id", id, "error", err)
			s.publish(run, progress.Event{
				Type:     progress.EventCaseFailed,
				CaseID:   id,
				Message:  err.Error(),
				Progress: counters(),
			})
			continue
		}

		if err := st.MutateCase(id, out.apply); err != nil {
			s.publishFailed(run, fmt.Sprintf("persist case %s: %v", id, err))
			return
		}

		known.add(out.labels...)
		processed++
		s.publish(run, progress.Event{
			Type:     progress.EventCaseCompleted,
			CaseID:   id,
			Data:     out.data,
			Progress: counters(),
		})
	}

	slog.Info("phase run completed",
		"phase", run.Phase, "run_id", run.ID, "processed", processed, "total", total)
	s.publish(run, progress.Event{
		Type:     progress.EventRunCompleted,
		Progress: counters(),
	})
}

func (s *Service) publishStopped(run *Run, counters *progress.Counters) {
	slog.Info("phase run stopped", "phase", run.Phase, "run_id", run.ID)
	s.publish(run, progress.Event{
		Type:     progress.EventRunStopped,
		Progress: counters,
	})
}

// annotateCase performs one annotator call and parses the response,
// re-prompting a bounded number of times when the response is well-formed
// JSON that fails to address the requested case.
func (s *Service) annotateCase(ctx context.Context, run *Run, ann Annotator, h caseHandler, id, userPrompt string) (*caseOutcome, error) {
	var lastErr error
	for attempt := 1; attempt <= responseAttempts; attempt++ {
		raw, err := ann.Annotate(ctx, SystemPrompt, userPrompt)
		if err != nil {
			return nil, err
		}
		out, err := h.outcome(id, raw)
		if err == nil {
			return out, nil
		}
		lastErr = err
		slog.Warn("unusable annotator response",
			"phase", run.Phase, "case_id", id, "attempt", attempt, "error", err)
		if run.Cancelled() {
			break
		}
	}
	return nil, lastErr
}

// caseValue extracts the raw JSON value keyed by the case ID from a model
// response of the shape {"<id>": <value>}.
func caseValue(id, raw string) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := llm.DecodeModelJSON(raw, &m); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	v, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("response does not address case %s", id)
	}
	return v, nil
}
