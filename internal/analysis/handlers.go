package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkratky/casecoder/internal/models"
	"github.com/dkratky/casecoder/internal/store"
)

// codingHandler drives the initial-coding phase: one annotator call per case
// without codes, producing a list of short code strings.
type codingHandler struct{}

func (codingHandler) pending(rec *models.CaseRecord) bool {
	return rec.Codes == nil
}

func (codingHandler) seed(d *store.Dataset) (*labelSet, error) {
	known := newLabelSet()
	for _, rec := range d.Cases {
		known.add(rec.Codes...)
	}
	return known, nil
}

func (codingHandler) prompt(id string, rec *models.CaseRecord, known *labelSet, instructions string) string {
	return buildCodingPrompt(id, rec, known.sorted(), instructions)
}

func (codingHandler) outcome(id, raw string) (*caseOutcome, error) {
	v, err := caseValue(id, raw)
	if err != nil {
		return nil, err
	}
	var codes models.StringList
	if err := json.Unmarshal(v, &codes); err != nil {
		return nil, fmt.Errorf("case %s: codes are neither string nor string array: %w", id, err)
	}
	codes = trimLabels(codes)
	if len(codes) == 0 {
		return nil, fmt.Errorf("case %s: empty code list", id)
	}
	return &caseOutcome{
		data:   map[string]any{"codes": []string(codes)},
		labels: codes,
		apply: func(rec *models.CaseRecord) error {
			rec.Codes = codes
			return nil
		},
	}, nil
}

// themingHandler drives the candidate-theming phase: one annotator call per
// coded case without a candidate theme, producing a single theme string.
type themingHandler struct{}

func (themingHandler) pending(rec *models.CaseRecord) bool {
	return rec.Codes != nil && rec.CandidateTheme == ""
}

func (themingHandler) seed(d *store.Dataset) (*labelSet, error) {
	known := newLabelSet()
	for _, rec := range d.Cases {
		known.add(rec.CandidateTheme)
	}
	return known, nil
}

func (themingHandler) prompt(id string, rec *models.CaseRecord, known *labelSet, instructions string) string {
	return buildThemingPrompt(id, rec, known.top(knownVocabularyCap), instructions)
}

func (themingHandler) outcome(id, raw string) (*caseOutcome, error) {
	theme, err := singleLabel(id, raw)
	if err != nil {
		return nil, err
	}
	return &caseOutcome{
		data:   map[string]any{"candidate_theme": theme},
		labels: []string{theme},
		apply: func(rec *models.CaseRecord) error {
			rec.CandidateTheme = theme
			return nil
		},
	}, nil
}

// assignmentHandler drives the theme-assignment phase: one annotator call per
// case without a final theme, choosing from a fixed vocabulary resolved at
// run start.
type assignmentHandler struct {
	themes []string
}

func (h *assignmentHandler) pending(rec *models.CaseRecord) bool {
	return rec.FinalTheme == ""
}

// seed resolves the theme vocabulary. An explicit request list wins; then the
// stored finalization output; then the distinct theme values already present
// in the dataset.
func (h *assignmentHandler) seed(d *store.Dataset) (*labelSet, error) {
	if len(h.themes) == 0 && d.Finalization != nil {
		h.themes = d.Finalization.ThemeNames()
	}
	if len(h.themes) == 0 {
		derived := newLabelSet()
		for _, rec := range d.Cases {
			derived.add(rec.CandidateTheme, rec.FinalTheme)
		}
		h.themes = derived.sorted()
	}
	if len(h.themes) == 0 {
		return nil, errors.New("no theme vocabulary available: provide themes or run theme finalization first")
	}

	known := newLabelSet()
	for _, rec := range d.Cases {
		known.add(rec.FinalTheme)
	}
	return known, nil
}

func (h *assignmentHandler) prompt(id string, rec *models.CaseRecord, _ *labelSet, instructions string) string {
	return buildAssignmentPrompt(id, rec, h.themes, instructions)
}

func (h *assignmentHandler) outcome(id, raw string) (*caseOutcome, error) {
	theme, err := singleLabel(id, raw)
	if err != nil {
		return nil, err
	}
	return &caseOutcome{
		data:   map[string]any{"final_theme": theme},
		labels: []string{theme},
		apply: func(rec *models.CaseRecord) error {
			rec.FinalTheme = theme
			return nil
		},
	}, nil
}

// singleLabel extracts a single non-empty string value for the case, also
// accepting a one-element array.
func singleLabel(id, raw string) (string, error) {
	v, err := caseValue(id, raw)
	if err != nil {
		return "", err
	}
	var label models.StringList
	if err := json.Unmarshal(v, &label); err != nil {
		return "", fmt.Errorf("case %s: value is not a string: %w", id, err)
	}
	label = trimLabels(label)
	if len(label) != 1 {
		return "", fmt.Errorf("case %s: expected exactly one label, got %d", id, len(label))
	}
	return label[0], nil
}

func trimLabels(in []string) []string {
	out := in[:0]
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func normalizeThemes(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (s *Service) runAssignment(ctx context.Context, run *Run, st *store.Store, ann Annotator, req StartRequest) {
	h := &assignmentHandler{themes: normalizeThemes(req.Themes)}
	s.runCases(ctx, run, st, ann, h, req.Instructions)
}
