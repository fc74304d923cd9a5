// Package analysis implements the four-phase thematic-analysis pipeline:
// initial coding, candidate theming, theme finalization, and theme
// assignment. Each phase runs as a background job over one case store,
// single-flight per phase kind, resumable, with live progress broadcast.
package analysis

import (
	"fmt"
	"strings"
)

// Phase identifies one of the four pipeline stages. The set is closed: it is
// both the single-flight key space and the wire identity in API paths and
// progress events.
type Phase string

const (
	PhaseInitialCoding     Phase = "initial_coding"
	PhaseCandidateTheming  Phase = "candidate_theming"
	PhaseThemeFinalization Phase = "theme_finalization"
	PhaseThemeAssignment   Phase = "theme_assignment"
)

// Phases returns all phase kinds in pipeline order.
func Phases() []Phase {
	return []Phase{
		PhaseInitialCoding,
		PhaseCandidateTheming,
		PhaseThemeFinalization,
		PhaseThemeAssignment,
	}
}

// ParsePhase maps an API path segment to a phase kind. Both hyphenated and
// underscored spellings are accepted.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch p {
	case PhaseInitialCoding, PhaseCandidateTheming, PhaseThemeFinalization, PhaseThemeAssignment:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown phase %q", ErrValidation, s)
}

func (p Phase) String() string {
	return string(p)
}

// Slug returns the hyphenated form used in API paths.
func (p Phase) Slug() string {
	return strings.ReplaceAll(string(p), "_", "-")
}
