package analysis

import (
	"fmt"
	"testing"

	"github.com/dkratky/casecoder/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const themedFixture = `{
	"case-00": {"text": "a", "codes": ["x"], "candidate_theme": "Pickpocketing"},
	"case-01": {"text": "b", "codes": ["y"], "candidate_theme": "Street theft"},
	"case-02": {"text": "c", "codes": ["z"], "candidate_theme": "Pickpocketing"},
	"case-03": {"text": "d", "codes": ["w"]}
}`

func TestThemeFinalization(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, themedFixture)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		// Counts from the store reach the prompt.
		assert.Contains(t, user, "Pickpocketing (2 data points)")
		assert.Contains(t, user, "Street theft (1 data points)")
		return `{
			"final_themes": [
				{"name": "Theft from person", "description": "Direct theft", "merged_from": ["Pickpocketing", "Street theft"]}
			],
			"mappings": {"Pickpocketing": "Theft from person", "Street theft": "Theft from person"}
		}`, nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeFinalization, StartRequest{Store: testStoreName})

	require.Equal(t, 1, fake.totalCalls(), "finalization is a single batch call")

	started := eventsOfType(evs, progress.EventRunStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 2, started[0].Progress.Total, "two distinct candidate themes")

	final := evs[len(evs)-1]
	require.Equal(t, progress.EventRunCompleted, final.Type)
	assert.Equal(t, []string{"Theft from person"}, final.Data["final_themes"])

	d := loadStore(t, dir)
	require.NotNil(t, d.Finalization)
	assert.Equal(t, []string{"Theft from person"}, d.Finalization.ThemeNames())
	assert.Equal(t, "Theft from person", d.Finalization.Mappings["Pickpocketing"])
	assert.False(t, d.Finalization.GeneratedAt.IsZero())
	assert.Equal(t, 3, final.Data["cases_assigned"])
}

func TestFinalizationAssignsMappedCases(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, themedFixture)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return `{
			"final_themes": [
				{"name": "Theft from person", "merged_from": ["Pickpocketing"]},
				{"name": "Opportunistic theft", "merged_from": ["Street theft"]}
			],
			"mappings": {"Pickpocketing": "Theft from person", "Street theft": "Opportunistic theft"}
		}`, nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeFinalization, StartRequest{Store: testStoreName})
	require.Equal(t, progress.EventRunCompleted, evs[len(evs)-1].Type)

	// Every case with a mapped candidate theme gets its final theme in the
	// same write that lands the metadata.
	d := loadStore(t, dir)
	assert.Equal(t, "Theft from person", d.Cases["case-00"].FinalTheme)
	assert.Equal(t, "Opportunistic theft", d.Cases["case-01"].FinalTheme)
	assert.Equal(t, "Theft from person", d.Cases["case-02"].FinalTheme)
	// A case with no candidate theme stays unassigned for the assignment phase.
	assert.Empty(t, d.Cases["case-03"].FinalTheme)
}

func TestFinalizationRejectsIncompleteMapping(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, themedFixture)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return `{
			"final_themes": [{"name": "Theft from person"}],
			"mappings": {"Pickpocketing": "Theft from person"}
		}`, nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeFinalization, StartRequest{Store: testStoreName})

	final := evs[len(evs)-1]
	require.Equal(t, progress.EventRunFailed, final.Type)
	assert.Contains(t, final.Message, "Street theft")

	assert.Nil(t, loadStore(t, dir).Finalization, "rejected output must not be persisted")
}

func TestFinalizationRejectsMappingToUnknownTheme(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, themedFixture)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return `{
			"final_themes": [{"name": "Theft from person"}],
			"mappings": {"Pickpocketing": "Theft from person", "Street theft": "Robbery"}
		}`, nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeFinalization, StartRequest{Store: testStoreName})
	assert.Equal(t, progress.EventRunFailed, evs[len(evs)-1].Type)
	assert.Nil(t, loadStore(t, dir).Finalization)
}

func TestFinalizationWithNoCandidates(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 3, 0))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return "", fmt.Errorf("should not be called")
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeFinalization, StartRequest{Store: testStoreName})

	assert.Equal(t, 0, fake.totalCalls())
	final := evs[len(evs)-1]
	assert.Equal(t, progress.EventRunCompleted, final.Type)
	assert.Equal(t, "no candidate themes to finalize", final.Message)
}

func TestThemeAssignmentWithExplicitVocabulary(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, themedFixture)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		assert.Contains(t, user, "- Theft from person")
		assert.Contains(t, user, "- Robbery")
		return themeResponse(id, "Theft from person"), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeAssignment, StartRequest{
		Store:  testStoreName,
		Themes: []string{"Theft from person", "Robbery", "", "Robbery"},
	})

	assert.Equal(t, 4, fake.totalCalls())
	assert.Equal(t, progress.EventRunCompleted, evs[len(evs)-1].Type)

	d := loadStore(t, dir)
	for id, rec := range d.Cases {
		assert.Equal(t, "Theft from person", rec.FinalTheme, "case %s", id)
	}
}

func TestThemeAssignmentUsesFinalizationVocabulary(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, `{
		"case-00": {"text": "a", "codes": ["x"], "candidate_theme": "Pickpocketing"},
		"_finalization": {
			"final_themes": [{"name": "Theft from person"}, {"name": "Robbery"}],
			"mappings": {"Pickpocketing": "Theft from person"},
			"generated_at": "2026-03-01T10:00:00Z"
		}
	}`)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		assert.Contains(t, user, "- Theft from person")
		assert.Contains(t, user, "- Robbery")
		return themeResponse(id, "Theft from person"), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeAssignment, StartRequest{Store: testStoreName})

	assert.Equal(t, progress.EventRunCompleted, evs[len(evs)-1].Type)
	assert.Equal(t, "Theft from person", loadStore(t, dir).Cases["case-00"].FinalTheme)
}

func TestThemeAssignmentFallsBackToStoredThemes(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, themedFixture)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		// No explicit list and no finalization entry: the distinct stored
		// theme values become the vocabulary.
		assert.Contains(t, user, "- Pickpocketing")
		assert.Contains(t, user, "- Street theft")
		return themeResponse(id, "Pickpocketing"), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeAssignment, StartRequest{Store: testStoreName})
	assert.Equal(t, progress.EventRunCompleted, evs[len(evs)-1].Type)
}

func TestThemeAssignmentFailsWithoutVocabulary(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, codingFixture(t, 2, 0))

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return "", fmt.Errorf("should not be called")
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeAssignment, StartRequest{Store: testStoreName})

	assert.Equal(t, 0, fake.totalCalls())
	final := evs[len(evs)-1]
	require.Equal(t, progress.EventRunFailed, final.Type)
	assert.Contains(t, final.Message, "no theme vocabulary")
}

func TestThemeAssignmentSkipsAssignedCases(t *testing.T) {
	dir := t.TempDir()
	writeStoreJSON(t, dir, `{
		"case-00": {"text": "a", "candidate_theme": "Pickpocketing", "final_theme": "Theft from person"},
		"case-01": {"text": "b", "candidate_theme": "Pickpocketing"}
	}`)

	fake := newFakeAnnotator(func(id string, attempt int, user string) (string, error) {
		return themeResponse(id, "Theft from person"), nil
	})
	svc, bc := newTestService(t, dir, fake)

	evs := runPhase(t, svc, bc, PhaseThemeAssignment, StartRequest{
		Store:  testStoreName,
		Themes: []string{"Theft from person"},
	})

	assert.Equal(t, 1, fake.totalCalls())
	started := eventsOfType(evs, progress.EventRunStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 1, started[0].Progress.Processed)
	assert.Equal(t, 2, started[0].Progress.Total)
}
