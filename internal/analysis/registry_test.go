package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	tests := []struct {
		in      string
		want    Phase
		wantErr bool
	}{
		{"initial-coding", PhaseInitialCoding, false},
		{"initial_coding", PhaseInitialCoding, false},
		{"Candidate-Theming", PhaseCandidateTheming, false},
		{"theme-finalization", PhaseThemeFinalization, false},
		{"theme-assignment", PhaseThemeAssignment, false},
		{" theme-assignment ", PhaseThemeAssignment, false},
		{"coding", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePhase(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPhaseSlug(t *testing.T) {
	assert.Equal(t, "initial-coding", PhaseInitialCoding.Slug())
	assert.Equal(t, "theme-finalization", PhaseThemeFinalization.Slug())
}

func TestRegistrySingleFlight(t *testing.T) {
	reg := NewRegistry()

	run, err := reg.TryStart(PhaseInitialCoding)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, reg.IsRunning(PhaseInitialCoding))

	// Same phase kind is gated.
	_, err = reg.TryStart(PhaseInitialCoding)
	assert.ErrorIs(t, err, ErrPhaseRunning)

	// A different phase kind is not.
	other, err := reg.TryStart(PhaseCandidateTheming)
	require.NoError(t, err)
	assert.NotEqual(t, run.ID, other.ID)

	reg.release(run)
	assert.False(t, reg.IsRunning(PhaseInitialCoding))
	assert.True(t, reg.IsRunning(PhaseCandidateTheming))

	// The slot is free again.
	_, err = reg.TryStart(PhaseInitialCoding)
	assert.NoError(t, err)
}

func TestRegistryRequestCancel(t *testing.T) {
	reg := NewRegistry()

	assert.False(t, reg.RequestCancel(PhaseThemeAssignment), "no live run to cancel")

	run, err := reg.TryStart(PhaseThemeAssignment)
	require.NoError(t, err)
	assert.False(t, run.Cancelled())

	assert.True(t, reg.RequestCancel(PhaseThemeAssignment))
	assert.True(t, run.Cancelled())
}

func TestRegistryReleaseIgnoresStaleRun(t *testing.T) {
	reg := NewRegistry()

	stale, err := reg.TryStart(PhaseInitialCoding)
	require.NoError(t, err)
	reg.release(stale)

	current, err := reg.TryStart(PhaseInitialCoding)
	require.NoError(t, err)

	// Releasing the stale run again must not free the successor's slot.
	reg.release(stale)
	assert.True(t, reg.IsRunning(PhaseInitialCoding))

	reg.release(current)
	assert.False(t, reg.IsRunning(PhaseInitialCoding))
}

func TestRegistryRunning(t *testing.T) {
	reg := NewRegistry()

	running := reg.Running()
	require.Len(t, running, 4)
	for _, p := range Phases() {
		assert.False(t, running[p])
	}

	_, err := reg.TryStart(PhaseThemeFinalization)
	require.NoError(t, err)

	running = reg.Running()
	assert.True(t, running[PhaseThemeFinalization])
	assert.False(t, running[PhaseInitialCoding])
}
