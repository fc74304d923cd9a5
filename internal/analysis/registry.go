package analysis

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Run is one live phase execution. It is transient: created when a start
// request is accepted, destroyed when the executor loop exits for any
// reason. Cancellation is cooperative, the flag is observed between work
// items and never interrupts an in-flight annotator call.
type Run struct {
	ID        string
	Phase     Phase
	StartedAt time.Time

	cancelled atomic.Bool
}

// Cancel requests a cooperative stop.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
}

// Cancelled reports whether a stop has been requested.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Registry is the in-memory single-flight gate over phase runs. At most one
// run per phase kind exists system-wide, regardless of which case store it
// targets; two stores therefore cannot run the same phase kind concurrently.
type Registry struct {
	mu   sync.Mutex
	runs map[Phase]*Run
}

// NewRegistry creates an empty registry. One registry is constructed at
// process start and shared by every executor.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[Phase]*Run)}
}

// TryStart reserves the run slot for phase. It fails with ErrPhaseRunning
// and performs no side effect when a run already holds the slot.
func (g *Registry) TryStart(phase Phase) (*Run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.runs[phase]; exists {
		return nil, fmt.Errorf("%w: %s", ErrPhaseRunning, phase)
	}
	run := &Run{
		ID:        uuid.New().String()[:8],
		Phase:     phase,
		StartedAt: time.Now(),
	}
	g.runs[phase] = run
	return run, nil
}

// RequestCancel flips the cancellation flag on the live run for phase.
// Returns false when no run is in progress.
func (g *Registry) RequestCancel(phase Phase) bool {
	g.mu.Lock()
	run, ok := g.runs[phase]
	g.mu.Unlock()
	if !ok {
		return false
	}
	run.Cancel()
	return true
}

// IsRunning reports whether a run currently holds the slot for phase.
func (g *Registry) IsRunning(phase Phase) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.runs[phase]
	return ok
}

// Running returns the running state of all four phases.
func (g *Registry) Running() map[Phase]bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[Phase]bool, len(g.runs))
	for _, p := range Phases() {
		_, ok := g.runs[p]
		out[p] = ok
	}
	return out
}

// release frees the slot held by run. Executors call it on every exit path;
// releasing only the identical run guards against a stale executor freeing a
// successor's slot.
func (g *Registry) release(run *Run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if current, ok := g.runs[run.Phase]; ok && current == run {
		delete(g.runs, run.Phase)
	}
}
