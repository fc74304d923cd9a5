package analysis

import "errors"

// Sentinel errors for run control.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrPhaseRunning indicates a start request hit the single-flight gate:
	// a run of the same phase kind is already in progress.
	ErrPhaseRunning = errors.New("phase already running")

	// ErrNotRunning indicates a cancel request for a phase with no live run.
	ErrNotRunning = errors.New("phase not running")

	// ErrStoreNotFound indicates the referenced case store file does not
	// exist under the data directory.
	ErrStoreNotFound = errors.New("store not found")

	// ErrValidation indicates malformed caller-supplied parameters. The
	// request is rejected before any run slot is reserved.
	ErrValidation = errors.New("invalid request")
)
