// Package store persists a case collection as a single JSON object file.
package store

import "errors"

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCaseNotFound indicates the requested case id is not in the store.
	ErrCaseNotFound = errors.New("case not found")

	// ErrReservedID indicates a case operation targeted the reserved
	// metadata key.
	ErrReservedID = errors.New("reserved store key")

	// ErrNotObject indicates the store file does not contain a JSON object.
	// A bare array is rejected even if it holds case-shaped entries.
	ErrNotObject = errors.New("store file is not a JSON object")
)
