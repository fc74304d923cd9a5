// Package progress provides the live progress event stream for phase runs.
package progress

import "time"

// EventType discriminates progress events on the push channel.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventCaseCompleted EventType = "case_completed"
	EventCaseFailed    EventType = "case_failed"
	EventRunStopped    EventType = "run_stopped"
	EventRunCompleted  EventType = "run_completed"
	EventRunFailed     EventType = "run_failed"
)

// Counters carries the run-level progress numbers. UniqueLabels counts
// distinct codes during initial coding and distinct themes in the later
// phases.
type Counters struct {
	Processed    int `json:"processed"`
	Total        int `json:"total"`
	Remaining    int `json:"remaining"`
	UniqueLabels int `json:"unique_labels"`
}

// Event is one progress update. Events are ephemeral: the store remains the
// source of truth and a reconnecting client re-derives current progress by
// re-reading it.
type Event struct {
	Type      EventType      `json:"type"`
	Phase     string         `json:"phase"`
	RunID     string         `json:"run_id,omitempty"`
	CaseID    string         `json:"case_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Progress  *Counters      `json:"progress,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
