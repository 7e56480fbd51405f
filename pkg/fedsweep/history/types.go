// Package history keeps a record of past sweeps on the filesystem, one JSON
// file per invocation.
package history

import "time"

// Status is the final state of a sweep.
type Status string

const (
	// StatusCompleted means every dispatched run exited cleanly.
	StatusCompleted Status = "completed"
	// StatusFailures means the sweep finished but some runs failed.
	StatusFailures Status = "completed_with_failures"
	// StatusAborted means dispatching stopped early.
	StatusAborted Status = "aborted"
)

// Entry records one sweep invocation.
type Entry struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	DeviceID  int         `json:"device_id"`
	Beta      float64     `json:"beta"`
	Status    Status      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Runs      []RunRecord `json:"runs"`
	Summary   Summary     `json:"summary"`
}

// RunRecord is the launch outcome of one run. It does not carry training
// metrics.
type RunRecord struct {
	RunID        string    `json:"run_id"`
	Dataset      string    `json:"dataset"`
	LearningRate float64   `json:"learning_rate"`
	Optimizer    string    `json:"optimizer"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	ExitCode     int       `json:"exit_code"`
	Succeeded    bool      `json:"succeeded"`
	Error        string    `json:"error,omitempty"`
}

// Summary contains sweep counts.
type Summary struct {
	Planned    int   `json:"planned"`
	Dispatched int   `json:"dispatched"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	PeakActive int64 `json:"peak_active"`
	ElapsedMS  int64 `json:"elapsed_ms"`
}
