package jobs

import (
	"time"
)

// Status is the lifecycle of one submitted job. Terminal states never change
// once written.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Args is the string-keyed argument bag a job is submitted with. Keeping it
// flat keeps lock-key derivation and the HTTP surface trivial.
type Args map[string]string

// Record is the persisted view of one job, what GET /jobs/{id} returns.
type Record struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Args       Args        `json:"args,omitempty"`
	Status     Status      `json:"status"`
	Result     interface{} `json:"result,omitempty"`
	Error      *Error      `json:"error,omitempty"`
	ChainedID  string      `json:"chained_id,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}
