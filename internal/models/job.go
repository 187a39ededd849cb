package models

import (
	"encoding/json"
	"time"
)

// Job statuses. Progression is forward-only:
// pending -> running -> completed | failed.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is a unit of asynchronous work tracked by the store.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	InputData   map[string]any `json:"input_data"`
	ResultData  any            `json:"result_data"`
	Error       *string        `json:"error"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}

// IsTerminal reports whether status is completed or failed.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// ValidStatus reports whether s names one of the four lifecycle states.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// WebhookLog is an append-only audit record of a received callback.
// A row is written for every inbound callback, whether or not the
// referenced job exists; Processed flips to true only after the job
// mutation succeeded.
type WebhookLog struct {
	ID         int64               `json:"id"`
	JobID      string              `json:"job_id"`
	Payload    json.RawMessage     `json:"payload"`
	Headers    map[string][]string `json:"headers"`
	ReceivedAt time.Time           `json:"received_at"`
	Processed  bool                `json:"processed"`
}
