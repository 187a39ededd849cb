// Package store persists jobs and webhook audit logs. Two backends exist:
// a pgx-backed Postgres store for deployments and an in-memory store for
// local development and tests. Both serialize updates per job id.
package store

import (
	"context"
	"errors"

	"jobrelay/internal/models"
)

var (
	// ErrNotFound indicates the referenced job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyClaimed indicates a claim raced against another worker and lost.
	ErrAlreadyClaimed = errors.New("job already claimed")
	// ErrTerminalState indicates a strict-mode store refused to mutate a
	// job that is already completed or failed.
	ErrTerminalState = errors.New("job already in a terminal state")
)

// UpdateJobParams is the partial applied by UpdateJob. Nil fields are left
// untouched; a non-nil Status drives the timestamp stamping rules.
type UpdateJobParams struct {
	Status     *string
	ResultData any
	Error      *string
}

// Store is the shared persistence contract for jobs and webhook logs.
type Store interface {
	// CreateJob inserts a new job in status pending.
	CreateJob(ctx context.Context, jobType string, input map[string]any) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	// ListJobs returns jobs newest-first, optionally filtered by status.
	ListJobs(ctx context.Context, status string, limit int) ([]models.Job, error)
	// UpdateJob applies a partial update. started_at is stamped on the
	// first transition to running, completed_at on the first transition
	// to a terminal state; both stamps are idempotent.
	UpdateJob(ctx context.Context, id string, p UpdateJobParams) (models.Job, error)
	DeleteJob(ctx context.Context, id string) error
	// ClaimJob atomically moves a pending job to running. It returns
	// ErrAlreadyClaimed when the job exists but is no longer pending.
	ClaimJob(ctx context.Context, id string) (models.Job, error)

	// AppendWebhookLog records an inbound callback verbatim and returns
	// the new row id. It must succeed or fail independently of any job
	// mutation.
	AppendWebhookLog(ctx context.Context, jobID string, payload []byte, headers map[string][]string) (int64, error)
	MarkWebhookLogProcessed(ctx context.Context, id int64) error
	ListWebhookLogs(ctx context.Context, limit int) ([]models.WebhookLog, error)
	WebhookLogsForJob(ctx context.Context, jobID string) ([]models.WebhookLog, error)

	Close()
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
