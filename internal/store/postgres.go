package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobrelay/internal/models"
)

// Postgres is the pgx-backed store.
type Postgres struct {
	pool   *pgxpool.Pool
	strict bool
}

// NewPostgres creates a pooled connection to Postgres. When strict is true,
// updates to jobs already in a terminal state are rejected with
// ErrTerminalState instead of applied last-write-wins.
func NewPostgres(ctx context.Context, dsn string, strict bool) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, strict: strict}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, type, status, input_data, result_data, error, created_at, updated_at, started_at, completed_at`

// CreateJob inserts a job row in status pending.
func (s *Postgres) CreateJob(ctx context.Context, jobType string, input map[string]any) (models.Job, error) {
	if input == nil {
		input = map[string]any{}
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal input: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, type, status, input_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id, jobType, models.StatusPending, inputJSON, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:        id,
		Type:      jobType,
		Status:    models.StatusPending,
		InputData: input,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	return job, err
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (s *Postgres) ListJobs(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob applies the partial and the timestamp stamping rules in one
// statement; per-id serialization comes from the row-level lock the UPDATE
// takes.
func (s *Postgres) UpdateJob(ctx context.Context, id string, p UpdateJobParams) (models.Job, error) {
	var resultJSON []byte
	if p.ResultData != nil {
		var err error
		resultJSON, err = json.Marshal(p.ResultData)
		if err != nil {
			return models.Job{}, fmt.Errorf("marshal result: %w", err)
		}
	}

	guard := ""
	if s.strict {
		guard = ` AND status NOT IN ('completed', 'failed')`
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = COALESCE($2::text, status),
			result_data = COALESCE($3::jsonb, result_data),
			error = COALESCE($4::text, error),
			started_at = CASE WHEN $2::text = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2::text IN ('completed', 'failed') AND completed_at IS NULL THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1`+guard+`
		RETURNING `+jobColumns,
		id, p.Status, resultJSON, p.Error)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if !s.strict {
			return models.Job{}, ErrNotFound
		}
		// Distinguish a missing job from a terminal one the guard skipped.
		existing, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			return models.Job{}, getErr
		}
		if models.IsTerminal(existing.Status) {
			return models.Job{}, ErrTerminalState
		}
		return models.Job{}, ErrNotFound
	}
	return job, err
}

// ClaimJob is the atomic pending->running transition used by workers.
func (s *Postgres) ClaimJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = $2,
			started_at = COALESCE(started_at, NOW()),
			updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING `+jobColumns,
		id, models.StatusRunning, models.StatusPending)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return models.Job{}, getErr
		}
		return models.Job{}, ErrAlreadyClaimed
	}
	return job, err
}

// DeleteJob removes a job row. Webhook logs referencing it are kept for
// diagnostics.
func (s *Postgres) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendWebhookLog records an inbound callback verbatim.
func (s *Postgres) AppendWebhookLog(ctx context.Context, jobID string, payload []byte, headers map[string][]string) (int64, error) {
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return 0, fmt.Errorf("marshal headers: %w", err)
	}
	if len(payload) == 0 {
		payload = []byte("null")
	}
	// The payload column is JSONB but the audit write must succeed for
	// malformed callbacks too; wrap anything non-JSON as a JSON string.
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(payload))
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO webhook_logs (job_id, payload, headers, received_at, processed)
		VALUES ($1, $2, $3, NOW(), FALSE)
		RETURNING id
	`, jobID, payload, headerJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert webhook log: %w", err)
	}
	return id, nil
}

func (s *Postgres) MarkWebhookLogProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE webhook_logs SET processed = TRUE WHERE id = $1`, id)
	return err
}

const webhookLogColumns = `id, job_id, payload, headers, received_at, processed`

// ListWebhookLogs returns the most recent audit rows, newest-first.
func (s *Postgres) ListWebhookLogs(ctx context.Context, limit int) ([]models.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookLogColumns+` FROM webhook_logs ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query webhook logs: %w", err)
	}
	defer rows.Close()
	return scanWebhookLogs(rows)
}

// WebhookLogsForJob returns all audit rows for a job, oldest-first.
func (s *Postgres) WebhookLogsForJob(ctx context.Context, jobID string) ([]models.WebhookLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookLogColumns+` FROM webhook_logs WHERE job_id = $1 ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query webhook logs: %w", err)
	}
	defer rows.Close()
	return scanWebhookLogs(rows)
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var inputJSON, resultJSON []byte
	var errText pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.Type, &job.Status, &inputJSON, &resultJSON, &errText,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, pgx.ErrNoRows
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &job.InputData); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.ResultData); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	job.Error = textPtr(errText)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return job, nil
}

func scanWebhookLogs(rows pgx.Rows) ([]models.WebhookLog, error) {
	logs := []models.WebhookLog{}
	for rows.Next() {
		var entry models.WebhookLog
		var headerJSON []byte
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Payload, &headerJSON, &entry.ReceivedAt, &entry.Processed); err != nil {
			return nil, fmt.Errorf("scan webhook log: %w", err)
		}
		if len(headerJSON) > 0 {
			if err := json.Unmarshal(headerJSON, &entry.Headers); err != nil {
				return nil, fmt.Errorf("unmarshal headers: %w", err)
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
