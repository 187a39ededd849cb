package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobrelay/internal/models"
)

// Memory is an in-process store used for local development (no POSTGRES_DSN)
// and tests. A single mutex serializes all mutations, which satisfies the
// per-id single-writer requirement; payload maps are treated as immutable
// once handed to the store.
type Memory struct {
	mu     sync.Mutex
	strict bool

	jobs   map[string]*memoryJob
	seq    int64
	logs   []models.WebhookLog
	nextID int64
}

type memoryJob struct {
	job models.Job
	seq int64
}

// NewMemory creates an empty in-memory store.
func NewMemory(strict bool) *Memory {
	return &Memory{
		strict: strict,
		jobs:   make(map[string]*memoryJob),
		nextID: 1,
	}
}

func (s *Memory) Close() {}

func (s *Memory) CreateJob(_ context.Context, jobType string, input map[string]any) (models.Job, error) {
	if input == nil {
		input = map[string]any{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job := models.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    models.StatusPending,
		InputData: input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.seq++
	s.jobs[job.ID] = &memoryJob{job: job, seq: s.seq}
	return job, nil
}

func (s *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return entry.job, nil
}

func (s *Memory) ListJobs(_ context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*memoryJob, 0, len(s.jobs))
	for _, e := range s.jobs {
		if status != "" && e.job.Status != status {
			continue
		}
		entries = append(entries, e)
	}
	// Newest-first; the insert sequence breaks created_at ties.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].job.CreatedAt.Equal(entries[j].job.CreatedAt) {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].job.CreatedAt.After(entries[j].job.CreatedAt)
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	jobs := make([]models.Job, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, e.job)
	}
	return jobs, nil
}

func (s *Memory) UpdateJob(_ context.Context, id string, p UpdateJobParams) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	if s.strict && models.IsTerminal(entry.job.Status) {
		return models.Job{}, ErrTerminalState
	}

	now := time.Now().UTC()
	job := &entry.job
	if p.Status != nil {
		job.Status = *p.Status
		if *p.Status == models.StatusRunning && job.StartedAt == nil {
			t := now
			job.StartedAt = &t
		}
		if models.IsTerminal(*p.Status) && job.CompletedAt == nil {
			t := now
			job.CompletedAt = &t
		}
	}
	if p.ResultData != nil {
		job.ResultData = p.ResultData
	}
	if p.Error != nil {
		job.Error = p.Error
	}
	job.UpdatedAt = now
	return *job, nil
}

func (s *Memory) ClaimJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	if entry.job.Status != models.StatusPending {
		return models.Job{}, ErrAlreadyClaimed
	}

	now := time.Now().UTC()
	entry.job.Status = models.StatusRunning
	if entry.job.StartedAt == nil {
		t := now
		entry.job.StartedAt = &t
	}
	entry.job.UpdatedAt = now
	return entry.job, nil
}

func (s *Memory) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *Memory) AppendWebhookLog(_ context.Context, jobID string, payload []byte, headers map[string][]string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(payload) == 0 {
		payload = []byte("null")
	}
	entry := models.WebhookLog{
		ID:         s.nextID,
		JobID:      jobID,
		Payload:    append([]byte(nil), payload...),
		Headers:    headers,
		ReceivedAt: time.Now().UTC(),
	}
	s.nextID++
	s.logs = append(s.logs, entry)
	return entry.ID, nil
}

func (s *Memory) MarkWebhookLogProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.logs {
		if s.logs[i].ID == id {
			s.logs[i].Processed = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *Memory) ListWebhookLogs(_ context.Context, limit int) ([]models.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.WebhookLog{}
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.logs[i])
	}
	return out, nil
}

func (s *Memory) WebhookLogsForJob(_ context.Context, jobID string) ([]models.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.WebhookLog{}
	for _, entry := range s.logs {
		if entry.JobID == jobID {
			out = append(out, entry)
		}
	}
	return out, nil
}
