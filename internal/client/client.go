// Package client is the typed HTTP client for the job API, shared by the
// worker loop, the observer, and jobctl.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobrelay/internal/models"
)

// APIError is a non-2xx response from the job API, carrying the
// machine-readable kind from the error body.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Kind, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the API (claim lost, or a
// strict-mode terminal rejection).
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// IsTransport reports whether err never produced an API response: the
// request failed at the network layer. Callers back off on these; API
// errors are surfaced instead.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

// Client talks to one job API endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL. Trailing slashes are trimmed.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateJob submits a new job; the response is the job in status pending.
func (c *Client) CreateJob(ctx context.Context, jobType string, input map[string]any) (models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodPost, "/jobs", map[string]any{
		"type":       jobType,
		"input_data": input,
	}, &job)
	return job, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job)
	return job, err
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string, limit int) ([]models.Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Jobs []models.Job `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Jobs, err
}

// UpdateRequest is the partial applied by UpdateJob.
type UpdateRequest struct {
	Status     string `json:"status,omitempty"`
	ResultData any    `json:"result_data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UpdateJob applies a manual partial update.
func (c *Client) UpdateJob(ctx context.Context, id string, req UpdateRequest) (models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodPut, "/jobs/"+url.PathEscape(id), req, &job)
	return job, err
}

// DeleteJob removes a job.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), nil, nil)
}

// ClaimJob attempts the atomic pending->running claim. A lost race comes
// back as a 409 APIError; use IsConflict to treat it as "skip".
func (c *Client) ClaimJob(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/claim", nil, &job)
	return job, err
}

// Callback is the worker's completion report.
type Callback struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	ResultData any    `json:"result_data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReportCallback posts a status transition to the webhook receiver.
func (c *Client) ReportCallback(ctx context.Context, cb Callback) error {
	return c.do(ctx, http.MethodPost, "/webhook/callback", cb, nil)
}

// WebhookLogs returns the most recent audit rows.
func (c *Client) WebhookLogs(ctx context.Context, limit int) ([]models.WebhookLog, error) {
	path := "/webhook/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Logs []models.WebhookLog `json:"logs"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Logs, err
}

// WebhookLogsForJob returns the audit rows referencing a job.
func (c *Client) WebhookLogsForJob(ctx context.Context, jobID string) ([]models.WebhookLog, error) {
	var resp struct {
		Logs []models.WebhookLog `json:"logs"`
	}
	err := c.do(ctx, http.MethodGet, "/webhook/logs/"+url.PathEscape(jobID), nil, &resp)
	return resp.Logs, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&eb); decodeErr == nil {
			apiErr.Kind = eb.Error
			apiErr.Message = eb.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
