package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobrelay/internal/client"
	"jobrelay/internal/config"
	"jobrelay/internal/models"
	"jobrelay/internal/store"
)

func newTestServer(t *testing.T, strict bool) (*client.Client, *store.Memory) {
	t.Helper()
	st := store.NewMemory(strict)
	srv := httptest.NewServer(New(config.Load(), st, nil, slog.Default()).Router())
	t.Cleanup(srv.Close)
	return client.New(srv.URL), st
}

func TestJobLifecycleCompleted(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	job, err := c.CreateJob(ctx, "demo", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Nil(t, job.ResultData)
	assert.Nil(t, job.Error)

	claimed, err := c.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	err = c.ReportCallback(ctx, client.Callback{
		JobID:      job.ID,
		Status:     models.StatusCompleted,
		ResultData: map[string]any{"y": 2},
	})
	require.NoError(t, err)

	got, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, map[string]any{"y": 2.0}, got.ResultData)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, claimed.StartedAt.Unix(), got.StartedAt.Unix())

	logs, err := c.WebhookLogsForJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Processed)
}

func TestJobLifecycleFailed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	job, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)
	_, err = c.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	err = c.ReportCallback(ctx, client.Callback{
		JobID:  job.ID,
		Status: models.StatusFailed,
		Error:  "bad input",
	})
	require.NoError(t, err)

	got, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Nil(t, got.ResultData)
	require.NotNil(t, got.Error)
	assert.Equal(t, "bad input", *got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestDuplicateTerminalCallbacksLastWriteWins(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	job, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)
	_, err = c.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, c.ReportCallback(ctx, client.Callback{
		JobID: job.ID, Status: models.StatusCompleted, ResultData: map[string]any{"v": 1},
	}))
	first, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, c.ReportCallback(ctx, client.Callback{
		JobID: job.ID, Status: models.StatusCompleted, ResultData: map[string]any{"v": 2},
	}))
	second, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"v": 2.0}, second.ResultData)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
	assert.Equal(t, models.StatusCompleted, second.Status)

	logs, err := c.WebhookLogsForJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Processed)
	assert.True(t, logs[1].Processed)
}

func TestStrictTerminalRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, true)

	job, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)
	_, err = c.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, c.ReportCallback(ctx, client.Callback{
		JobID: job.ID, Status: models.StatusCompleted, ResultData: map[string]any{"v": 1},
	}))

	err = c.ReportCallback(ctx, client.Callback{
		JobID: job.ID, Status: models.StatusCompleted, ResultData: map[string]any{"v": 2},
	})
	require.Error(t, err)
	assert.True(t, client.IsConflict(err))

	got, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": 1.0}, got.ResultData)

	// The rejected callback is still audited, just never processed.
	logs, err := c.WebhookLogsForJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Processed)
	assert.False(t, logs[1].Processed)
}

func TestWebhookUnknownJobStillAudited(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	err := c.ReportCallback(ctx, client.Callback{
		JobID: "ghost", Status: models.StatusCompleted,
	})
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))

	logs, err := c.WebhookLogsForJob(ctx, "ghost")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Processed)
}

func TestWebhookValidation(t *testing.T) {
	st := store.NewMemory(false)
	srv := httptest.NewServer(New(config.Load(), st, nil, slog.Default()).Router())
	defer srv.Close()

	// Malformed JSON is a 400 but still leaves an audit row.
	resp, err := http.Post(srv.URL+"/webhook/callback", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing job_id.
	resp, err = http.Post(srv.URL+"/webhook/callback", "application/json", strings.NewReader(`{"status":"completed"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A status outside the lifecycle.
	resp, err = http.Post(srv.URL+"/webhook/callback", "application/json", strings.NewReader(`{"job_id":"x","status":"paused"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	logs, err := st.ListWebhookLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
	for _, entry := range logs {
		assert.False(t, entry.Processed)
	}
}

func TestGetUnknownJob(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	_, err := c.GetJob(ctx, "unknown-id")
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))

	// Unlike an unknown-job webhook, a plain read leaves no audit trace.
	logs, err := c.WebhookLogs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestCreateJobValidation(t *testing.T) {
	c, _ := newTestServer(t, false)

	_, err := c.CreateJob(context.Background(), "", nil)
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "validation_error", apiErr.Kind)
}

func TestClaimConflict(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	job, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)

	_, err = c.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	_, err = c.ClaimJob(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, client.IsConflict(err))
}

func TestListJobsFilter(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	a, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)
	b, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)
	_, err = c.ClaimJob(ctx, a.ID)
	require.NoError(t, err)

	pending, err := c.ListJobs(ctx, models.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	_, err = c.ListJobs(ctx, "bogus", 0)
	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "validation_error", apiErr.Kind)
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	job, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)

	require.NoError(t, c.DeleteJob(ctx, job.ID))
	_, err = c.GetJob(ctx, job.ID)
	assert.True(t, client.IsNotFound(err))
	assert.True(t, client.IsNotFound(c.DeleteJob(ctx, job.ID)))
}

func TestManualUpdate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestServer(t, false)

	job, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)

	// Operator recovery path: force an orphaned job back to failed.
	got, err := c.UpdateJob(ctx, job.ID, client.UpdateRequest{
		Status: models.StatusFailed,
		Error:  "worker lost",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
}
