package observer

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobrelay/internal/api"
	"jobrelay/internal/client"
	"jobrelay/internal/config"
	"jobrelay/internal/models"
	"jobrelay/internal/store"
)

func TestNextDelay(t *testing.T) {
	max := 10 * time.Second
	assert.Equal(t, 2*time.Second, nextDelay(time.Second, max))
	assert.Equal(t, 8*time.Second, nextDelay(4*time.Second, max))
	assert.Equal(t, max, nextDelay(8*time.Second, max))
	assert.Equal(t, max, nextDelay(max, max))
}

func newFixture(t *testing.T) (*Observer, *client.Client, *store.Memory) {
	t.Helper()
	st := store.NewMemory(false)
	srv := httptest.NewServer(api.New(config.Load(), st, nil, slog.Default()).Router())
	t.Cleanup(srv.Close)
	c := client.New(srv.URL)
	return New(c, slog.Default(), 5*time.Millisecond, 20*time.Millisecond), c, st
}

func TestStartJobCompletes(t *testing.T) {
	obs, _, st := newFixture(t)
	ctx := context.Background()

	completed := make(chan models.Job, 1)
	failed := make(chan models.Job, 1)
	errs := make(chan error, 1)

	job, watch, err := obs.StartJob(ctx, "demo", map[string]any{"x": 1}, Callbacks{
		OnCompleted: func(j models.Job) { completed <- j },
		OnFailed:    func(j models.Job) { failed <- j },
		OnError:     func(e error) { errs <- e },
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)

	// Play the worker's part directly against the store.
	_, err = st.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	status := models.StatusCompleted
	_, err = st.UpdateJob(ctx, job.ID, store.UpdateJobParams{
		Status:     &status,
		ResultData: map[string]any{"y": 2},
	})
	require.NoError(t, err)

	select {
	case got := <-completed:
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.Equal(t, map[string]any{"y": 2.0}, got.ResultData)
	case <-failed:
		t.Fatal("unexpected failure callback")
	case err := <-errs:
		t.Fatalf("unexpected error callback: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	select {
	case <-watch.Done():
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after terminal state")
	}
}

func TestWatchJobFailure(t *testing.T) {
	obs, c, st := newFixture(t)
	ctx := context.Background()

	job, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)

	failed := make(chan models.Job, 1)
	watch := obs.WatchJob(ctx, job.ID, Callbacks{
		OnFailed: func(j models.Job) { failed <- j },
	})

	status := models.StatusFailed
	msg := "bad input"
	_, err = st.UpdateJob(ctx, job.ID, store.UpdateJobParams{Status: &status, Error: &msg})
	require.NoError(t, err)

	select {
	case got := <-failed:
		require.NotNil(t, got.Error)
		assert.Equal(t, "bad input", *got.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure callback")
	}
	<-watch.Done()
}

func TestCancelStopsPolling(t *testing.T) {
	obs, c, _ := newFixture(t)
	ctx := context.Background()

	job, err := c.CreateJob(ctx, "demo", nil)
	require.NoError(t, err)

	fired := make(chan struct{}, 3)
	watch := obs.WatchJob(ctx, job.ID, Callbacks{
		OnCompleted: func(models.Job) { fired <- struct{}{} },
		OnFailed:    func(models.Job) { fired <- struct{}{} },
		OnError:     func(error) { fired <- struct{}{} },
	})

	watch.Cancel()
	select {
	case <-watch.Done():
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancel")
	}

	// No callback may fire after cancellation.
	select {
	case <-fired:
		t.Fatal("callback fired after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransportErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.NewServeMux())
	addr := srv.URL
	srv.Close()

	obs := New(client.New(addr), slog.Default(), 5*time.Millisecond, 20*time.Millisecond)

	errs := make(chan error, 1)
	watch := obs.WatchJob(context.Background(), "some-id", Callbacks{
		OnError: func(e error) { errs <- e },
	})

	select {
	case err := <-errs:
		assert.True(t, client.IsTransport(err))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport error")
	}
	<-watch.Done()
}

func TestWatchUnknownJobSurfacesError(t *testing.T) {
	obs, _, _ := newFixture(t)

	errs := make(chan error, 1)
	watch := obs.WatchJob(context.Background(), "ghost", Callbacks{
		OnError: func(e error) { errs <- e },
	})

	select {
	case err := <-errs:
		assert.True(t, client.IsNotFound(err))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
	<-watch.Done()
}
