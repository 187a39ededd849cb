// Package observer implements the client-side watch protocol: submit a job,
// then poll for its terminal state with a doubling interval. Unlike the
// worker's error backoff, this backoff grows on absence of new information;
// transport errors stop the watch and are surfaced to the caller.
package observer

import (
	"context"
	"log/slog"
	"time"

	"jobrelay/internal/client"
	"jobrelay/internal/models"
)

// Callbacks receive the outcome of a watched job. Nil callbacks are skipped.
type Callbacks struct {
	// OnCompleted fires once when the job reaches completed.
	OnCompleted func(job models.Job)
	// OnFailed fires once when the job reaches failed.
	OnFailed func(job models.Job)
	// OnError fires once when a poll fails (transport error or the job
	// disappearing); the watch stops and the caller decides whether to
	// resubmit.
	OnError func(err error)
}

// Observer creates watches against one job API.
type Observer struct {
	api     *client.Client
	log     *slog.Logger
	initial time.Duration
	max     time.Duration
}

// New constructs an observer. Non-positive durations fall back to the
// defaults of 1s initial and 10s max.
func New(api *client.Client, log *slog.Logger, initial, max time.Duration) *Observer {
	if log == nil {
		log = slog.Default()
	}
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	return &Observer{api: api, log: log, initial: initial, max: max}
}

// Watch is a handle on one background polling loop.
type Watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the watch; no further polls are scheduled and the pending
// timer is released.
func (w *Watch) Cancel() { w.cancel() }

// Done is closed once the watch has fully stopped, whether by terminal
// state, error, or cancellation.
func (w *Watch) Done() <-chan struct{} { return w.done }

// StartJob submits a job and immediately begins watching it. The returned
// job is the freshly created pending record.
func (o *Observer) StartJob(ctx context.Context, jobType string, input map[string]any, cb Callbacks) (models.Job, *Watch, error) {
	job, err := o.api.CreateJob(ctx, jobType, input)
	if err != nil {
		return models.Job{}, nil, err
	}
	return job, o.WatchJob(ctx, job.ID, cb), nil
}

// WatchJob begins background polling for an existing job's terminal state.
func (o *Observer) WatchJob(ctx context.Context, jobID string, cb Callbacks) *Watch {
	wctx, cancel := context.WithCancel(ctx)
	w := &Watch{cancel: cancel, done: make(chan struct{})}
	go o.poll(wctx, jobID, cb, w)
	return w
}

func (o *Observer) poll(ctx context.Context, jobID string, cb Callbacks, w *Watch) {
	defer close(w.done)
	defer w.cancel()

	delay := o.initial
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		job, err := o.api.GetJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Warn("watch stopped on poll error", "job_id", jobID, "err", err)
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return
		}

		switch job.Status {
		case models.StatusCompleted:
			if cb.OnCompleted != nil {
				cb.OnCompleted(job)
			}
			return
		case models.StatusFailed:
			if cb.OnFailed != nil {
				cb.OnFailed(job)
			}
			return
		}

		// Still pending or running; wait longer before asking again.
		delay = nextDelay(delay, o.max)
		timer.Reset(delay)
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
