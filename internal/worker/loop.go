// Package worker implements the single-worker polling loop: poll for
// pending jobs, claim the oldest, execute it through a tool executor, and
// report the outcome through the webhook receiver.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobrelay/internal/client"
	"jobrelay/internal/config"
	"jobrelay/internal/models"
	"jobrelay/internal/telemetry"
)

// Loop drives the worker. It never crashes on transient I/O failures;
// poll and report errors enter exponential backoff instead.
type Loop struct {
	cfg         config.Config
	api         *client.Client
	log         *slog.Logger
	executors   map[string]Executor
	defaultExec Executor
}

// NewLoop constructs a worker loop against the given API client.
func NewLoop(cfg config.Config, api *client.Client, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		cfg:         cfg,
		api:         api,
		log:         log,
		executors:   make(map[string]Executor),
		defaultExec: EchoExecutor(),
	}
}

// RegisterExecutor binds an executor to a job type.
func (l *Loop) RegisterExecutor(jobType string, exec Executor) {
	if jobType == "" || exec == nil {
		return
	}
	l.executors[jobType] = exec
}

// SetDefaultExecutor replaces the executor used for unregistered job types.
func (l *Loop) SetDefaultExecutor(exec Executor) {
	if exec != nil {
		l.defaultExec = exec
	}
}

// Run polls until context cancellation. Backoff state lives in locals so
// independent loops never interfere.
func (l *Loop) Run(ctx context.Context) error {
	consecutiveErrors := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		jobs, err := l.api.ListJobs(ctx, models.StatusPending, l.cfg.PollLimit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutiveErrors++
			l.backoff(ctx, consecutiveErrors, "poll", err)
			continue
		}
		consecutiveErrors = 0
		telemetry.WorkerPolls.Inc()

		if len(jobs) == 0 {
			if err := sleepCtx(ctx, l.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		// The list is newest-first; take the oldest of the page.
		job := jobs[len(jobs)-1]

		claimed, err := l.api.ClaimJob(ctx, job.ID)
		if err != nil {
			switch {
			case client.IsConflict(err):
				l.log.Debug("job already claimed, skipping", "job_id", job.ID)
				continue
			case client.IsNotFound(err):
				l.log.Debug("job vanished before claim", "job_id", job.ID)
				continue
			default:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				consecutiveErrors++
				l.backoff(ctx, consecutiveErrors, "claim", err)
				continue
			}
		}

		l.log.Info("processing job", "job_id", claimed.ID, "type", claimed.Type)
		telemetry.JobsInFlight.Inc()
		result, execErr := l.execute(ctx, claimed)
		telemetry.JobsInFlight.Dec()

		cb := client.Callback{JobID: claimed.ID}
		if execErr != nil {
			cb.Status = models.StatusFailed
			cb.Error = execErr.Error()
			telemetry.WorkerFailed.Inc()
			l.log.Error("job failed", "job_id", claimed.ID, "err", execErr)
		} else {
			cb.Status = models.StatusCompleted
			cb.ResultData = result
			telemetry.WorkerCompleted.Inc()
			l.log.Info("job completed", "job_id", claimed.ID)
		}

		if err := l.api.ReportCallback(ctx, cb); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutiveErrors++
			l.backoff(ctx, consecutiveErrors, "report", err)
			continue
		}
		consecutiveErrors = 0
	}
}

func (l *Loop) execute(ctx context.Context, job models.Job) (any, error) {
	exec, ok := l.executors[job.Type]
	if !ok {
		exec = l.defaultExec
	}
	if exec == nil {
		return nil, fmt.Errorf("no executor registered for type %q", job.Type)
	}

	execCtx, cancel := context.WithTimeout(ctx, l.cfg.ExecTimeout)
	defer cancel()
	return exec.Execute(execCtx, job.InputData)
}

func (l *Loop) backoff(ctx context.Context, consecutiveErrors int, op string, err error) {
	wait := backoffDelay(l.cfg.BackoffBase, l.cfg.BackoffMax, consecutiveErrors)
	telemetry.WorkerBackoffs.Inc()
	l.log.Warn("backing off", "op", op, "err", err, "consecutive_errors", consecutiveErrors, "wait", wait)
	_ = sleepCtx(ctx, wait)
}

// backoffDelay returns the exponential backoff for the nth consecutive
// failure: base for n=1, doubling each failure, capped at max.
func backoffDelay(base, max time.Duration, n int) time.Duration {
	if n <= 1 {
		return base
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
