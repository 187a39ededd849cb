package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated        = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_jobs_created_total", Help: "Jobs created via the API"})
	JobsClaimed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_jobs_claimed_total", Help: "Successful pending->running claims"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_rate_limit_rejects_total", Help: "Job creations rejected by the rate limiter"})
	WebhookReceived    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_webhook_callbacks_total", Help: "Webhook callbacks received"})
	WebhookUnprocessed = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_webhook_unprocessed_total", Help: "Callbacks audited but not applied to a job"})
	WorkerPolls        = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_worker_polls_total", Help: "Successful worker poll cycles"})
	WorkerCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_worker_completed_total", Help: "Jobs executed successfully"})
	WorkerFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_worker_failed_total", Help: "Jobs whose execution failed"})
	WorkerBackoffs     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobrelay_worker_backoffs_total", Help: "Backoff sleeps after poll/report failures"})
	JobsInFlight       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobrelay_jobs_inflight", Help: "Jobs currently executing on this worker"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsClaimed,
			RateLimitRejects,
			WebhookReceived,
			WebhookUnprocessed,
			WorkerPolls,
			WorkerCompleted,
			WorkerFailed,
			WorkerBackoffs,
			JobsInFlight,
		)
	})
	return promhttp.Handler()
}
