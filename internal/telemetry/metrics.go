package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EventsEmitted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_events_emitted_total", Help: "Events persisted by producers"})
	EventsClaimed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_events_claimed_total", Help: "Events claimed by workers"})
	EventsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_events_succeeded_total", Help: "Events processed successfully"})
	EventsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_events_retried_total", Help: "Events rescheduled with backoff after a failure"})
	EventsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_events_failed_total", Help: "Events terminally failed after max attempts"})

	WorkflowRunsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_workflow_runs_succeeded_total", Help: "Workflow runs completed successfully"})
	WorkflowRunsSkipped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_workflow_runs_skipped_total", Help: "Workflow runs skipped on failed conditions"})
	WorkflowRunsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_workflow_runs_failed_total", Help: "Workflow runs aborted by an action error"})

	WebhookDeliveries = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_webhook_deliveries_total", Help: "Webhook deliveries accepted by subscribers"})
	WebhookFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_webhook_failures_total", Help: "Webhook deliveries rejected or errored"})

	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "automation_rate_limit_rejects_total", Help: "Emit requests rejected by the rate limiter"})
	PendingDepth     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "automation_events_pending", Help: "Events pending and due for processing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EventsEmitted,
			EventsClaimed,
			EventsSucceeded,
			EventsRetried,
			EventsDeadLettered,
			WorkflowRunsSucceeded,
			WorkflowRunsSkipped,
			WorkflowRunsFailed,
			WebhookDeliveries,
			WebhookFailures,
			RateLimitRejects,
			PendingDepth,
		)
	})
	return promhttp.Handler()
}
