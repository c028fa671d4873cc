package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the management API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeDispatcher runs the job dispatch and batch-processing worker.
	ServiceModeDispatcher ServiceMode = "dispatcher"
	// ServiceModeWebhook runs the delayed webhook delivery worker.
	ServiceModeWebhook ServiceMode = "webhook"
	// ServiceModeReaper runs the cleanup sweeps.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeDispatcher,
		ServiceModeWebhook,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. All names must be valid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeDispatcher, ServiceModeWebhook, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, dispatcher, webhook, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DispatcherConfig contains dispatcher worker configuration.
type DispatcherConfig struct {
	// Interval is the batch-processing tick interval.
	Interval time.Duration `env:"DISPATCHER_INTERVAL" envDefault:"30s"`

	// BatchSize is the number of jobs to claim per batch.
	BatchSize int `env:"DISPATCHER_BATCH_SIZE" envDefault:"5"`

	// TimeBudget bounds one batch run; jobs not reached go back to the queue.
	TimeBudget time.Duration `env:"DISPATCHER_TIME_BUDGET" envDefault:"25s"`

	// InterJobPause is the idle gap between jobs within one batch.
	InterJobPause time.Duration `env:"DISPATCHER_INTER_JOB_PAUSE" envDefault:"2s"`

	// RetryDelay is the linear backoff unit: a job that has failed n times
	// waits RetryDelay * n before its next attempt.
	RetryDelay time.Duration `env:"DISPATCHER_RETRY_DELAY" envDefault:"5m"`

	// MaxAttempts is the attempt ceiling before a job fails terminally.
	MaxAttempts int `env:"DISPATCHER_MAX_ATTEMPTS" envDefault:"3"`

	// RetryPromoteInterval is how often retry jobs with an elapsed backoff are
	// promoted back to pending.
	RetryPromoteInterval time.Duration `env:"DISPATCHER_RETRY_PROMOTE_INTERVAL" envDefault:"1m"`

	// DefaultPriority is assigned to jobs dispatched without one.
	DefaultPriority model.JobPriority `env:"DISPATCHER_DEFAULT_PRIORITY" envDefault:"normal"`

	// ResultTTL bounds how long completed results stay in the cache.
	ResultTTL time.Duration `env:"DISPATCHER_RESULT_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to dispatcher configuration values.
func (d *DispatcherConfig) Sanitize() {
	if d.Interval < time.Second {
		d.Interval = time.Second
	}
	if d.BatchSize < 1 {
		d.BatchSize = 1
	}
	if d.TimeBudget <= 0 {
		d.TimeBudget = 25 * time.Second
	}
	if d.RetryDelay <= 0 {
		d.RetryDelay = 5 * time.Minute
	}
	if d.MaxAttempts < 1 {
		d.MaxAttempts = 1
	}
	if d.RetryPromoteInterval < time.Second {
		d.RetryPromoteInterval = time.Second
	}
	if !d.DefaultPriority.Valid() {
		d.DefaultPriority = model.JobPriorityNormal
	}
	if d.ResultTTL <= 0 {
		d.ResultTTL = 24 * time.Hour
	}
}

// WebhookConfig contains webhook delivery configuration.
type WebhookConfig struct {
	// DestinationURL is where capture notifications are posted. Empty disables
	// outbound notifications entirely.
	DestinationURL string `env:"WEBHOOK_DESTINATION_URL"`

	// SecretToken is attached as X-Webhook-Token on every send.
	SecretToken string `env:"WEBHOOK_SECRET_TOKEN"`

	// FilterExpression is a JMESPath expression evaluated against each
	// payload; a falsy result suppresses the send.
	FilterExpression string `env:"WEBHOOK_FILTER_EXPRESSION"`

	// ImmediateAttempts caps in-call attempts before queueing.
	ImmediateAttempts int `env:"WEBHOOK_IMMEDIATE_ATTEMPTS" envDefault:"3"`

	// BaseInterval is the exponential backoff unit for queued deliveries:
	// a row with n attempts waits 2^n * BaseInterval.
	BaseInterval time.Duration `env:"WEBHOOK_BASE_INTERVAL" envDefault:"1m"`

	// MaxAttempts is the attempt ceiling before a queued delivery fails
	// terminally.
	MaxAttempts int `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"10"`

	// QueueInterval is the delayed-delivery tick interval.
	QueueInterval time.Duration `env:"WEBHOOK_QUEUE_INTERVAL" envDefault:"1m"`

	// QueueBatchSize caps how many due items one tick handles.
	QueueBatchSize int `env:"WEBHOOK_QUEUE_BATCH_SIZE" envDefault:"20"`

	// Timeout bounds one HTTP delivery attempt.
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	w.DestinationURL = strings.TrimSpace(w.DestinationURL)
	w.SecretToken = strings.TrimSpace(w.SecretToken)
	w.FilterExpression = strings.TrimSpace(w.FilterExpression)
	if w.ImmediateAttempts < 1 {
		w.ImmediateAttempts = 1
	}
	if w.BaseInterval <= 0 {
		w.BaseInterval = time.Minute
	}
	if w.MaxAttempts < 1 {
		w.MaxAttempts = 1
	}
	if w.QueueInterval < time.Second {
		w.QueueInterval = time.Second
	}
	if w.QueueBatchSize < 1 {
		w.QueueBatchSize = 1
	}
	if w.Timeout <= 0 {
		w.Timeout = 30 * time.Second
	}
}

// ReaperConfig contains cleanup sweep configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// StuckTimeout is how long a job may sit in processing before the reaper
	// assumes its worker died and requeues it.
	StuckTimeout time.Duration `env:"REAPER_STUCK_TIMEOUT" envDefault:"1h"`

	// JobsMaxAge is the maximum age for terminal jobs before deletion.
	JobsMaxAge time.Duration `env:"REAPER_JOBS_MAX_AGE" envDefault:"720h"` // 30 days

	// DeliveriesMaxAge is the maximum age for terminally failed webhook
	// deliveries before deletion.
	DeliveriesMaxAge time.Duration `env:"REAPER_DELIVERIES_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.StuckTimeout < 5*time.Minute {
		r.StuckTimeout = 5 * time.Minute
	}
	if r.JobsMaxAge < 1*time.Hour {
		r.JobsMaxAge = 1 * time.Hour
	}
	if r.DeliveriesMaxAge < 1*time.Hour {
		r.DeliveriesMaxAge = 1 * time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// AutomationConfig contains the external workflow-automation backend
// configuration.
type AutomationConfig struct {
	// EndpointURL is the workflow trigger URL optimization jobs are posted to.
	EndpointURL string `env:"AUTOMATION_ENDPOINT_URL"`

	// BearerToken authenticates requests to the automation endpoint.
	BearerToken string `env:"AUTOMATION_BEARER_TOKEN"`

	// Timeout bounds one optimization round trip.
	Timeout time.Duration `env:"AUTOMATION_TIMEOUT" envDefault:"2m"`

	// SiteURL identifies this installation to the automation backend.
	SiteURL string `env:"SITE_URL"`

	// SiteName is the human-readable installation name stamped onto payloads.
	SiteName string `env:"SITE_NAME"`
}

// Sanitize applies guardrails to automation configuration values.
func (a *AutomationConfig) Sanitize() {
	a.EndpointURL = strings.TrimSpace(a.EndpointURL)
	a.BearerToken = strings.TrimSpace(a.BearerToken)
	a.SiteURL = strings.TrimSpace(a.SiteURL)
	a.SiteName = strings.TrimSpace(a.SiteName)
	if a.Timeout <= 0 {
		a.Timeout = 2 * time.Minute
	}
}
