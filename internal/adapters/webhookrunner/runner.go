// Package webhookrunner runs the delayed webhook delivery loop.
package webhookrunner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hikma01/rankmath-capture-unified-sub000/config"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Webhook *service.WebhookService
	Config  config.WebhookConfig
	Logger  *slog.Logger
}

// Runner ticks the delivery queue: due items are retried at the configured
// interval until delivered or exhausted.
type Runner struct {
	webhook *service.WebhookService
	config  config.WebhookConfig
	logger  *slog.Logger
}

// NewRunner creates a webhook runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Webhook == nil {
		return nil, errors.New("WebhookService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		webhook: opts.Webhook,
		config:  opts.Config,
		logger:  logger.With("component", "webhook_runner"),
	}, nil
}

// Run starts the delivery loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting webhook runner", "interval", r.config.QueueInterval)

	ticker := time.NewTicker(r.config.QueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "webhook runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			report, err := r.webhook.ProcessQueue(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				r.logger.ErrorContext(ctx, "queue processing failed", "error", err)
				continue
			}
			if report.Due > 0 {
				r.logger.InfoContext(ctx, "delivery queue processed",
					"due", report.Due,
					"delivered", report.Delivered,
					"rescheduled", report.Rescheduled,
					"exhausted", report.Exhausted,
				)
			}
		}
	}
}
