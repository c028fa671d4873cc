// Package dispatchrunner runs the dispatcher's batch-processing loop.
package dispatchrunner

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
	Dispatcher *service.DispatcherService
	Config     config.DispatcherConfig
	Logger     *slog.Logger
}

// Runner ticks the dispatcher: batches of due jobs are processed at the
// configured interval and elapsed retry backoffs are promoted back to
// pending on their own cadence.
type Runner struct {
	dispatcher *service.DispatcherService
	config     config.DispatcherConfig
	logger     *slog.Logger
}

// NewRunner creates a dispatch runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("DispatcherService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dispatcher: opts.Dispatcher,
		config:     opts.Config,
		logger:     logger.With("component", "dispatch_runner"),
	}, nil
}

// Run starts the processing loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting dispatch runner",
		"interval", r.config.Interval,
		"retry_promote_interval", r.config.RetryPromoteInterval,
	)

	processTicker := time.NewTicker(r.config.Interval)
	defer processTicker.Stop()
	retryTicker := time.NewTicker(r.config.RetryPromoteInterval)
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "dispatch runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-processTicker.C:
			report, err := r.dispatcher.ProcessBatch(ctx)
			if err != nil {
				r.logTickError(ctx, "batch processing", err)
				continue
			}
			if report.Claimed > 0 {
				r.logger.InfoContext(ctx, "batch processed",
					"claimed", report.Claimed,
					"completed", report.Completed,
					"failed", report.Failed,
					"budget_exhausted", report.BudgetExhausted,
				)
			}

		case <-retryTicker.C:
			if _, err := r.dispatcher.RetryDue(ctx); err != nil {
				r.logTickError(ctx, "retry promotion", err)
			}
		}
	}
}

func (r *Runner) logTickError(ctx context.Context, label string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	r.logger.ErrorContext(ctx, label+" failed", "error", err)
}
