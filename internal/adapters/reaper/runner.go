// Package reaper runs the periodic cleanup sweeps: requeueing stuck jobs,
// pruning old terminal jobs, and pruning exhausted webhook deliveries.
package reaper

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/hikma01/rankmath-capture-unified-sub000/config"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Dispatcher *service.DispatcherService
	Webhook    *service.WebhookService
	Config     config.ReaperConfig
	Logger     *slog.Logger
}

// Runner performs the cleanup sweeps at the configured interval. The sweeps
// themselves take per-sweep advisory locks, so running multiple reaper
// instances is safe, just wasteful.
type Runner struct {
	dispatcher *service.DispatcherService
	webhook    *service.WebhookService
	config     config.ReaperConfig
	logger     *slog.Logger
}

// NewRunner creates a reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("DispatcherService is required")
	}
	if opts.Webhook == nil {
		return nil, errors.New("WebhookService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dispatcher: opts.Dispatcher,
		webhook:    opts.Webhook,
		config:     opts.Config,
		logger:     logger.With("component", "reaper"),
	}, nil
}

// Run starts the cleanup loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper",
		"interval", r.config.Interval,
		"stuck_timeout", r.config.StuckTimeout,
		"jobs_max_age", r.config.JobsMaxAge,
		"deliveries_max_age", r.config.DeliveriesMaxAge,
	)

	// Jitter the first sweep so instances started together don't pile up on
	// the same advisory locks.
	r.waitWithJitter(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (r *Runner) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		r.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (r *Runner) sweep(ctx context.Context) {
	if _, err := r.dispatcher.Cleanup(ctx, service.CleanupParams{
		StuckTimeout: r.config.StuckTimeout,
		MaxAge:       r.config.JobsMaxAge,
		BatchSize:    r.config.BatchSize,
	}); err != nil {
		r.logSweepError(ctx, "job cleanup", err)
	}

	if _, err := r.webhook.Cleanup(ctx, r.config.DeliveriesMaxAge, r.config.BatchSize); err != nil {
		r.logSweepError(ctx, "delivery cleanup", err)
	}
}

func (r *Runner) logSweepError(ctx context.Context, label string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	r.logger.ErrorContext(ctx, label+" failed", "error", err)
}
