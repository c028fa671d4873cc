package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hikma01/rankmath-capture-unified-sub000/config"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/adapters/dispatchrunner"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/adapters/reaper"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/adapters/webhookrunner"
)

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service
// fails; the first failure cancels every other service.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeHTTP] {
		startHTTPService(gctx, group, cfg, logger)
	}
	if enabled[config.ServiceModeDispatcher] {
		if err := startDispatcherService(gctx, group, cfg, logger); err != nil {
			return err
		}
	}
	if enabled[config.ServiceModeWebhook] {
		if err := startWebhookService(gctx, group, cfg, logger); err != nil {
			return err
		}
	}
	if enabled[config.ServiceModeReaper] {
		if err := startReaperService(gctx, group, cfg, logger); err != nil {
			return err
		}
	}

	if waitErr := group.Wait(); waitErr != nil {
		return waitErr
	}

	logger.Info("all services stopped")
	return nil
}

func startHTTPService(ctx context.Context, group *errgroup.Group, cfg *ServiceOrchestrationConfig, logger *slog.Logger) {
	server := NewHTTPServer(&HTTPServerConfig{
		Config:   cfg.Config,
		Services: cfg.Services,
		Logger:   logger,
	})

	group.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", serveErr)
		}
		return nil
	})

	// Stop the listener when the group context is cancelled, whether by
	// signal or by another service failing.
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()
		return ShutdownHTTPServer(shutdownCtx, server, logger)
	})
}

func startDispatcherService(ctx context.Context, group *errgroup.Group, cfg *ServiceOrchestrationConfig, logger *slog.Logger) error {
	runner, err := dispatchrunner.NewRunner(dispatchrunner.RunnerOptions{
		Dispatcher: cfg.Services.Dispatcher,
		Config:     cfg.Config.Dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create dispatch runner: %w", err)
	}

	group.Go(func() error { return runner.Run(ctx) })
	return nil
}

func startWebhookService(ctx context.Context, group *errgroup.Group, cfg *ServiceOrchestrationConfig, logger *slog.Logger) error {
	runner, err := webhookrunner.NewRunner(webhookrunner.RunnerOptions{
		Webhook: cfg.Services.Webhook,
		Config:  cfg.Config.Webhook,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create webhook runner: %w", err)
	}

	group.Go(func() error { return runner.Run(ctx) })
	return nil
}

func startReaperService(ctx context.Context, group *errgroup.Group, cfg *ServiceOrchestrationConfig, logger *slog.Logger) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		Dispatcher: cfg.Services.Dispatcher,
		Webhook:    cfg.Services.Webhook,
		Config:     cfg.Config.Reaper,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	group.Go(func() error { return runner.Run(ctx) })
	return nil
}
