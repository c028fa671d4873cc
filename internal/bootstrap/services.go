package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikma01/rankmath-capture-unified-sub000/config"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/automation"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/data"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/job"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/notify/slack"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/statsd"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Dispatcher    *service.DispatcherService
	Webhook       *service.WebhookService
	Hub           *core.Hub
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB           *sql.DB
	Redis        redis.UniversalClient
	JobRepo      *data.JobRepo
	DeliveryRepo *data.DeliveryRepo
	CaptureRepo  *data.CaptureRepo
	SubjectRepo  *data.SubjectRepo
	CacheRepo    *data.RedisCacheRepo
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "optimizer",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	failureNotifier := buildFailureNotifier(obsLogger, cfg.Notifications)

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: failureNotifier,
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 1)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(deps *ServiceDeps, retry *job.RetryPolicy) *serviceRepositories {
	repoCfg := data.RepoConfig{
		Retry:  retry,
		Logger: deps.Logger,
	}

	repos := &serviceRepositories{
		DB:           deps.DB,
		Redis:        deps.RedisClient,
		JobRepo:      data.NewJobRepo(deps.DB, repoCfg),
		DeliveryRepo: data.NewDeliveryRepo(deps.DB, repoCfg),
		CaptureRepo:  data.NewCaptureRepo(deps.DB, repoCfg),
		SubjectRepo:  data.NewSubjectRepo(deps.DB),
	}
	if deps.RedisClient != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(deps.RedisClient)
	}
	return repos
}

func newDispatcherService(deps *ServiceDeps, repos *serviceRepositories, observability ObservabilityContainer) (*service.DispatcherService, error) {
	cfg := deps.Config

	client, err := automation.NewClient(automation.Config{
		EndpointURL: cfg.Automation.EndpointURL,
		BearerToken: cfg.Automation.BearerToken,
		SiteURL:     cfg.Automation.SiteURL,
		Timeout:     cfg.Automation.Timeout,
		Logger:      deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create automation client: %w", err)
	}

	opts := service.DispatcherOptions{
		Jobs:            repos.JobRepo,
		Automation:      client,
		Subjects:        repos.SubjectRepo,
		FailureNotifier: observability.FailureNotifier,
		Metrics:         observability.MetricsSink,
		Logger:          deps.Logger,
		System: model.SystemMetadata{
			SiteURL:  cfg.Automation.SiteURL,
			SiteName: cfg.Automation.SiteName,
		},
		BatchSize:     cfg.Dispatcher.BatchSize,
		TimeBudget:    cfg.Dispatcher.TimeBudget,
		InterJobPause: cfg.Dispatcher.InterJobPause,
		ResultTTL:     cfg.Dispatcher.ResultTTL,
	}
	if repos.CacheRepo != nil {
		opts.Cache = repos.CacheRepo
	}

	dispatcher, err := service.NewDispatcherService(opts)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher service: %w", err)
	}
	return dispatcher, nil
}

func newWebhookService(deps *ServiceDeps, repos *serviceRepositories, observability ObservabilityContainer) (*service.WebhookService, error) {
	cfg := deps.Config

	backoff, err := job.NewDeliveryBackoff(cfg.Webhook.BaseInterval, cfg.Webhook.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("create delivery backoff: %w", err)
	}

	webhook, err := service.NewWebhookService(service.WebhookOptions{
		Queue:             repos.DeliveryRepo,
		Captures:          repos.CaptureRepo,
		Subjects:          repos.SubjectRepo,
		Backoff:           backoff,
		Metrics:           observability.MetricsSink,
		Logger:            deps.Logger,
		DestinationURL:    cfg.Webhook.DestinationURL,
		SecretToken:       cfg.Webhook.SecretToken,
		FilterExpression:  cfg.Webhook.FilterExpression,
		System: model.SystemMetadata{
			SiteURL:  cfg.Automation.SiteURL,
			SiteName: cfg.Automation.SiteName,
		},
		ImmediateAttempts: cfg.Webhook.ImmediateAttempts,
		QueueBatchSize:    cfg.Webhook.QueueBatchSize,
		Client:            &http.Client{Timeout: cfg.Webhook.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook service: %w", err)
	}
	return webhook, nil
}

// wireEventHandlers registers the content lifecycle reactions on the hub:
// subject saves dispatch optimization jobs, subject deletions cancel them,
// and capture writes trigger webhook notifications.
func wireEventHandlers(container *ServiceContainer, cfg *config.AppConfig, logger *slog.Logger) {
	hub := container.Hub
	dispatcher := container.Dispatcher
	webhook := container.Webhook
	defaultPriority := cfg.Dispatcher.DefaultPriority

	hub.OnSubjectSaved(func(ctx context.Context, ev core.SubjectSavedEvent) error {
		if !ev.ShouldOptimize {
			return nil
		}
		priority := ev.Priority
		if priority == "" {
			priority = defaultPriority
		}
		_, err := dispatcher.Dispatch(ctx, &model.CreateJobRequest{
			SubjectID: ev.SubjectID,
			Priority:  priority,
			Payload:   ev.Payload,
		})
		if errors.Is(err, model.ErrAlreadyQueued) {
			logger.DebugContext(ctx, "subject already queued", "subject_id", ev.SubjectID)
			return nil
		}
		return err
	})

	hub.OnSubjectDeleted(func(ctx context.Context, ev core.SubjectDeletedEvent) error {
		cancelled, err := dispatcher.CancelForSubject(ctx, ev.SubjectID)
		if err != nil {
			return err
		}
		if cancelled > 0 {
			logger.InfoContext(ctx, "cancelled jobs for deleted subject",
				"subject_id", ev.SubjectID, "cancelled", cancelled)
		}
		return nil
	})

	sendCapture := func(ctx context.Context, captureID int64) error {
		_, err := webhook.Send(ctx, captureID)
		return err
	}
	hub.OnCaptureCreated(func(ctx context.Context, ev core.CaptureCreatedEvent) error {
		return sendCapture(ctx, ev.CaptureID)
	})
	hub.OnCaptureUpdated(func(ctx context.Context, ev core.CaptureUpdatedEvent) error {
		return sendCapture(ctx, ev.CaptureID)
	})
}

// NewServices wires repositories, observability, and domain services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Logger = logger

	retry, err := job.NewRetryPolicy(deps.Config.Dispatcher.RetryDelay, deps.Config.Dispatcher.MaxAttempts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create retry policy: %w", err)
	}

	observability := buildObservability(logger, deps.Config.Observability)
	repos := buildRepositories(deps, retry)

	dispatcher, err := newDispatcherService(deps, repos, observability)
	if err != nil {
		return ServiceContainer{}, err
	}
	webhook, err := newWebhookService(deps, repos, observability)
	if err != nil {
		return ServiceContainer{}, err
	}

	container := ServiceContainer{
		Dispatcher:    dispatcher,
		Webhook:       webhook,
		Hub:           core.NewHub(logger),
		Observability: observability,
	}
	wireEventHandlers(&container, deps.Config, logger)

	return container, nil
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second
