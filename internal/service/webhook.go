package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/job"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/metrics"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/statsd"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

const (
	defaultImmediateAttempts = 3
	defaultQueueBatchSize    = 20
	captureEventName         = "capture.created"
)

// WebhookOptions groups dependencies for WebhookService.
type WebhookOptions struct {
	Queue    core.DeliveryQueueRepository // Required: persisted retry queue
	Captures core.CaptureRepository       // Required: capture lookup and delivery metadata
	Subjects core.SubjectRepository       // Optional: subject enrichment for payloads
	Backoff  *job.DeliveryBackoff         // Required: delayed-retry schedule
	Metrics  statsd.Sink                  // Optional: delivery metrics
	Logger   *slog.Logger                 // Optional: structured logger

	// DestinationURL is where capture notifications are posted.
	DestinationURL string
	// SecretToken is attached as X-Webhook-Token when set.
	SecretToken string
	// FilterExpression is a JMESPath expression evaluated against the payload;
	// a falsy result suppresses the send entirely.
	FilterExpression string

	// System identifies this installation; included in every payload and in
	// the identifying request headers.
	System model.SystemMetadata

	// ImmediateAttempts caps the in-call attempts before a transient failure
	// is queued for delayed redelivery.
	ImmediateAttempts int
	// QueueBatchSize caps how many due items one ProcessQueue call handles.
	QueueBatchSize int

	Client    *http.Client
	Evaluator JMESPathEvaluator
	// WaitFn replaces the inter-attempt sleep; tests inject a no-op.
	WaitFn func(ctx context.Context, d time.Duration) error
}

// WebhookService delivers capture notifications to the configured destination.
// Immediate sends retry in-call with short exponential pauses; transient
// failures that survive those attempts are persisted and retried on a slower
// exponential schedule by ProcessQueue. 4xx responses are never retried.
type WebhookService struct {
	queue    core.DeliveryQueueRepository
	captures core.CaptureRepository
	subjects core.SubjectRepository
	backoff  *job.DeliveryBackoff
	metrics  statsd.Sink
	logger   *slog.Logger

	destinationURL   string
	secretToken      string
	filterExpression string
	system           model.SystemMetadata

	immediateAttempts int
	queueBatchSize    int

	client    *http.Client
	evaluator JMESPathEvaluator
	wait      func(ctx context.Context, d time.Duration) error
}

// NewWebhookService validates the options and builds a WebhookService.
func NewWebhookService(opts WebhookOptions) (*WebhookService, error) {
	if opts.Queue == nil {
		return nil, errors.New("DeliveryQueueRepository is required")
	}
	if opts.Captures == nil {
		return nil, errors.New("CaptureRepository is required")
	}
	if opts.Backoff == nil {
		return nil, errors.New("DeliveryBackoff is required")
	}

	evaluator := opts.Evaluator
	if evaluator == nil {
		evaluator = jmespathLibEvaluator{}
	}
	if err := evaluator.Validate(opts.FilterExpression); err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	wait := opts.WaitFn
	if wait == nil {
		wait = sleepContext
	}

	immediateAttempts := opts.ImmediateAttempts
	if immediateAttempts <= 0 {
		immediateAttempts = defaultImmediateAttempts
	}
	queueBatchSize := opts.QueueBatchSize
	if queueBatchSize <= 0 {
		queueBatchSize = defaultQueueBatchSize
	}

	return &WebhookService{
		queue:             opts.Queue,
		captures:          opts.Captures,
		subjects:          opts.Subjects,
		backoff:           opts.Backoff,
		metrics:           opts.Metrics,
		logger:            logger.With("component", "webhook"),
		destinationURL:    strings.TrimSpace(opts.DestinationURL),
		secretToken:       strings.TrimSpace(opts.SecretToken),
		filterExpression:  strings.TrimSpace(opts.FilterExpression),
		system:            opts.System,
		immediateAttempts: immediateAttempts,
		queueBatchSize:    queueBatchSize,
		client:            client,
		evaluator:         evaluator,
		wait:              wait,
	}, nil
}

// MustNewWebhookService constructs a WebhookService and panics on error.
func MustNewWebhookService(opts WebhookOptions) *WebhookService {
	svc, err := NewWebhookService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create WebhookService: %v", err))
	}
	return svc
}

// capturePayload is the versioned wire shape posted to the destination.
type capturePayload struct {
	Version int                  `json:"version"`
	Event   string               `json:"event"`
	Capture *model.Capture       `json:"capture"`
	Subject *core.SubjectInfo    `json:"subject,omitempty"`
	System  model.SystemMetadata `json:"system"`
	SentAt  time.Time            `json:"sent_at"`
}

// Send notifies the destination about a capture. On 2xx the capture's
// delivery metadata is stamped; a 4xx records a permanent failure with no
// retry; transient failures after the immediate attempts are queued for
// delayed redelivery.
func (s *WebhookService) Send(ctx context.Context, captureID int64) (*model.SendResult, error) {
	if s.destinationURL == "" {
		return &model.SendResult{Outcome: model.SendOutcomeSkipped}, nil
	}

	capture, err := s.captures.GetByID(ctx, captureID)
	if err != nil {
		return nil, fmt.Errorf("load capture %d: %w", captureID, err)
	}

	payload, err := s.buildPayload(ctx, capture)
	if err != nil {
		return nil, err
	}

	skip, err := s.filteredOut(payload)
	if err != nil {
		return nil, err
	}
	if skip {
		s.logger.DebugContext(ctx, "delivery suppressed by filter", "capture_id", captureID)
		s.emitOutcome(model.SendOutcomeSkipped, 0)
		return &model.SendResult{Outcome: model.SendOutcomeSkipped}, nil
	}

	start := time.Now()
	result, sendErr := s.sendWithImmediateRetries(ctx, s.destinationURL, payload)
	if sendErr != nil {
		return nil, sendErr
	}

	switch result.Outcome {
	case model.SendOutcomeDelivered:
		s.recordCaptureDelivery(ctx, captureID, string(model.SendOutcomeDelivered))
	case model.SendOutcomeRejected:
		s.recordCaptureDelivery(ctx, captureID, "failed")
		s.logger.WarnContext(ctx, "delivery rejected by receiver",
			"capture_id", captureID,
			"status_code", result.StatusCode,
		)
	case model.SendOutcomeQueued:
		if queueErr := s.enqueueRetry(ctx, capture.ID, payload, result.Error); queueErr != nil {
			return nil, queueErr
		}
		s.logger.InfoContext(ctx, "delivery queued for retry",
			"capture_id", captureID,
			"attempts", result.Attempts,
			"error", result.Error,
		)
	}

	s.emitOutcome(result.Outcome, time.Since(start))
	return result, nil
}

// SendCustom posts an arbitrary payload to an arbitrary destination with the
// immediate retry behaviour but without the persisted queue fallback.
// Management resends and connection tests use it.
func (s *WebhookService) SendCustom(ctx context.Context, destination string, payload json.RawMessage) (*model.SendResult, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		destination = s.destinationURL
	}
	if destination == "" {
		return nil, &model.ValidationError{Field: "destination_url", Reason: "destination url is required"}
	}

	start := time.Now()
	result, err := s.sendWithImmediateRetries(ctx, destination, payload)
	if err != nil {
		return nil, err
	}
	s.emitOutcome(result.Outcome, time.Since(start))
	return result, nil
}

// TestConnection posts a small ping payload to the destination and reports
// whether the receiver acknowledged it. One attempt, no queueing.
func (s *WebhookService) TestConnection(ctx context.Context, destination string) (*model.SendResult, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		destination = s.destinationURL
	}
	if destination == "" {
		return nil, &model.ValidationError{Field: "destination_url", Reason: "destination url is required"}
	}

	ping, err := json.Marshal(map[string]any{
		"event":   "connection.test",
		"sent_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode ping payload: %w", err)
	}

	code, sendErr := s.post(ctx, destination, ping)
	result := &model.SendResult{StatusCode: code, Attempts: 1}
	if sendErr == nil {
		result.Outcome = model.SendOutcomeDelivered
		return result, nil
	}
	result.Error = sendErr.Error()
	if model.IsPermanentDelivery(sendErr) {
		result.Outcome = model.SendOutcomeRejected
	} else {
		result.Outcome = model.SendOutcomeQueued
	}
	return result, nil
}

// QueueReport summarizes one ProcessQueue call.
type QueueReport struct {
	Due         int
	Delivered   int
	Rescheduled int
	Exhausted   int
}

// ProcessQueue retries due queued deliveries, one attempt each. Successes
// are deleted, transient failures are rescheduled on the exponential
// schedule, and items at the attempt ceiling become terminal failed rows.
func (s *WebhookService) ProcessQueue(ctx context.Context) (*QueueReport, error) {
	report := &QueueReport{}

	due, err := s.queue.ListDue(ctx, s.queueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	report.Due = len(due)

	for _, item := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.processQueuedItem(ctx, item, report)
	}
	return report, nil
}

func (s *WebhookService) processQueuedItem(ctx context.Context, item *model.WebhookDelivery, report *QueueReport) {
	start := time.Now()
	code, sendErr := s.post(ctx, item.DestinationURL, item.Payload)

	if sendErr == nil {
		if _, err := s.queue.MarkDelivered(ctx, item.ID); err != nil {
			s.logger.ErrorContext(ctx, "mark delivered failed", "delivery_id", item.ID, "error", err)
			return
		}
		s.recordCaptureDelivery(ctx, item.CaptureID, string(model.SendOutcomeDelivered))
		s.emitOutcome(model.SendOutcomeDelivered, time.Since(start))
		s.logger.InfoContext(ctx, "queued delivery succeeded",
			"delivery_id", item.ID,
			"capture_id", item.CaptureID,
			"attempts", item.Attempts+1,
		)
		report.Delivered++
		return
	}

	newAttempts := item.Attempts + 1
	maxAttempts := s.backoff.MaxAttempts
	if model.IsPermanentDelivery(sendErr) {
		// A receiver that now answers 4xx will keep answering 4xx; stop
		// retrying by making this failure terminal.
		maxAttempts = newAttempts
	}

	updated, err := s.queue.RecordFailure(ctx, core.RecordDeliveryFailureParams{
		ID:          item.ID,
		Error:       sendErr.Error(),
		NextRetryAt: time.Now().UTC().Add(s.backoff.NextDelay(newAttempts)),
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "record delivery failure failed", "delivery_id", item.ID, "error", err)
		return
	}

	if updated.Status == model.DeliveryStatusFailed {
		s.recordCaptureDelivery(ctx, item.CaptureID, "failed")
		s.emitOutcome("failed", time.Since(start))
		s.logger.ErrorContext(ctx, "delivery permanently failed",
			"delivery_id", item.ID,
			"capture_id", item.CaptureID,
			"attempts", updated.Attempts,
			"status_code", code,
			"error", sendErr,
		)
		report.Exhausted++
		return
	}

	s.emitOutcome("retried", time.Since(start))
	s.logger.WarnContext(ctx, "delivery rescheduled",
		"delivery_id", item.ID,
		"capture_id", item.CaptureID,
		"attempts", updated.Attempts,
		"next_retry_at", updated.NextRetryAt,
		"error", sendErr,
	)
	report.Rescheduled++
}

// Cleanup prunes old terminal failed rows from the queue.
func (s *WebhookService) Cleanup(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	deleted, err := s.queue.DeleteOlderThan(ctx, core.DeleteOldDeliveriesParams{
		MaxAge:    maxAge,
		BatchSize: batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("delete old deliveries: %w", err)
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "delivery queue pruned", "deleted", deleted)
	}
	return deleted, nil
}

// PendingCount reports the queue depth for the management surface.
func (s *WebhookService) PendingCount(ctx context.Context) (int, error) {
	return s.queue.CountPending(ctx)
}

// sendWithImmediateRetries runs the in-call attempt loop: short exponential
// pauses between attempts, permanent failures abort immediately, and a
// transient failure on the last attempt reports SendOutcomeQueued for the
// caller to persist.
func (s *WebhookService) sendWithImmediateRetries(ctx context.Context, destination string, payload json.RawMessage) (*model.SendResult, error) {
	var lastErr error
	var lastCode int

	for attempt := 1; attempt <= s.immediateAttempts; attempt++ {
		code, err := s.post(ctx, destination, payload)
		if err == nil {
			return &model.SendResult{
				Outcome:    model.SendOutcomeDelivered,
				StatusCode: code,
				Attempts:   attempt,
			}, nil
		}
		if model.IsPermanentDelivery(err) {
			return &model.SendResult{
				Outcome:    model.SendOutcomeRejected,
				StatusCode: code,
				Attempts:   attempt,
				Error:      err.Error(),
			}, nil
		}

		lastErr = err
		lastCode = code
		if attempt < s.immediateAttempts {
			if waitErr := s.wait(ctx, job.ImmediateBackoff(attempt)); waitErr != nil {
				return nil, waitErr
			}
		}
	}

	return &model.SendResult{
		Outcome:    model.SendOutcomeQueued,
		StatusCode: lastCode,
		Attempts:   s.immediateAttempts,
		Error:      lastErr.Error(),
	}, nil
}

// post performs one HTTP delivery attempt and classifies the response.
func (s *WebhookService) post(ctx context.Context, destination string, payload json.RawMessage) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(payload))
	if err != nil {
		return 0, &model.TransientDeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", captureEventName)
	if s.system.PluginVersion != "" {
		req.Header.Set("X-Optimizer-Version", s.system.PluginVersion)
	}
	if s.system.SiteURL != "" {
		req.Header.Set("X-Optimizer-Site", s.system.SiteURL)
	}
	if s.secretToken != "" {
		req.Header.Set("X-Webhook-Token", s.secretToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, &model.TransientDeliveryError{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	return resp.StatusCode, model.ClassifyStatus(resp.StatusCode)
}

// buildPayload assembles the versioned notification body, enriched with
// subject info when the capture is linked to one.
func (s *WebhookService) buildPayload(ctx context.Context, capture *model.Capture) (json.RawMessage, error) {
	body := capturePayload{
		Version: model.PayloadVersion,
		Event:   captureEventName,
		Capture: capture,
		System:  s.system,
		SentAt:  time.Now().UTC(),
	}
	if s.subjects != nil && capture.SubjectID != nil {
		if info, err := s.subjects.GetInfo(ctx, *capture.SubjectID); err == nil {
			body.Subject = info
		}
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode capture payload: %w", err)
	}
	return encoded, nil
}

// filteredOut evaluates the destination filter; falsy means suppress.
func (s *WebhookService) filteredOut(payload json.RawMessage) (bool, error) {
	if s.filterExpression == "" {
		return false, nil
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return false, fmt.Errorf("decode payload for filter: %w", err)
	}
	result, err := s.evaluator.Evaluate(s.filterExpression, data)
	if err != nil {
		return false, fmt.Errorf("evaluate filter expression: %w", err)
	}
	return !truthy(result), nil
}

func (s *WebhookService) enqueueRetry(ctx context.Context, captureID int64, payload json.RawMessage, lastError string) error {
	_, err := s.queue.Enqueue(ctx, &model.CreateDeliveryRequest{
		CaptureID:      captureID,
		DestinationURL: s.destinationURL,
		Payload:        payload,
		LastError:      lastError,
		NextRetryAt:    time.Now().UTC().Add(s.backoff.NextDelay(1)),
	})
	if err != nil {
		return fmt.Errorf("enqueue delivery retry: %w", err)
	}
	return nil
}

func (s *WebhookService) recordCaptureDelivery(ctx context.Context, captureID int64, status string) {
	err := s.captures.RecordDelivery(ctx, captureID, model.DeliveryMetadata{
		Status:      status,
		DeliveredAt: time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, model.ErrCaptureNotFound) {
		s.logger.WarnContext(ctx, "record capture delivery failed", "capture_id", captureID, "error", err)
	}
}

func (s *WebhookService) emitOutcome(outcome model.SendOutcome, duration time.Duration) {
	metrics.EmitDelivery(s.metrics, metrics.DeliveryMetric{
		Outcome:  string(outcome),
		Duration: duration,
	})
}

// truthy applies JMESPath truthiness: null, false, empty strings, empty
// collections, and empty objects are falsy.
func truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
