package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/job"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/mocks"
)

type webhookMocks struct {
	queue    *mocks.MockDeliveryQueueRepository
	captures *mocks.MockCaptureRepository
	subjects *mocks.MockSubjectRepository
}

func newTestWebhook(t *testing.T, mutate func(*WebhookOptions)) (*WebhookService, webhookMocks, *[]time.Duration) {
	t.Helper()
	ctrl := gomock.NewController(t)

	deps := webhookMocks{
		queue:    mocks.NewMockDeliveryQueueRepository(ctrl),
		captures: mocks.NewMockCaptureRepository(ctrl),
		subjects: mocks.NewMockSubjectRepository(ctrl),
	}

	backoff, err := job.NewDeliveryBackoff(time.Minute, 10)
	require.NoError(t, err)

	sleeps := &[]time.Duration{}
	opts := WebhookOptions{
		Queue:    deps.queue,
		Captures: deps.captures,
		Subjects: deps.subjects,
		Backoff:  backoff,
		WaitFn: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	svc, err := NewWebhookService(opts)
	require.NoError(t, err)
	return svc, deps, sleeps
}

func testCapture(id int64) *model.Capture {
	subjectID := int64(7)
	return &model.Capture{
		ID:        id,
		Kind:      model.CaptureKindVideo,
		Title:     "Homepage walkthrough",
		FileURL:   "https://cdn.example/captures/walkthrough.mp4",
		SubjectID: &subjectID,
		ActorID:   12,
	}
}

func TestNewWebhookService(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := mocks.NewMockDeliveryQueueRepository(ctrl)
	captures := mocks.NewMockCaptureRepository(ctrl)
	backoff, err := job.NewDeliveryBackoff(time.Minute, 10)
	require.NoError(t, err)

	t.Run("requires queue", func(t *testing.T) {
		_, err := NewWebhookService(WebhookOptions{Captures: captures, Backoff: backoff})
		require.Error(t, err)
	})

	t.Run("requires captures", func(t *testing.T) {
		_, err := NewWebhookService(WebhookOptions{Queue: queue, Backoff: backoff})
		require.Error(t, err)
	})

	t.Run("rejects invalid filter expression", func(t *testing.T) {
		_, err := NewWebhookService(WebhookOptions{
			Queue:            queue,
			Captures:         captures,
			Backoff:          backoff,
			FilterExpression: "capture.[",
		})
		require.Error(t, err)
	})
}

func TestSend_Delivered(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc, deps, _ := newTestWebhook(t, func(opts *WebhookOptions) {
		opts.DestinationURL = server.URL
		opts.SecretToken = "hunter2"
		opts.System = model.SystemMetadata{SiteURL: "https://bakery.example", PluginVersion: "3.1.0"}
	})
	ctx := context.Background()

	deps.captures.EXPECT().GetByID(ctx, int64(42)).Return(testCapture(42), nil)
	deps.subjects.EXPECT().GetInfo(ctx, int64(7)).Return(&core.SubjectInfo{ID: 7, Title: "Landing page"}, nil)
	deps.captures.EXPECT().RecordDelivery(ctx, int64(42), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int64, meta model.DeliveryMetadata) error {
			assert.Equal(t, "delivered", meta.Status)
			return nil
		})

	result, err := svc.Send(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.SendOutcomeDelivered, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "hunter2", gotHeaders.Get("X-Webhook-Token"))
	assert.Equal(t, "https://bakery.example", gotHeaders.Get("X-Optimizer-Site"))
	assert.Equal(t, "3.1.0", gotHeaders.Get("X-Optimizer-Version"))

	var payload capturePayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, model.PayloadVersion, payload.Version)
	assert.Equal(t, captureEventName, payload.Event)
	assert.Equal(t, int64(42), payload.Capture.ID)
	assert.Equal(t, "https://bakery.example", payload.System.SiteURL)
	assert.Equal(t, "3.1.0", payload.System.PluginVersion)
	require.NotNil(t, payload.Subject)
	assert.Equal(t, "Landing page", payload.Subject.Title)
}

func TestSend_Rejected4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	svc, deps, sleeps := newTestWebhook(t, func(opts *WebhookOptions) {
		opts.DestinationURL = server.URL
	})
	ctx := context.Background()

	deps.captures.EXPECT().GetByID(ctx, int64(42)).Return(testCapture(42), nil)
	deps.subjects.EXPECT().GetInfo(ctx, int64(7)).Return(&core.SubjectInfo{ID: 7}, nil)
	deps.captures.EXPECT().RecordDelivery(ctx, int64(42), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int64, meta model.DeliveryMetadata) error {
			assert.Equal(t, "failed", meta.Status)
			return nil
		})

	result, err := svc.Send(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.SendOutcomeRejected, result.Outcome)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	// 4xx aborts immediately: one request, no retries, nothing queued.
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *sleeps)
}

func TestSend_TransientQueuesForRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	svc, deps, sleeps := newTestWebhook(t, func(opts *WebhookOptions) {
		opts.DestinationURL = server.URL
		opts.ImmediateAttempts = 3
	})
	ctx := context.Background()

	deps.captures.EXPECT().GetByID(ctx, int64(42)).Return(testCapture(42), nil)
	deps.subjects.EXPECT().GetInfo(ctx, int64(7)).Return(&core.SubjectInfo{ID: 7}, nil)

	before := time.Now().UTC()
	deps.queue.EXPECT().Enqueue(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.CreateDeliveryRequest) (*model.WebhookDelivery, error) {
			assert.Equal(t, int64(42), req.CaptureID)
			assert.Equal(t, server.URL, req.DestinationURL)
			assert.NotEmpty(t, req.LastError)
			// First queued retry waits 2^1 * base.
			assert.WithinDuration(t, before.Add(2*time.Minute), req.NextRetryAt, 5*time.Second)
			return &model.WebhookDelivery{ID: "dlv-1", Attempts: 1, Status: model.DeliveryStatusPending}, nil
		})

	result, err := svc.Send(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.SendOutcomeQueued, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
	// In-call pauses between attempts: 1s then 2s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestSend_FilterSuppresses(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc, deps, _ := newTestWebhook(t, func(opts *WebhookOptions) {
		opts.DestinationURL = server.URL
		opts.FilterExpression = "capture.kind == 'audio'"
	})
	ctx := context.Background()

	deps.captures.EXPECT().GetByID(ctx, int64(42)).Return(testCapture(42), nil)
	deps.subjects.EXPECT().GetInfo(ctx, int64(7)).Return(&core.SubjectInfo{ID: 7}, nil)

	result, err := svc.Send(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.SendOutcomeSkipped, result.Outcome)
	assert.Equal(t, int32(0), calls.Load())
}

func TestSend_NoDestinationConfigured(t *testing.T) {
	svc, _, _ := newTestWebhook(t, nil)

	result, err := svc.Send(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, model.SendOutcomeSkipped, result.Outcome)
}

func TestProcessQueue(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	downServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer downServer.Close()

	svc, deps, _ := newTestWebhook(t, nil)
	ctx := context.Background()

	due := []*model.WebhookDelivery{
		{ID: "dlv-ok", CaptureID: 1, DestinationURL: okServer.URL, Payload: json.RawMessage(`{}`), Attempts: 1},
		{ID: "dlv-retry", CaptureID: 2, DestinationURL: downServer.URL, Payload: json.RawMessage(`{}`), Attempts: 1},
		{ID: "dlv-dead", CaptureID: 3, DestinationURL: downServer.URL, Payload: json.RawMessage(`{}`), Attempts: 9},
	}
	deps.queue.EXPECT().ListDue(ctx, defaultQueueBatchSize).Return(due, nil)

	// Success: row deleted, capture stamped.
	deps.queue.EXPECT().MarkDelivered(ctx, "dlv-ok").Return(true, nil)
	deps.captures.EXPECT().RecordDelivery(ctx, int64(1), gomock.Any()).Return(nil)

	// Transient with attempts left: rescheduled on the exponential curve.
	deps.queue.EXPECT().RecordFailure(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, params core.RecordDeliveryFailureParams) (*model.WebhookDelivery, error) {
			switch params.ID {
			case "dlv-retry":
				assert.Equal(t, 10, params.MaxAttempts)
				assert.WithinDuration(t, time.Now().UTC().Add(4*time.Minute), params.NextRetryAt, 5*time.Second)
				return &model.WebhookDelivery{ID: params.ID, CaptureID: 2, Attempts: 2, Status: model.DeliveryStatusPending, NextRetryAt: params.NextRetryAt}, nil
			case "dlv-dead":
				return &model.WebhookDelivery{ID: params.ID, CaptureID: 3, Attempts: 10, Status: model.DeliveryStatusFailed}, nil
			default:
				t.Fatalf("unexpected RecordFailure for %s", params.ID)
				return nil, nil
			}
		}).Times(2)

	// The exhausted item stamps the capture as terminally failed.
	deps.captures.EXPECT().RecordDelivery(ctx, int64(3), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ int64, meta model.DeliveryMetadata) error {
			assert.Equal(t, "failed", meta.Status)
			return nil
		})

	report, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Due)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Rescheduled)
	assert.Equal(t, 1, report.Exhausted)
}

func TestProcessQueue_PermanentRejectionIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	svc, deps, _ := newTestWebhook(t, nil)
	ctx := context.Background()

	due := []*model.WebhookDelivery{
		{ID: "dlv-410", CaptureID: 5, DestinationURL: server.URL, Payload: json.RawMessage(`{}`), Attempts: 2},
	}
	deps.queue.EXPECT().ListDue(ctx, defaultQueueBatchSize).Return(due, nil)
	deps.queue.EXPECT().RecordFailure(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, params core.RecordDeliveryFailureParams) (*model.WebhookDelivery, error) {
			// Permanent rejections cap the ceiling at the new attempt count.
			assert.Equal(t, 3, params.MaxAttempts)
			return &model.WebhookDelivery{ID: params.ID, CaptureID: 5, Attempts: 3, Status: model.DeliveryStatusFailed}, nil
		})
	deps.captures.EXPECT().RecordDelivery(ctx, int64(5), gomock.Any()).Return(nil)

	report, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Exhausted)
}

func TestTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "connection.test")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	svc, _, _ := newTestWebhook(t, nil)

	result, err := svc.TestConnection(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, model.SendOutcomeDelivered, result.Outcome)

	_, err = svc.TestConnection(context.Background(), "")
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}
