package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/data"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/job"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/mocks"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service"
)

type routerMocks struct {
	jobs     *mocks.MockJobRepository
	queue    *mocks.MockDeliveryQueueRepository
	captures *mocks.MockCaptureRepository
	cache    *mocks.MockCacheRepository
}

func newTestRouter(t *testing.T) (http.Handler, routerMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)

	deps := routerMocks{
		jobs:     mocks.NewMockJobRepository(ctrl),
		queue:    mocks.NewMockDeliveryQueueRepository(ctrl),
		captures: mocks.NewMockCaptureRepository(ctrl),
		cache:    mocks.NewMockCacheRepository(ctrl),
	}

	dispatcher, err := service.NewDispatcherService(service.DispatcherOptions{
		Jobs:       deps.jobs,
		Automation: mocks.NewMockAutomationClient(ctrl),
		Cache:      deps.cache,
	})
	require.NoError(t, err)

	backoff, err := job.NewDeliveryBackoff(time.Minute, 10)
	require.NoError(t, err)
	webhook, err := service.NewWebhookService(service.WebhookOptions{
		Queue:          deps.queue,
		Captures:       deps.captures,
		Backoff:        backoff,
		DestinationURL: "https://receiver.example/hook",
	})
	require.NoError(t, err)

	router := NewRouter(RouterServices{Dispatcher: dispatcher, Webhook: webhook})
	return router, deps
}

const (
	jobIDOne     = "7b693e4a-1f89-4b1e-9f2a-3c8d5e6f7a01"
	jobIDMissing = "0d1f2e3c-4b5a-6978-8a9b-0c1d2e3f4a05"
)

const dispatchBody = `{
	"subject_id": 7,
	"priority": "normal",
	"payload": {
		"content": {"title": "Sourdough starter guide", "body": "Feed it twice a day."},
		"analysis": {"score": 48, "target_score": 85}
	}
}`

func TestDispatchJobEndpoint(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.jobs.EXPECT().HasPending(gomock.Any(), int64(7)).Return(false, nil)
		deps.jobs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(
			&model.Job{ID: jobIDOne, SubjectID: 7, Status: model.JobStatusPending}, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(dispatchBody)))

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), jobIDOne)
	})

	t.Run("conflict when already queued", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.jobs.EXPECT().HasPending(gomock.Any(), int64(7)).Return(true, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(dispatchBody)))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "already_queued")
	})

	t.Run("validation failure", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		body := `{"subject_id": 0, "payload": {"content": {"title": "x"}, "analysis": {"score": 1, "target_score": 2}}}`
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "validation_failed")
	})

	t.Run("malformed json", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"subject_id": `)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_json")
	})
}

func TestGetJobEndpoint(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.jobs.EXPECT().GetByID(gomock.Any(), jobIDOne).Return(
			&model.Job{ID: jobIDOne, Status: model.JobStatusCompleted}, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobIDOne, nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"completed"`)
	})

	t.Run("not found", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.jobs.EXPECT().GetByID(gomock.Any(), jobIDMissing).Return(nil, data.ErrJobNotFound)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobIDMissing, nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-uuid", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_path")
	})
}

func TestCancelJobEndpoint(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.jobs.EXPECT().Cancel(gomock.Any(), jobIDOne).Return(true, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobIDOne+"/cancel", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not cancellable", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.jobs.EXPECT().Cancel(gomock.Any(), jobIDOne).Return(false, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/jobs/"+jobIDOne+"/cancel", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestQueueEndpoints(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.jobs.EXPECT().QueueDepth(gomock.Any()).Return(3, nil)
		deps.queue.EXPECT().CountPending(gomock.Any()).Return(2, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/status", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"queue_depth":3`)
		assert.Contains(t, rec.Body.String(), `"pending_deliveries":2`)
	})

	t.Run("stats", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.jobs.EXPECT().Stats(gomock.Any()).Return(&model.JobStats{Completed: 5, Failed: 1, SuccessRate: 5.0 / 6.0}, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"completed":5`)
	})
}

func TestSubjectResultEndpoint(t *testing.T) {
	t.Run("cached", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.cache.EXPECT().Get(gomock.Any(), "optimizer:result:7").Return([]byte(`{"score":90}`), nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/subjects/7/result", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"score":90}`, rec.Body.String())
	})

	t.Run("empty cache", func(t *testing.T) {
		router, deps := newTestRouter(t)

		deps.cache.EXPECT().Get(gomock.Any(), "optimizer:result:7").Return(nil, nil)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/subjects/7/result", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("invalid subject id", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/subjects/banana/result", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestResendCaptureEndpoint_NotFound(t *testing.T) {
	router, deps := newTestRouter(t)

	deps.captures.EXPECT().GetByID(gomock.Any(), int64(42)).Return(nil, model.ErrCaptureNotFound)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/captures/42/resend", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
