package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/mocks"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/notify"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service/failurenotifier"
)

type dispatcherMocks struct {
	jobs       *mocks.MockJobRepository
	automation *mocks.MockAutomationClient
	subjects   *mocks.MockSubjectRepository
	cache      *mocks.MockCacheRepository
}

func newTestDispatcher(t *testing.T, mutate func(*DispatcherOptions)) (*DispatcherService, dispatcherMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)

	deps := dispatcherMocks{
		jobs:       mocks.NewMockJobRepository(ctrl),
		automation: mocks.NewMockAutomationClient(ctrl),
		subjects:   mocks.NewMockSubjectRepository(ctrl),
		cache:      mocks.NewMockCacheRepository(ctrl),
	}

	opts := DispatcherOptions{
		Jobs:          deps.jobs,
		Automation:    deps.automation,
		Subjects:      deps.subjects,
		Cache:         deps.cache,
		InterJobPause: -1,
	}
	if mutate != nil {
		mutate(&opts)
	}

	svc, err := NewDispatcherService(opts)
	require.NoError(t, err)
	return svc, deps
}

func dispatchRequest(subjectID int64) *model.CreateJobRequest {
	return &model.CreateJobRequest{
		SubjectID: subjectID,
		Payload: model.OptimizationPayload{
			Content:  model.ContentSection{Title: "Sourdough starter guide", Body: "Feed it twice a day."},
			Analysis: model.AnalysisSection{Score: 48, TargetScore: 85},
		},
	}
}

func claimedJob(id string, subjectID int64, priority model.JobPriority) *model.Job {
	return &model.Job{
		ID:          id,
		SubjectID:   subjectID,
		Status:      model.JobStatusProcessing,
		Priority:    priority,
		TargetScore: 85,
		Attempts:    0,
		MaxAttempts: 3,
		Payload:     json.RawMessage(`{"version":1}`),
	}
}

func TestNewDispatcherService(t *testing.T) {
	ctrl := gomock.NewController(t)

	t.Run("requires job repository", func(t *testing.T) {
		_, err := NewDispatcherService(DispatcherOptions{
			Automation: mocks.NewMockAutomationClient(ctrl),
		})
		require.Error(t, err)
	})

	t.Run("requires automation client", func(t *testing.T) {
		_, err := NewDispatcherService(DispatcherOptions{
			Jobs: mocks.NewMockJobRepository(ctrl),
		})
		require.Error(t, err)
	})

	t.Run("success with defaults", func(t *testing.T) {
		svc, err := NewDispatcherService(DispatcherOptions{
			Jobs:       mocks.NewMockJobRepository(ctrl),
			Automation: mocks.NewMockAutomationClient(ctrl),
		})
		require.NoError(t, err)
		assert.Equal(t, defaultBatchSize, svc.batchSize)
		assert.Equal(t, defaultTimeBudget, svc.timeBudget)
	})
}

func TestDispatch_Validation(t *testing.T) {
	svc, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	_, err := svc.Dispatch(ctx, nil)
	require.Error(t, err)

	_, err = svc.Dispatch(ctx, dispatchRequest(0))
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestDispatch_UnknownSubject(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.subjects.EXPECT().Exists(ctx, int64(404)).Return(false, nil)

	_, err := svc.Dispatch(ctx, dispatchRequest(404))
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestDispatch_AlreadyQueued(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.subjects.EXPECT().Exists(ctx, int64(7)).Return(true, nil)
	deps.jobs.EXPECT().HasPending(ctx, int64(7)).Return(true, nil)

	_, err := svc.Dispatch(ctx, dispatchRequest(7))
	require.ErrorIs(t, err, model.ErrAlreadyQueued)
}

func TestDispatch_PendingCheckErrorFallsThroughToInsert(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.subjects.EXPECT().Exists(ctx, int64(7)).Return(true, nil)
	// A failing fast path defers to the unique index on the insert.
	deps.jobs.EXPECT().HasPending(ctx, int64(7)).Return(false, errors.New("connection reset"))
	deps.jobs.EXPECT().Create(ctx, gomock.Any()).Return(
		&model.Job{ID: "job-1", SubjectID: 7, Status: model.JobStatusPending}, nil)

	job, err := svc.Dispatch(ctx, dispatchRequest(7))
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
}

func TestDispatch_Success(t *testing.T) {
	svc, deps := newTestDispatcher(t, func(opts *DispatcherOptions) {
		opts.System = model.SystemMetadata{SiteURL: "https://bakery.example", PluginVersion: "3.1.0"}
	})
	ctx := context.Background()

	deps.subjects.EXPECT().Exists(ctx, int64(7)).Return(true, nil)
	deps.jobs.EXPECT().HasPending(ctx, int64(7)).Return(false, nil)
	deps.jobs.EXPECT().Create(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			assert.Equal(t, "https://bakery.example", req.Payload.System.SiteURL)
			assert.False(t, req.Payload.System.DispatchedAt.IsZero())
			return &model.Job{ID: "job-1", SubjectID: 7, Status: model.JobStatusPending, Priority: model.JobPriorityNormal}, nil
		})

	job, err := svc.Dispatch(ctx, dispatchRequest(7))
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestDispatch_HighPriorityProcessesSynchronously(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	req := dispatchRequest(9)
	req.Priority = model.JobPriorityHigh

	created := &model.Job{ID: "job-hi", SubjectID: 9, Status: model.JobStatusPending, Priority: model.JobPriorityHigh}
	processing := claimedJob("job-hi", 9, model.JobPriorityHigh)

	deps.subjects.EXPECT().Exists(ctx, int64(9)).Return(true, nil)
	deps.jobs.EXPECT().HasPending(ctx, int64(9)).Return(false, nil)
	deps.jobs.EXPECT().Create(ctx, gomock.Any()).Return(created, nil)
	deps.jobs.EXPECT().ClaimNextBatch(ctx, 1).Return([]*model.Job{processing}, nil)
	deps.automation.EXPECT().Optimize(ctx, processing).Return(&model.OptimizationResult{Score: 88, Iterations: 2}, nil)
	deps.jobs.EXPECT().Complete(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, params core.CompleteJobParams) (bool, error) {
			assert.Equal(t, "job-hi", params.ID)
			assert.Equal(t, 88, params.Score)
			return true, nil
		})
	deps.cache.EXPECT().Set(ctx, "optimizer:result:9", gomock.Any(), gomock.Any()).Return(nil)
	deps.jobs.EXPECT().GetByID(ctx, "job-hi").Return(
		&model.Job{ID: "job-hi", SubjectID: 9, Status: model.JobStatusCompleted, CurrentScore: 88}, nil)

	job, err := svc.Dispatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 88, job.CurrentScore)
}

func TestProcessBatch_NoJobs(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.jobs.EXPECT().ClaimNextBatch(ctx, defaultBatchSize).Return(nil, model.ErrNoJobsAvailable)

	report, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Claimed)
}

func TestProcessBatch_MixedOutcomes(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	good := claimedJob("job-ok", 1, model.JobPriorityNormal)
	bad := claimedJob("job-bad", 2, model.JobPriorityNormal)

	deps.jobs.EXPECT().ClaimNextBatch(ctx, defaultBatchSize).Return([]*model.Job{good, bad}, nil)

	deps.automation.EXPECT().Optimize(ctx, good).Return(&model.OptimizationResult{Score: 91}, nil)
	deps.jobs.EXPECT().Complete(ctx, gomock.Any()).Return(true, nil)
	deps.cache.EXPECT().Set(ctx, "optimizer:result:1", gomock.Any(), gomock.Any()).Return(nil)

	deps.automation.EXPECT().Optimize(ctx, bad).Return(nil, errors.New("automation timed out"))
	deps.jobs.EXPECT().Fail(ctx, "job-bad", "automation timed out").
		Return(&core.FailOutcome{Updated: true, Attempts: 1}, nil)

	report, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Failed)

	status, err := svc.Status(mockQueueDepth(deps.jobs, 4))
	require.NoError(t, err)
	require.NotNil(t, status.LastError)
	assert.Equal(t, "automation timed out", *status.LastError)
}

// mockQueueDepth wires the depth expectation and returns a fresh context so
// Status assertions read naturally at the call site.
func mockQueueDepth(jobs *mocks.MockJobRepository, depth int) context.Context {
	ctx := context.Background()
	jobs.EXPECT().QueueDepth(ctx).Return(depth, nil)
	return ctx
}

func TestProcessBatch_TerminalFailureNotifiesOnce(t *testing.T) {
	var mu sync.Mutex
	var sent []notify.JobFailurePayload

	sink := notify.SinkFunc(func(_ context.Context, payload notify.JobFailurePayload) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, payload)
		return nil
	})
	notifier := failurenotifier.NewService(failurenotifier.Options{
		Sinks: []failurenotifier.SinkRegistration{{Name: "test", Sink: sink}},
	})

	svc, deps := newTestDispatcher(t, func(opts *DispatcherOptions) {
		opts.FailureNotifier = notifier
	})
	ctx := context.Background()

	doomed := claimedJob("job-doom", 3, model.JobPriorityNormal)
	doomed.Attempts = 2

	deps.jobs.EXPECT().ClaimNextBatch(ctx, defaultBatchSize).Return([]*model.Job{doomed}, nil).Times(2)
	deps.automation.EXPECT().Optimize(ctx, doomed).Return(nil, errors.New("boom")).Times(2)
	deps.jobs.EXPECT().Fail(ctx, "job-doom", "boom").
		Return(&core.FailOutcome{Updated: true, Terminal: true, Attempts: 3}, nil).Times(2)

	// First terminal failure wins the marker and notifies.
	deps.cache.EXPECT().SetIfNotExists(ctx, "optimizer:notified:job-doom", gomock.Any(), gomock.Any()).Return(true, nil)
	deps.subjects.EXPECT().GetInfo(ctx, int64(3)).Return(&core.SubjectInfo{ID: 3, Title: "Rye loaf recipe"}, nil)

	_, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)

	// Second pass over the same terminal failure loses the marker claim.
	deps.cache.EXPECT().SetIfNotExists(ctx, "optimizer:notified:job-doom", gomock.Any(), gomock.Any()).Return(false, nil)

	_, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, "job-doom", sent[0].JobID)
	assert.Equal(t, "Rye loaf recipe", sent[0].SubjectName)
	assert.Equal(t, 3, sent[0].Attempts)
	assert.Equal(t, notify.SeverityCritical, sent[0].Severity)
}

func TestProcessBatch_BudgetExhaustedReleasesClaims(t *testing.T) {
	svc, deps := newTestDispatcher(t, func(opts *DispatcherOptions) {
		opts.TimeBudget = time.Nanosecond
	})
	ctx := context.Background()

	first := claimedJob("job-a", 1, model.JobPriorityNormal)
	second := claimedJob("job-b", 2, model.JobPriorityNormal)
	second.Attempts = 2

	deps.jobs.EXPECT().ClaimNextBatch(ctx, defaultBatchSize).Return([]*model.Job{first, second}, nil)
	// The budget expired before either job ran: both are released untouched,
	// the automation backend is never called, and no attempt is recorded even
	// for the job one failure away from its ceiling.
	deps.jobs.EXPECT().Release(gomock.Any(), []string{"job-a", "job-b"}).Return(int64(2), nil)

	report, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.True(t, report.BudgetExhausted)
	assert.Equal(t, 2, report.Claimed)
	assert.Zero(t, report.Completed)
	assert.Zero(t, report.Failed)
}

func TestProcessBatch_PermanentRejectionFailsTerminally(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	rejected := claimedJob("job-reject", 4, model.JobPriorityNormal)
	rejection := &model.PermanentDeliveryError{StatusCode: 422}

	deps.jobs.EXPECT().ClaimNextBatch(ctx, defaultBatchSize).Return([]*model.Job{rejected}, nil)
	deps.automation.EXPECT().Optimize(ctx, rejected).Return(nil, rejection)
	// A 4xx from the backend skips the retry schedule entirely.
	deps.jobs.EXPECT().FailPermanent(ctx, "job-reject", rejection.Error()).
		Return(&core.FailOutcome{Updated: true, Terminal: true, Attempts: 1}, nil)

	report, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestRetryDue(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.jobs.EXPECT().PromoteDueRetries(ctx, defaultBatchSize*10).Return(int64(3), nil)

	promoted, err := svc.RetryDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), promoted)
}

func TestCancel(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.jobs.EXPECT().Cancel(ctx, "job-1").Return(true, nil)

	cancelled, err := svc.Cancel(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	_, err = svc.Cancel(ctx, "")
	require.Error(t, err)
}

func TestCancelForSubject(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.jobs.EXPECT().CancelForSubject(ctx, int64(5)).Return(int64(2), nil)
	deps.cache.EXPECT().Delete(ctx, "optimizer:result:5").Return(true, nil)

	cancelled, err := svc.CancelForSubject(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled)
}

func TestCleanup(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.jobs.EXPECT().RequeueStuck(ctx, core.RequeueStuckParams{Timeout: time.Hour, BatchSize: 100}).Return(int64(1), nil)
	deps.jobs.EXPECT().DeleteOlderThan(ctx, core.DeleteOldJobsParams{MaxAge: 30 * 24 * time.Hour, BatchSize: 100}).Return(int64(9), nil)

	report, err := svc.Cleanup(ctx, CleanupParams{
		StuckTimeout: time.Hour,
		MaxAge:       30 * 24 * time.Hour,
		BatchSize:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Requeued)
	assert.Equal(t, int64(9), report.Deleted)
}

func TestCachedResult(t *testing.T) {
	svc, deps := newTestDispatcher(t, nil)
	ctx := context.Background()

	deps.cache.EXPECT().Get(ctx, "optimizer:result:5").Return([]byte(`{"score":90}`), nil)

	cached, err := svc.CachedResult(ctx, 5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":90}`, string(cached))
}
