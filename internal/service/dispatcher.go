package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/metrics"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/notify"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/observability/statsd"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service/failurenotifier"
)

const (
	resultCacheKeyPrefix   = "optimizer:result:"
	notifiedCacheKeyPrefix = "optimizer:notified:"

	defaultBatchSize     = 5
	defaultTimeBudget    = 25 * time.Second
	defaultInterJobPause = 2 * time.Second
	defaultResultTTL     = 24 * time.Hour
	notifiedMarkerTTL    = 7 * 24 * time.Hour
)

// DispatcherOptions groups dependencies for DispatcherService.
type DispatcherOptions struct {
	Jobs            core.JobRepository      // Required: durable job store
	Automation      core.AutomationClient   // Required: optimization backend
	Subjects        core.SubjectRepository  // Optional: subject existence checks
	Cache           core.CacheRepository    // Optional: result cache and notify-once markers
	FailureNotifier *failurenotifier.Service // Optional: operator notification fan-out
	Metrics         statsd.Sink             // Optional: lifecycle metrics
	Logger          *slog.Logger            // Optional: structured logger

	// System identifies this installation; stamped onto payloads at dispatch.
	System model.SystemMetadata

	// BatchSize caps how many jobs one ProcessBatch call claims.
	BatchSize int
	// TimeBudget bounds one ProcessBatch call. Jobs claimed but not reached
	// before the budget expires are released back to the queue untouched and
	// run on a later tick.
	TimeBudget time.Duration
	// InterJobPause is the idle gap between jobs within a batch, keeping the
	// automation backend from being hammered. Negative disables the pause.
	InterJobPause time.Duration
	// ResultTTL bounds how long completed results stay cached.
	ResultTTL time.Duration
}

// DispatcherService owns the optimization job lifecycle: enqueueing,
// batch processing against the automation backend, retries, cancellation,
// cleanup, and the management status surface.
type DispatcherService struct {
	jobs            core.JobRepository
	automation      core.AutomationClient
	subjects        core.SubjectRepository
	cache           core.CacheRepository
	failureNotifier *failurenotifier.Service
	metrics         statsd.Sink
	logger          *slog.Logger

	system        model.SystemMetadata
	batchSize     int
	timeBudget    time.Duration
	interJobPause time.Duration
	resultTTL     time.Duration

	processing atomic.Bool
	mu         sync.Mutex
	currentJob string
	lastError  *string
}

// NewDispatcherService constructs a DispatcherService.
func NewDispatcherService(opts DispatcherOptions) (*DispatcherService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Automation == nil {
		return nil, errors.New("AutomationClient is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	timeBudget := opts.TimeBudget
	if timeBudget <= 0 {
		timeBudget = defaultTimeBudget
	}
	interJobPause := opts.InterJobPause
	if interJobPause == 0 {
		interJobPause = defaultInterJobPause
	} else if interJobPause < 0 {
		interJobPause = 0
	}
	resultTTL := opts.ResultTTL
	if resultTTL <= 0 {
		resultTTL = defaultResultTTL
	}

	return &DispatcherService{
		jobs:            opts.Jobs,
		automation:      opts.Automation,
		subjects:        opts.Subjects,
		cache:           opts.Cache,
		failureNotifier: opts.FailureNotifier,
		metrics:         opts.Metrics,
		logger:          logger.With("component", "dispatcher"),
		system:          opts.System,
		batchSize:       batchSize,
		timeBudget:      timeBudget,
		interJobPause:   interJobPause,
		resultTTL:       resultTTL,
	}, nil
}

// MustNewDispatcherService constructs a DispatcherService and panics on error.
func MustNewDispatcherService(opts DispatcherOptions) *DispatcherService {
	svc, err := NewDispatcherService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create DispatcherService: %v", err))
	}
	return svc
}

// Dispatch validates and enqueues an optimization job for the subject.
// Returns model.ErrAlreadyQueued when the subject has an in-flight job and a
// model.ValidationError for malformed requests; both surface synchronously
// and are never retried. High priority jobs are processed immediately when
// no batch is running.
func (s *DispatcherService) Dispatch(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("dispatch request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if s.subjects != nil {
		exists, err := s.subjects.Exists(ctx, req.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("check subject %d: %w", req.SubjectID, err)
		}
		if !exists {
			return nil, &model.ValidationError{Field: "subject_id", Reason: "must reference an existing subject"}
		}
	}

	// Fast path before the insert; the partial unique index remains the
	// authority under concurrency.
	pending, err := s.jobs.HasPending(ctx, req.SubjectID)
	if err != nil {
		s.logger.WarnContext(ctx, "pending check failed, deferring to the unique index",
			"subject_id", req.SubjectID, "error", err)
	} else if pending {
		return nil, model.ErrAlreadyQueued
	}

	req.Payload.System = s.system
	req.Payload.System.DispatchedAt = time.Now().UTC()

	job, err := s.jobs.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "job dispatched",
		"job_id", job.ID,
		"subject_id", job.SubjectID,
		"priority", job.Priority,
	)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: "dispatched",
		Priority:   string(job.Priority),
		Result:     metrics.ResultSuccess,
	})

	if job.Priority == model.JobPriorityHigh && !s.processing.Load() {
		s.processHighPriority(ctx, job)
		if refreshed, getErr := s.jobs.GetByID(ctx, job.ID); getErr == nil {
			return refreshed, nil
		}
	}
	return job, nil
}

// processHighPriority claims and runs one job inline so a high priority
// dispatch does not wait for the next batch tick. Failures here follow the
// normal retry path.
func (s *DispatcherService) processHighPriority(ctx context.Context, job *model.Job) {
	claimed, err := s.jobs.ClaimNextBatch(ctx, 1)
	if err != nil {
		if !errors.Is(err, model.ErrNoJobsAvailable) {
			s.logger.WarnContext(ctx, "synchronous claim failed", "job_id", job.ID, "error", err)
		}
		return
	}
	// The claim is priority ordered, so the job we just enqueued is first
	// unless another high priority job was already due.
	s.runJob(ctx, claimed[0])
}

// BatchReport summarizes one ProcessBatch call.
type BatchReport struct {
	Claimed   int
	Completed int
	Failed    int
	// BudgetExhausted is true when claimed jobs were returned to the queue
	// because the time budget ran out.
	BudgetExhausted bool
}

// ProcessBatch claims up to the configured batch of due jobs and processes
// them sequentially within the time budget, pausing between jobs. Jobs not
// reached before the budget expires are released back to the queue untouched
// so they run on a later tick without burning an attempt.
func (s *DispatcherService) ProcessBatch(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{}

	if !s.processing.CompareAndSwap(false, true) {
		// Another batch is running in this process; the claim query keeps
		// separate processes from colliding.
		return report, nil
	}
	defer s.processing.Store(false)

	jobs, err := s.jobs.ClaimNextBatch(ctx, s.batchSize)
	if errors.Is(err, model.ErrNoJobsAvailable) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	report.Claimed = len(jobs)

	deadline := time.Now().Add(s.timeBudget)
	for i, job := range jobs {
		if time.Now().After(deadline) {
			report.BudgetExhausted = true
			s.requeueUnprocessed(ctx, jobs[i:])
			break
		}

		if s.runJob(ctx, job) {
			report.Completed++
		} else {
			report.Failed++
		}

		if i < len(jobs)-1 && s.interJobPause > 0 {
			timer := time.NewTimer(s.interJobPause)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.requeueUnprocessed(ctx, jobs[i+1:])
				return report, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return report, nil
}

// requeueUnprocessed returns claimed-but-unreached jobs to the queue without
// recording an attempt; attempts count only actual runs against the backend.
func (s *DispatcherService) requeueUnprocessed(ctx context.Context, jobs []*model.Job) {
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}

	// The release must land even when the batch context was cancelled,
	// otherwise the jobs sit in processing until the reaper finds them.
	released, err := s.jobs.Release(context.WithoutCancel(ctx), ids)
	if err != nil {
		s.logger.ErrorContext(ctx, "release unprocessed jobs failed", "job_ids", ids, "error", err)
		return
	}
	if released != int64(len(ids)) {
		s.logger.WarnContext(ctx, "released fewer jobs than claimed", "claimed", len(ids), "released", released)
	}
}

// runJob executes one claimed job against the automation backend and records
// the outcome. Returns true on completion.
func (s *DispatcherService) runJob(ctx context.Context, job *model.Job) bool {
	s.setCurrent(job.ID)
	defer s.setCurrent("")

	start := time.Now()
	result, err := s.automation.Optimize(ctx, job)
	if err != nil {
		s.recordFailure(ctx, job, err)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "processed",
			Priority:   string(job.Priority),
			Result:     metrics.ResultError,
			Duration:   time.Since(start),
			Err:        err,
		})
		return false
	}

	encoded, encodeErr := resultJSON(result)
	if encodeErr != nil {
		s.recordFailure(ctx, job, encodeErr)
		return false
	}

	updated, completeErr := s.jobs.Complete(ctx, core.CompleteJobParams{
		ID:         job.ID,
		Result:     encoded,
		Score:      result.Score,
		Iterations: result.Iterations,
	})
	if completeErr != nil {
		s.logger.ErrorContext(ctx, "complete job failed", "job_id", job.ID, "error", completeErr)
		return false
	}
	if !updated {
		// The job left processing underneath us, likely reaped as stuck.
		s.logger.WarnContext(ctx, "job no longer processing at completion", "job_id", job.ID)
		return false
	}

	s.cacheResult(ctx, job.SubjectID, encoded)
	s.setLastError(nil)

	s.logger.InfoContext(ctx, "job completed",
		"job_id", job.ID,
		"subject_id", job.SubjectID,
		"score", result.Score,
		"duration", time.Since(start),
	)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: "processed",
		Priority:   string(job.Priority),
		Result:     metrics.ResultSuccess,
		Duration:   time.Since(start),
	})
	return true
}

// recordFailure applies the retry policy and, on terminal failure, notifies
// operators exactly once per job.
func (s *DispatcherService) recordFailure(ctx context.Context, job *model.Job, cause error) {
	msg := cause.Error()
	s.setLastError(&msg)

	var outcome *core.FailOutcome
	var err error
	if model.IsPermanentDelivery(cause) {
		// The backend rejected the payload outright; retrying cannot help.
		outcome, err = s.jobs.FailPermanent(ctx, job.ID, msg)
	} else {
		outcome, err = s.jobs.Fail(ctx, job.ID, msg)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "fail job failed", "job_id", job.ID, "error", err)
		return
	}
	if !outcome.Updated {
		return
	}

	s.logger.WarnContext(ctx, "job attempt failed",
		"job_id", job.ID,
		"subject_id", job.SubjectID,
		"attempts", outcome.Attempts,
		"terminal", outcome.Terminal,
		"error", msg,
	)

	if outcome.Terminal {
		s.notifyTerminalFailure(ctx, job, msg, outcome.Attempts)
	}
}

// notifyTerminalFailure sends the operator notification for an exhausted job.
// A cache marker claimed with SET NX guarantees at most one notification per
// job even when multiple workers race on the reaped-and-refailed path.
func (s *DispatcherService) notifyTerminalFailure(ctx context.Context, job *model.Job, msg string, attempts int) {
	if s.failureNotifier == nil || !s.failureNotifier.Enabled() {
		return
	}

	if s.cache != nil {
		won, err := s.cache.SetIfNotExists(ctx, notifiedCacheKeyPrefix+job.ID, []byte("1"), notifiedMarkerTTL)
		if err != nil {
			s.logger.WarnContext(ctx, "notify-once marker failed, sending anyway", "job_id", job.ID, "error", err)
		} else if !won {
			return
		}
	}

	payload := notify.JobFailurePayload{
		JobID:       job.ID,
		SubjectID:   job.SubjectID,
		Error:       msg,
		Attempts:    attempts,
		MaxAttempts: job.MaxAttempts,
		OccurredAt:  time.Now().UTC(),
		Metadata: map[string]string{
			"priority":     string(job.Priority),
			"target_score": strconv.Itoa(job.TargetScore),
		},
	}
	if s.subjects != nil {
		if info, err := s.subjects.GetInfo(ctx, job.SubjectID); err == nil {
			payload.SubjectName = info.Title
		}
	}
	s.failureNotifier.NotifyJobFailure(ctx, payload)
}

// RetryDue moves retry jobs whose backoff has elapsed back to pending.
func (s *DispatcherService) RetryDue(ctx context.Context) (int64, error) {
	promoted, err := s.jobs.PromoteDueRetries(ctx, s.batchSize*10)
	if err != nil {
		return 0, fmt.Errorf("promote due retries: %w", err)
	}
	if promoted > 0 {
		s.logger.InfoContext(ctx, "retries promoted", "count", promoted)
	}
	return promoted, nil
}

// Cancel cancels a single queued job.
func (s *DispatcherService) Cancel(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("job id is required")
	}
	cancelled, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if cancelled {
		s.logger.InfoContext(ctx, "job cancelled", "job_id", id)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "cancelled",
			Result:     metrics.ResultSuccess,
		})
	}
	return cancelled, nil
}

// CancelForSubject cancels all queued jobs for a subject and drops its cached
// result. Called when the subject is deleted.
func (s *DispatcherService) CancelForSubject(ctx context.Context, subjectID int64) (int64, error) {
	cancelled, err := s.jobs.CancelForSubject(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs for subject %d: %w", subjectID, err)
	}
	s.invalidateResult(ctx, subjectID)
	if cancelled > 0 {
		s.logger.InfoContext(ctx, "subject jobs cancelled", "subject_id", subjectID, "count", cancelled)
	}
	return cancelled, nil
}

// GetByID returns one job.
func (s *DispatcherService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Status reports the live processing snapshot for the management surface.
func (s *DispatcherService) Status(ctx context.Context) (*model.QueueStatus, error) {
	depth, err := s.jobs.QueueDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue depth: %w", err)
	}

	s.mu.Lock()
	current := s.currentJob
	lastError := s.lastError
	s.mu.Unlock()

	return &model.QueueStatus{
		IsProcessing: s.processing.Load(),
		CurrentJob:   current,
		QueueDepth:   depth,
		LastError:    lastError,
	}, nil
}

// Stats returns aggregate queue statistics.
func (s *DispatcherService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// CachedResult returns the cached optimization result for the subject, or
// nil when none is cached.
func (s *DispatcherService) CachedResult(ctx context.Context, subjectID int64) ([]byte, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.Get(ctx, resultCacheKey(subjectID))
}

// Cleanup reaps stuck processing jobs and prunes old terminal rows.
func (s *DispatcherService) Cleanup(ctx context.Context, params CleanupParams) (*CleanupReport, error) {
	report := &CleanupReport{}

	if params.StuckTimeout > 0 {
		requeued, err := s.jobs.RequeueStuck(ctx, core.RequeueStuckParams{
			Timeout:   params.StuckTimeout,
			BatchSize: params.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("requeue stuck: %w", err)
		}
		report.Requeued = requeued
	}

	if params.MaxAge > 0 {
		deleted, err := s.jobs.DeleteOlderThan(ctx, core.DeleteOldJobsParams{
			MaxAge:    params.MaxAge,
			BatchSize: params.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("delete old jobs: %w", err)
		}
		report.Deleted = deleted
	}

	if report.Requeued > 0 || report.Deleted > 0 {
		s.logger.InfoContext(ctx, "cleanup sweep",
			"requeued", report.Requeued,
			"deleted", report.Deleted,
		)
	}
	return report, nil
}

// CleanupParams groups parameters for Cleanup.
type CleanupParams struct {
	StuckTimeout time.Duration
	MaxAge       time.Duration
	BatchSize    int
}

// CleanupReport summarizes one Cleanup call.
type CleanupReport struct {
	Requeued int64
	Deleted  int64
}

func (s *DispatcherService) cacheResult(ctx context.Context, subjectID int64, encoded []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, resultCacheKey(subjectID), encoded, s.resultTTL); err != nil {
		s.logger.WarnContext(ctx, "cache result failed", "subject_id", subjectID, "error", err)
	}
}

func (s *DispatcherService) invalidateResult(ctx context.Context, subjectID int64) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, resultCacheKey(subjectID)); err != nil {
		s.logger.WarnContext(ctx, "invalidate result failed", "subject_id", subjectID, "error", err)
	}
}

func (s *DispatcherService) setCurrent(id string) {
	s.mu.Lock()
	s.currentJob = id
	s.mu.Unlock()
}

func (s *DispatcherService) setLastError(msg *string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func resultCacheKey(subjectID int64) string {
	return resultCacheKeyPrefix + strconv.FormatInt(subjectID, 10)
}

func resultJSON(result *model.OptimizationResult) ([]byte, error) {
	result.Version = model.PayloadVersion
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return encoded, nil
}
