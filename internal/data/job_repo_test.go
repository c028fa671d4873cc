package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/job"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/testutil"
)

func testCreateRequest(subjectID int64) *model.CreateJobRequest {
	return &model.CreateJobRequest{
		SubjectID: subjectID,
		Priority:  model.JobPriorityNormal,
		Payload: model.OptimizationPayload{
			Content: model.ContentSection{
				Title: "How to write headlines",
				Body:  "Lorem ipsum dolor sit amet.",
			},
			Analysis: model.AnalysisSection{
				Score:       55,
				TargetScore: 85,
			},
		},
	}
}

func newTestJobRepo(db *sql.DB, tp TimeProvider) *JobRepo {
	return NewJobRepo(db, RepoConfig{
		Retry:        &job.RetryPolicy{Delay: 5 * time.Minute, MaxAttempts: 3},
		TimeProvider: tp,
	})
}

func TestJobRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 10, "post ten")

		created, err := repo.Create(context.Background(), testCreateRequest(10))
		require.NoError(t, err)
		require.NotNil(t, created)

		assert.NotEmpty(t, created.ID)
		assert.Equal(t, int64(10), created.SubjectID)
		assert.Equal(t, model.JobStatusPending, created.Status)
		assert.Equal(t, model.JobPriorityNormal, created.Priority)
		assert.Equal(t, 85, created.TargetScore)
		assert.Equal(t, 55, created.CurrentScore)
		assert.Equal(t, 0, created.Attempts)
		assert.Equal(t, 3, created.MaxAttempts)

		// Stored payload is version-stamped on write.
		p, err := model.DecodePayload(created.Payload)
		require.NoError(t, err)
		assert.Equal(t, model.PayloadVersion, p.Version)
	})
}

func TestJobRepo_Create_DuplicateSubject(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 11, "post eleven")

		_, err := repo.Create(context.Background(), testCreateRequest(11))
		require.NoError(t, err)

		_, err = repo.Create(context.Background(), testCreateRequest(11))
		require.ErrorIs(t, err, model.ErrAlreadyQueued)
	})
}

func TestJobRepo_Create_UnknownSubject(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)

		_, err := repo.Create(context.Background(), testCreateRequest(404))
		require.Error(t, err)
		assert.True(t, model.IsValidation(err))
	})
}

func TestJobRepo_ClaimNextBatch(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)

		testutil.SeedSubject(t, db, 20, "low")
		testutil.SeedSubject(t, db, 21, "high")
		testutil.SeedSubject(t, db, 22, "normal")

		low := testCreateRequest(20)
		low.Priority = model.JobPriorityLow
		high := testCreateRequest(21)
		high.Priority = model.JobPriorityHigh
		normal := testCreateRequest(22)

		for _, req := range []*model.CreateJobRequest{low, high, normal} {
			_, err := repo.Create(context.Background(), req)
			require.NoError(t, err)
		}

		claimed, err := repo.ClaimNextBatch(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, claimed, 3)

		// Highest priority first, lowest last.
		assert.Equal(t, int64(21), claimed[0].SubjectID)
		assert.Equal(t, int64(20), claimed[2].SubjectID)
		for _, j := range claimed {
			assert.Equal(t, model.JobStatusProcessing, j.Status)
			require.NotNil(t, j.StartedAt)
		}

		// Nothing left to claim.
		_, err = repo.ClaimNextBatch(context.Background(), 10)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepo_ClaimNextBatch_SkipsFutureJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 30, "scheduled")

		req := testCreateRequest(30)
		req.ScheduledAt = testutil.TimePtr(time.Now().Add(time.Hour))
		_, err := repo.Create(context.Background(), req)
		require.NoError(t, err)

		_, err = repo.ClaimNextBatch(context.Background(), 10)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepo_Complete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 40, "complete me")

		created, err := repo.Create(context.Background(), testCreateRequest(40))
		require.NoError(t, err)

		claimed, err := repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		updated, err := repo.Complete(context.Background(), core.CompleteJobParams{
			ID:         created.ID,
			Result:     []byte(`{"version":1,"score":90}`),
			Score:      90,
			Iterations: 2,
		})
		require.NoError(t, err)
		assert.True(t, updated)

		got, err := repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Equal(t, 90, got.CurrentScore)
		assert.Equal(t, 2, got.Iterations)
		require.NotNil(t, got.CompletedAt)
		assert.Nil(t, got.LastError)

		// Completing again is a no-op since the job left processing.
		updated, err = repo.Complete(context.Background(), core.CompleteJobParams{ID: created.ID})
		require.NoError(t, err)
		assert.False(t, updated)
	})
}

func TestJobRepo_Fail_LinearBackoff(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := newTestJobRepo(db, tp)
		testutil.SeedSubject(t, db, 50, "flaky")

		created, err := repo.Create(context.Background(), testCreateRequest(50))
		require.NoError(t, err)

		// First failure: retry scheduled delay*1 out.
		_, err = repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)
		outcome, err := repo.Fail(context.Background(), created.ID, "automation unreachable")
		require.NoError(t, err)
		assert.True(t, outcome.Updated)
		assert.False(t, outcome.Terminal)
		assert.Equal(t, 1, outcome.Attempts)

		got, err := repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRetry, got.Status)
		assert.WithinDuration(t, testutil.TestTime().Add(5*time.Minute), got.ScheduledAt, time.Second)

		// Second failure: delay*2.
		tp.AddTime(6 * time.Minute)
		promoted, err := repo.PromoteDueRetries(context.Background(), 10)
		require.NoError(t, err)
		assert.EqualValues(t, 1, promoted)

		_, err = repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)
		outcome, err = repo.Fail(context.Background(), created.ID, "automation unreachable")
		require.NoError(t, err)
		assert.False(t, outcome.Terminal)
		assert.Equal(t, 2, outcome.Attempts)

		got, err = repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, tp.Now().Add(10*time.Minute), got.ScheduledAt, time.Second)

		// Third failure exhausts the ceiling.
		tp.AddTime(11 * time.Minute)
		_, err = repo.PromoteDueRetries(context.Background(), 10)
		require.NoError(t, err)
		_, err = repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)
		outcome, err = repo.Fail(context.Background(), created.ID, "automation unreachable")
		require.NoError(t, err)
		assert.True(t, outcome.Terminal)
		assert.Equal(t, 3, outcome.Attempts)

		got, err = repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.FailedAt)
		require.NotNil(t, got.LastError)
	})
}

func TestJobRepo_Release(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 55, "release me")

		created, err := repo.Create(context.Background(), testCreateRequest(55))
		require.NoError(t, err)
		_, err = repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)

		released, err := repo.Release(context.Background(), []string{created.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 1, released)

		// Back to pending with no attempt burned and no stale start marker.
		got, err := repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Zero(t, got.Attempts)
		assert.Nil(t, got.StartedAt)

		// Released jobs are immediately claimable again.
		claimed, err := repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, created.ID, claimed[0].ID)

		// Only processing rows move; a second release is a no-op.
		released, err = repo.Release(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, released)
	})
}

func TestJobRepo_FailPermanent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 56, "rejected")

		created, err := repo.Create(context.Background(), testCreateRequest(56))
		require.NoError(t, err)
		_, err = repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)

		outcome, err := repo.FailPermanent(context.Background(), created.ID, "endpoint returned status 422")
		require.NoError(t, err)
		assert.True(t, outcome.Updated)
		assert.True(t, outcome.Terminal)
		assert.Equal(t, 1, outcome.Attempts)

		// Terminal on the first strike even with attempts left.
		got, err := repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.FailedAt)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "endpoint returned status 422", *got.LastError)

		// The job already left processing, so a repeat is a no-op.
		outcome, err = repo.FailPermanent(context.Background(), created.ID, "endpoint returned status 422")
		require.NoError(t, err)
		assert.False(t, outcome.Updated)
	})
}

func TestJobRepo_Cancel(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 60, "cancel me")

		created, err := repo.Create(context.Background(), testCreateRequest(60))
		require.NoError(t, err)

		cancelled, err := repo.Cancel(context.Background(), created.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)

		got, err := repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, got.Status)

		// Cancelled jobs release the subject slot for a fresh enqueue.
		_, err = repo.Create(context.Background(), testCreateRequest(60))
		require.NoError(t, err)
	})
}

func TestJobRepo_Cancel_ProcessingNotCancellable(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 61, "busy")

		created, err := repo.Create(context.Background(), testCreateRequest(61))
		require.NoError(t, err)
		_, err = repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)

		cancelled, err := repo.Cancel(context.Background(), created.ID)
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}

func TestJobRepo_CancelForSubject(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 62, "deleted subject")

		_, err := repo.Create(context.Background(), testCreateRequest(62))
		require.NoError(t, err)

		n, err := repo.CancelForSubject(context.Background(), 62)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestJobRepo_HasPending(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 70, "pending check")

		has, err := repo.HasPending(context.Background(), 70)
		require.NoError(t, err)
		assert.False(t, has)

		_, err = repo.Create(context.Background(), testCreateRequest(70))
		require.NoError(t, err)

		has, err = repo.HasPending(context.Background(), 70)
		require.NoError(t, err)
		assert.True(t, has)
	})
}

func TestJobRepo_RequeueStuck(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := newTestJobRepo(db, tp)
		testutil.SeedSubject(t, db, 80, "stuck")

		created, err := repo.Create(context.Background(), testCreateRequest(80))
		require.NoError(t, err)
		_, err = repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)

		// Not stuck yet.
		n, err := repo.RequeueStuck(context.Background(), core.RequeueStuckParams{Timeout: 10 * time.Minute})
		require.NoError(t, err)
		assert.Zero(t, n)

		tp.AddTime(15 * time.Minute)
		n, err = repo.RequeueStuck(context.Background(), core.RequeueStuckParams{Timeout: 10 * time.Minute})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		got, err := repo.GetByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRetry, got.Status)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "timeout", *got.LastError)
	})
}

func TestJobRepo_DeleteOlderThan(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := newTestJobRepo(db, tp)
		testutil.SeedSubject(t, db, 90, "old")

		created, err := repo.Create(context.Background(), testCreateRequest(90))
		require.NoError(t, err)
		cancelled, err := repo.Cancel(context.Background(), created.ID)
		require.NoError(t, err)
		require.True(t, cancelled)

		tp.AddTime(48 * time.Hour)
		n, err := repo.DeleteOlderThan(context.Background(), core.DeleteOldJobsParams{MaxAge: 24 * time.Hour})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = repo.GetByID(context.Background(), created.ID)
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobRepo_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 100, "stats a")
		testutil.SeedSubject(t, db, 101, "stats b")

		a, err := repo.Create(context.Background(), testCreateRequest(100))
		require.NoError(t, err)
		_, err = repo.Create(context.Background(), testCreateRequest(101))
		require.NoError(t, err)

		claimed, err := repo.ClaimNextBatch(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, a.ID, claimed[0].ID)
		_, err = repo.Complete(context.Background(), core.CompleteJobParams{
			ID: a.ID, Result: []byte(`{"version":1,"score":92}`), Score: 92, Iterations: 1,
		})
		require.NoError(t, err)

		stats, err := repo.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 1, stats.Completed)
		assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)
		// Completed job started at 55 and finished at 92.
		assert.InDelta(t, 37.0, stats.AvgScoreDelta, 0.001)
	})
}

func TestJobRepo_QueueDepth(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)
		testutil.SeedSubject(t, db, 110, "depth")

		depth, err := repo.QueueDepth(context.Background())
		require.NoError(t, err)
		assert.Zero(t, depth)

		_, err = repo.Create(context.Background(), testCreateRequest(110))
		require.NoError(t, err)

		depth, err = repo.QueueDepth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, depth)
	})
}
