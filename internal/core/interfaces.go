// Package core defines the ports between the service layer and its
// collaborators. Services depend on these interfaces, not on the concrete
// data-layer implementations.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// JobRepository defines the durable job store contract.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// PendingDue lists due pending/retry jobs in priority-then-schedule order
	// without claiming them. Management reads only.
	PendingDue(ctx context.Context, limit int) ([]*model.Job, error)
	// ClaimNextBatch atomically moves up to limit due jobs to processing and
	// returns them. Concurrent claimants never receive the same job.
	ClaimNextBatch(ctx context.Context, limit int) ([]*model.Job, error)
	Complete(ctx context.Context, params CompleteJobParams) (bool, error)
	// Fail records a failed attempt: the job moves to retry with a
	// recomputed scheduled_at while attempts remain, otherwise to failed.
	Fail(ctx context.Context, id, errMsg string) (*FailOutcome, error)
	// FailPermanent terminally fails a processing job regardless of remaining
	// attempts. Used when the backend rejected the payload outright.
	FailPermanent(ctx context.Context, id, errMsg string) (*FailOutcome, error)
	// Release returns claimed jobs to pending without recording an attempt.
	// Used when a batch ends before reaching a claimed job.
	Release(ctx context.Context, ids []string) (int64, error)
	// PromoteDueRetries moves retry jobs whose backoff window has passed back
	// to pending.
	PromoteDueRetries(ctx context.Context, limit int) (int64, error)
	HasPending(ctx context.Context, subjectID int64) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	CancelForSubject(ctx context.Context, subjectID int64) (int64, error)
	// RequeueStuck recovers jobs left in processing by a crashed worker.
	RequeueStuck(ctx context.Context, params RequeueStuckParams) (int64, error)
	DeleteOlderThan(ctx context.Context, params DeleteOldJobsParams) (int64, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	QueueDepth(ctx context.Context) (int, error)
}

// CompleteJobParams groups parameters for JobRepository.Complete.
type CompleteJobParams struct {
	ID         string
	Result     json.RawMessage
	Score      int
	Iterations int
}

// FailOutcome reports what Fail did to the row.
type FailOutcome struct {
	// Updated is false when the job was not in processing (already cancelled
	// or completed by another path).
	Updated bool
	// Terminal is true when the job moved to failed rather than retry.
	Terminal bool
	// Attempts is the attempt count after the failure was recorded.
	Attempts int
}

// RequeueStuckParams groups parameters for JobRepository.RequeueStuck.
type RequeueStuckParams struct {
	Timeout   time.Duration
	BatchSize int
}

// DeleteOldJobsParams groups parameters for JobRepository.DeleteOlderThan.
type DeleteOldJobsParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// DeliveryQueueRepository defines the persisted webhook retry queue contract.
type DeliveryQueueRepository interface {
	Enqueue(ctx context.Context, req *model.CreateDeliveryRequest) (*model.WebhookDelivery, error)
	GetByID(ctx context.Context, id string) (*model.WebhookDelivery, error)
	// ListDue returns pending items whose next_retry_at has passed.
	ListDue(ctx context.Context, limit int) ([]*model.WebhookDelivery, error)
	// MarkDelivered deletes the row after a successful delayed delivery.
	MarkDelivered(ctx context.Context, id string) (bool, error)
	// RecordFailure increments attempts and either reschedules the item or
	// marks it terminally failed at the attempt ceiling.
	RecordFailure(ctx context.Context, params RecordDeliveryFailureParams) (*model.WebhookDelivery, error)
	CountPending(ctx context.Context) (int, error)
	DeleteOlderThan(ctx context.Context, params DeleteOldDeliveriesParams) (int64, error)
}

// RecordDeliveryFailureParams groups parameters for RecordFailure.
type RecordDeliveryFailureParams struct {
	ID          string
	Error       string
	NextRetryAt time.Time
	// MaxAttempts is the ceiling after which the item becomes terminal.
	MaxAttempts int
}

// DeleteOldDeliveriesParams groups parameters for DeleteOlderThan.
type DeleteOldDeliveriesParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// CaptureRepository loads capture entities and records delivery metadata.
type CaptureRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Capture, error)
	RecordDelivery(ctx context.Context, id int64, meta model.DeliveryMetadata) error
}

// SubjectRepository answers existence and display questions about the content
// entities jobs reference. The content store itself is an external
// collaborator; this is the narrow view the core needs.
type SubjectRepository interface {
	Exists(ctx context.Context, id int64) (bool, error)
	GetInfo(ctx context.Context, id int64) (*SubjectInfo, error)
}

// SubjectInfo is the slice of subject data included in webhook payloads.
type SubjectInfo struct {
	ID    int64  `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// CacheRepository is the generic result cache collaborator.
type CacheRepository interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	// SetIfNotExists atomically claims a key; used for once-only side effects
	// such as terminal-failure operator notifications.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// AutomationClient sends an optimization job to the external
// workflow-automation service and returns its typed result.
type AutomationClient interface {
	Optimize(ctx context.Context, job *model.Job) (*model.OptimizationResult, error)
}
