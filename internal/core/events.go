package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// SubjectSavedEvent fires when a content subject is created or updated.
type SubjectSavedEvent struct {
	SubjectID int64
	// ShouldOptimize is false when the save should not trigger a job, for
	// example autosaves or subjects excluded by site settings.
	ShouldOptimize bool
	Priority       model.JobPriority
	Payload        model.OptimizationPayload
}

// SubjectDeletedEvent fires when a content subject is removed.
type SubjectDeletedEvent struct {
	SubjectID int64
}

// CaptureCreatedEvent fires when a new capture is stored.
type CaptureCreatedEvent struct {
	CaptureID int64
}

// CaptureUpdatedEvent fires when an existing capture's file is replaced.
type CaptureUpdatedEvent struct {
	CaptureID int64
}

// Hub is the typed in-process event bus. Producers emit concrete event
// structs and consumers register typed handlers at wiring time, so a
// misspelled subscription is a compile error rather than a silent no-op.
// Handlers run synchronously in registration order; a handler error is
// logged and does not stop later handlers.
type Hub struct {
	log *slog.Logger

	mu             sync.RWMutex
	subjectSaved   []func(context.Context, SubjectSavedEvent) error
	subjectDeleted []func(context.Context, SubjectDeletedEvent) error
	captureCreated []func(context.Context, CaptureCreatedEvent) error
	captureUpdated []func(context.Context, CaptureUpdatedEvent) error
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log.With("component", "event_hub")}
}

// OnSubjectSaved registers a handler for subject save events.
func (h *Hub) OnSubjectSaved(fn func(context.Context, SubjectSavedEvent) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subjectSaved = append(h.subjectSaved, fn)
}

// OnSubjectDeleted registers a handler for subject delete events.
func (h *Hub) OnSubjectDeleted(fn func(context.Context, SubjectDeletedEvent) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subjectDeleted = append(h.subjectDeleted, fn)
}

// OnCaptureCreated registers a handler for capture create events.
func (h *Hub) OnCaptureCreated(fn func(context.Context, CaptureCreatedEvent) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captureCreated = append(h.captureCreated, fn)
}

// OnCaptureUpdated registers a handler for capture update events.
func (h *Hub) OnCaptureUpdated(fn func(context.Context, CaptureUpdatedEvent) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.captureUpdated = append(h.captureUpdated, fn)
}

// EmitSubjectSaved delivers the event to every registered handler.
func (h *Hub) EmitSubjectSaved(ctx context.Context, ev SubjectSavedEvent) {
	h.mu.RLock()
	handlers := h.subjectSaved
	h.mu.RUnlock()
	for _, fn := range handlers {
		if err := fn(ctx, ev); err != nil {
			h.log.Error("subject saved handler failed", "subject_id", ev.SubjectID, "error", err)
		}
	}
}

// EmitSubjectDeleted delivers the event to every registered handler.
func (h *Hub) EmitSubjectDeleted(ctx context.Context, ev SubjectDeletedEvent) {
	h.mu.RLock()
	handlers := h.subjectDeleted
	h.mu.RUnlock()
	for _, fn := range handlers {
		if err := fn(ctx, ev); err != nil {
			h.log.Error("subject deleted handler failed", "subject_id", ev.SubjectID, "error", err)
		}
	}
}

// EmitCaptureCreated delivers the event to every registered handler.
func (h *Hub) EmitCaptureCreated(ctx context.Context, ev CaptureCreatedEvent) {
	h.mu.RLock()
	handlers := h.captureCreated
	h.mu.RUnlock()
	for _, fn := range handlers {
		if err := fn(ctx, ev); err != nil {
			h.log.Error("capture created handler failed", "capture_id", ev.CaptureID, "error", err)
		}
	}
}

// EmitCaptureUpdated delivers the event to every registered handler.
func (h *Hub) EmitCaptureUpdated(ctx context.Context, ev CaptureUpdatedEvent) {
	h.mu.RLock()
	handlers := h.captureUpdated
	h.mu.RUnlock()
	for _, fn := range handlers {
		if err := fn(ctx, ev); err != nil {
			h.log.Error("capture updated handler failed", "capture_id", ev.CaptureID, "error", err)
		}
	}
}
