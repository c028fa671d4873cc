package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

func TestHub_EmitSubjectSaved_Order(t *testing.T) {
	hub := NewHub(nil)

	var calls []string
	hub.OnSubjectSaved(func(_ context.Context, ev SubjectSavedEvent) error {
		calls = append(calls, "first")
		assert.Equal(t, int64(99), ev.SubjectID)
		return nil
	})
	hub.OnSubjectSaved(func(_ context.Context, _ SubjectSavedEvent) error {
		calls = append(calls, "second")
		return nil
	})

	hub.EmitSubjectSaved(context.Background(), SubjectSavedEvent{
		SubjectID:      99,
		ShouldOptimize: true,
		Priority:       model.JobPriorityNormal,
	})
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestHub_HandlerErrorDoesNotStopOthers(t *testing.T) {
	hub := NewHub(nil)

	var reached bool
	hub.OnCaptureCreated(func(_ context.Context, _ CaptureCreatedEvent) error {
		return errors.New("boom")
	})
	hub.OnCaptureCreated(func(_ context.Context, _ CaptureCreatedEvent) error {
		reached = true
		return nil
	})

	hub.EmitCaptureCreated(context.Background(), CaptureCreatedEvent{CaptureID: 1})
	assert.True(t, reached)
}

func TestHub_EmitWithoutHandlers(t *testing.T) {
	hub := NewHub(nil)
	hub.EmitSubjectDeleted(context.Background(), SubjectDeletedEvent{SubjectID: 5})
	hub.EmitCaptureUpdated(context.Background(), CaptureUpdatedEvent{CaptureID: 5})
}
