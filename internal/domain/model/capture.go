package model

import (
	"errors"
	"time"
)

// CaptureKind is the artifact type of a capture.
type CaptureKind string

const (
	// CaptureKindVideo is a recorded screen or camera video.
	CaptureKindVideo CaptureKind = "video"
	// CaptureKindAudio is a recorded audio clip.
	CaptureKindAudio CaptureKind = "audio"
	// CaptureKindScreenshot is a still screenshot.
	CaptureKindScreenshot CaptureKind = "screenshot"
)

// ErrCaptureNotFound is returned when a capture is not found.
var ErrCaptureNotFound = errors.New("capture not found")

// Valid returns true if the CaptureKind is in the enumerated set.
func (k CaptureKind) Valid() bool {
	return k == CaptureKindVideo || k == CaptureKindAudio || k == CaptureKindScreenshot
}

// Capture is a recorded artifact whose creation triggers a webhook
// notification. SubjectID links the capture to the content entity it was
// recorded against, when there is one.
type Capture struct {
	ID              int64       `json:"id"                          db:"id"`
	Kind            CaptureKind `json:"kind"                        db:"kind"`
	Title           string      `json:"title"                       db:"title"`
	FileURL         string      `json:"file_url"                    db:"file_url"`
	DurationSeconds int         `json:"duration_seconds,omitempty"  db:"duration_seconds"`
	SubjectID       *int64      `json:"subject_id,omitempty"        db:"subject_id"`
	ActorID         int64       `json:"actor_id"                    db:"actor_id"`
	ActorName       string      `json:"actor_name,omitempty"        db:"actor_name"`
	DeliveredAt     *time.Time  `json:"delivered_at,omitempty"      db:"delivered_at"`
	DeliveryStatus  *string     `json:"delivery_status,omitempty"   db:"delivery_status"`
	CreatedAt       time.Time   `json:"created_at"                  db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"                  db:"updated_at"`
}

// DeliveryMetadata records the outcome of the most recent webhook send on the
// capture entity itself.
type DeliveryMetadata struct {
	Status      string
	DeliveredAt time.Time
}
