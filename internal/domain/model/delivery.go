package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DeliveryStatus represents the state of a queued webhook delivery.
type DeliveryStatus string

const (
	// DeliveryStatusPending indicates the item is awaiting its next retry window.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusFailed indicates the item exhausted its attempts and will
	// never be retried again.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// ErrDeliveryNotFound is returned when a delivery queue row is not found.
var ErrDeliveryNotFound = errors.New("webhook delivery not found")

// Valid returns true if the DeliveryStatus is in the enumerated set.
func (s DeliveryStatus) Valid() bool {
	return s == DeliveryStatusPending || s == DeliveryStatusFailed
}

// WebhookDelivery is one pending or permanently failed notification send.
// Rows are created only when an immediate send fails with a transient error,
// deleted on successful delayed delivery, and left as terminal failed rows
// otherwise.
type WebhookDelivery struct {
	ID             string          `json:"id"                       db:"id"`
	CaptureID      int64           `json:"capture_id"               db:"capture_id"`
	DestinationURL string          `json:"destination_url"          db:"destination_url"`
	Payload        json.RawMessage `json:"payload"                  db:"payload"`
	Attempts       int             `json:"attempts"                 db:"attempts"`
	Status         DeliveryStatus  `json:"status"                   db:"status"`
	LastError      *string         `json:"last_error,omitempty"     db:"last_error"`
	NextRetryAt    time.Time       `json:"next_retry_at"            db:"next_retry_at"`
	CreatedAt      time.Time       `json:"created_at"               db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"               db:"updated_at"`
}

// CreateDeliveryRequest represents a request to enqueue a failed send for
// delayed redelivery.
type CreateDeliveryRequest struct {
	CaptureID      int64
	DestinationURL string
	Payload        json.RawMessage
	LastError      string
	NextRetryAt    time.Time
}

// Validate validates the CreateDeliveryRequest fields.
func (r *CreateDeliveryRequest) Validate() error {
	if r.CaptureID <= 0 {
		return &ValidationError{Field: "capture_id", Reason: "must reference an existing capture"}
	}
	if err := validateDestinationURL(r.DestinationURL); err != nil {
		return err
	}
	if len(r.Payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "payload is required"}
	}
	return nil
}

func validateDestinationURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &ValidationError{Field: "destination_url", Reason: "destination url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "destination_url", Reason: fmt.Sprintf("%q is not an http(s) url", raw)}
	}
	return nil
}

// SendOutcome classifies the result of a webhook send attempt.
type SendOutcome string

const (
	// SendOutcomeDelivered means the receiver acknowledged with 2xx.
	SendOutcomeDelivered SendOutcome = "delivered"
	// SendOutcomeQueued means immediate attempts failed transiently and the
	// payload was persisted for delayed redelivery.
	SendOutcomeQueued SendOutcome = "queued"
	// SendOutcomeRejected means the receiver answered 4xx; nothing is queued.
	SendOutcomeRejected SendOutcome = "rejected"
	// SendOutcomeSkipped means the destination filter declined the payload.
	SendOutcomeSkipped SendOutcome = "skipped"
)

// SendResult reports what happened to a webhook send.
type SendResult struct {
	Outcome    SendOutcome `json:"outcome"`
	StatusCode int         `json:"status_code,omitempty"`
	Attempts   int         `json:"attempts"`
	Error      string      `json:"error,omitempty"`
}

// Delivered reports whether the receiver acknowledged the payload.
func (r SendResult) Delivered() bool {
	return r.Outcome == SendOutcomeDelivered
}
