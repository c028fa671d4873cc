package model

import (
	"errors"
	"fmt"
)

// TransientDeliveryError marks a network error, timeout, or 5xx response.
// Transient failures are retried with backoff up to the configured ceiling.
type TransientDeliveryError struct {
	StatusCode int
	Err        error
}

func (e *TransientDeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient delivery failure: status %d", e.StatusCode)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError marks a 4xx response. Permanent failures are
// recorded immediately and never retried.
type PermanentDeliveryError struct {
	StatusCode int
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("permanent delivery failure: status %d", e.StatusCode)
}

// IsTransientDelivery reports whether err is a TransientDeliveryError.
func IsTransientDelivery(err error) bool {
	var te *TransientDeliveryError
	return errors.As(err, &te)
}

// IsPermanentDelivery reports whether err is a PermanentDeliveryError.
func IsPermanentDelivery(err error) bool {
	var pe *PermanentDeliveryError
	return errors.As(err, &pe)
}

// ClassifyStatus maps an HTTP response code onto the delivery error taxonomy.
// 2xx returns nil, 4xx is permanent, everything else is transient.
func ClassifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500:
		return &PermanentDeliveryError{StatusCode: code}
	default:
		return &TransientDeliveryError{StatusCode: code}
	}
}
