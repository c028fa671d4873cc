// Package job holds scheduling policy types shared by the dispatcher and the
// webhook delivery queue. The two retry policies are deliberately distinct:
// optimization jobs back off linearly while webhook deliveries back off
// exponentially, each with its own configuration.
package job

import (
	"errors"
	"math"
	"time"
)

// RetryPolicy computes linear retry delays for optimization jobs:
// delay(n) = Delay * n for the n-th failed attempt.
type RetryPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewRetryPolicy validates and constructs a RetryPolicy.
func NewRetryPolicy(delay time.Duration, maxAttempts int) (*RetryPolicy, error) {
	if delay <= 0 {
		return nil, errors.New("retry delay must be positive")
	}
	if maxAttempts < 1 {
		return nil, errors.New("max attempts must be >= 1")
	}
	return &RetryPolicy{Delay: delay, MaxAttempts: maxAttempts}, nil
}

// NextDelay returns the wait before the given failed attempt may run again.
// attempts counts failures so far, including the one that just happened.
func (p *RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return p.Delay * time.Duration(attempts)
}

// Exhausted reports whether the job has no retries left.
func (p *RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// DeliveryBackoff computes exponential retry delays for queued webhook
// deliveries: delay(n) = 2^n * Base, capped at MaxDelay.
type DeliveryBackoff struct {
	Base        time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// NewDeliveryBackoff validates and constructs a DeliveryBackoff.
func NewDeliveryBackoff(base time.Duration, maxAttempts int) (*DeliveryBackoff, error) {
	if base <= 0 {
		return nil, errors.New("base interval must be positive")
	}
	if maxAttempts < 1 {
		return nil, errors.New("max attempts must be >= 1")
	}
	return &DeliveryBackoff{
		Base:        base,
		MaxDelay:    24 * time.Hour,
		MaxAttempts: maxAttempts,
	}, nil
}

// NextDelay returns the wait before a queued item with the given attempt
// count becomes due again.
func (b *DeliveryBackoff) NextDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 1<<63 is undefined for int64, and Base * 2^attempts overflows long
	// before that for minute-scale bases. Check the product against MaxInt64
	// before multiplying so the delay can never go negative.
	const maxExponent = 62
	if attempts > maxExponent {
		attempts = maxExponent
	}
	factor := int64(1) << uint(attempts)
	d := time.Duration(math.MaxInt64)
	if b.Base <= time.Duration(math.MaxInt64/factor) {
		d = b.Base * time.Duration(factor)
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Exhausted reports whether the item has reached the retry ceiling.
func (b *DeliveryBackoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}

// ImmediateBackoff returns the sleep used between in-call send attempts:
// 2^(attempt-1) seconds for attempt numbers starting at 1.
func ImmediateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
}
