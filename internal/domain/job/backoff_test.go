package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRetryPolicy(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p, err := NewRetryPolicy(5*time.Minute, 3)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, p.Delay)
		assert.Equal(t, 3, p.MaxAttempts)
	})

	t.Run("zero delay", func(t *testing.T) {
		_, err := NewRetryPolicy(0, 3)
		require.Error(t, err)
	})

	t.Run("zero attempts", func(t *testing.T) {
		_, err := NewRetryPolicy(time.Minute, 0)
		require.Error(t, err)
	})
}

func TestRetryPolicy_NextDelay_Linear(t *testing.T) {
	p, err := NewRetryPolicy(5*time.Minute, 3)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, p.NextDelay(1))
	assert.Equal(t, 10*time.Minute, p.NextDelay(2))
	assert.Equal(t, 15*time.Minute, p.NextDelay(3))

	// Defensive clamp for nonsense input.
	assert.Equal(t, 5*time.Minute, p.NextDelay(0))
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p, err := NewRetryPolicy(time.Minute, 3)
	require.NoError(t, err)

	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}

func TestDeliveryBackoff_NextDelay_Exponential(t *testing.T) {
	b, err := NewDeliveryBackoff(time.Minute, 10)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, b.NextDelay(1))
	assert.Equal(t, 4*time.Minute, b.NextDelay(2))
	assert.Equal(t, 8*time.Minute, b.NextDelay(3))
	assert.Equal(t, 1024*time.Minute, b.NextDelay(10))
}

func TestDeliveryBackoff_NextDelay_Capped(t *testing.T) {
	b, err := NewDeliveryBackoff(time.Minute, 10)
	require.NoError(t, err)

	// 2^20 minutes would be ~2 years; the cap keeps schedules sane.
	assert.Equal(t, b.MaxDelay, b.NextDelay(20))
	assert.Equal(t, b.MaxDelay, b.NextDelay(64))
	assert.Equal(t, b.MaxDelay, b.NextDelay(1000))
}

func TestDeliveryBackoff_NextDelay_NeverNegative(t *testing.T) {
	// Even without a cap the overflow guard must keep delays positive so a
	// queued item can never be scheduled in the past.
	b := &DeliveryBackoff{Base: time.Minute}
	assert.Positive(t, b.NextDelay(33))
	assert.Positive(t, b.NextDelay(64))
	assert.Positive(t, b.NextDelay(1000))
}

func TestDeliveryBackoff_Exhausted(t *testing.T) {
	b, err := NewDeliveryBackoff(time.Minute, 10)
	require.NoError(t, err)

	assert.False(t, b.Exhausted(9))
	assert.True(t, b.Exhausted(10))
}

func TestImmediateBackoff(t *testing.T) {
	assert.Equal(t, 1*time.Second, ImmediateBackoff(1))
	assert.Equal(t, 2*time.Second, ImmediateBackoff(2))
	assert.Equal(t, 4*time.Second, ImmediateBackoff(3))
	assert.Equal(t, 1*time.Second, ImmediateBackoff(0))
}
