package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "auditpoller/pkg/errors"
	"auditpoller/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{6, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterStaysInBounds(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 140*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
	}
}

func serverErr() error {
	return &errs.Error{Type: errs.ErrorTypeServerError, Message: "boom", Code: 503}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return serverErr()
		}
		return nil
	}, &Config{
		MaxAttempts: 5,
		Backoff:     &ExponentialBackoff{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Logger:      logger.NewTestLogger(),
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoSingleAttemptReturnsErrorUnchanged(t *testing.T) {
	attempts := 0
	want := serverErr()
	err := Do(context.Background(), func() error {
		attempts++
		return want
	}, &Config{MaxAttempts: 1})

	assert.Same(t, want, err)
	assert.Equal(t, 1, attempts)
}

func TestDoMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func() error {
		attempts++
		return serverErr()
	}, &Config{MaxAttempts: 3, Backoff: &ExponentialBackoff{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))
}

func TestDoNonRetryableError(t *testing.T) {
	attempts := 0
	authErr := &errs.Error{Type: errs.ErrorTypeAuth, Message: "bad keys", Code: 401}

	err := Do(context.Background(), func() error {
		attempts++
		return authErr
	}, &Config{MaxAttempts: 5, Backoff: &ExponentialBackoff{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}})

	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, attempts)
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, func() error {
		attempts++
		cancel()
		return serverErr()
	}, &Config{MaxAttempts: 5, Backoff: &ExponentialBackoff{BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, attempts)
}

func TestDefaultRetryIf(t *testing.T) {
	assert.False(t, DefaultRetryIf(nil))
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.False(t, DefaultRetryIf(errors.New("untyped")))
	assert.True(t, DefaultRetryIf(serverErr()))
	assert.True(t, DefaultRetryIf(&errs.Error{Type: errs.ErrorTypeNetwork}))
	assert.False(t, DefaultRetryIf(&errs.Error{Type: errs.ErrorTypeParsing}))
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Minute), context.Canceled)
}
