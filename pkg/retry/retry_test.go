package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusgate/gateway/pkg/gwerrors"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestDoRetriesTransientErrorUntilSuccess(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Jitter: false})

	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return gwerrors.Transient("test", "not yet", nil)
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoDoesNotRetryNonRetryableError(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	attempts := 0
	sentinel := gwerrors.NotFound("test", "missing")
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return sentinel
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts, "a non-retryable error must not be retried")
}

func TestDoDoesNotRetryPlainError(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	attempts := 0
	plain := errors.New("boom")
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return plain
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts, "an error that isn't a *GatewayError is never retried")
}

func TestDoReturnsErrorAfterExhaustingAttempts(t *testing.T) {
	r := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Jitter: false})

	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return gwerrors.Transient("test", "always fails", nil)
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	r := New(Config{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, Jitter: false})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := r.Do(ctx, func(context.Context) error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return gwerrors.Transient("test", "retry me", nil)
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
