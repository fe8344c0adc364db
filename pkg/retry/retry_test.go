package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var retries []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
		assert.Error(t, err)
		assert.Positive(t, delay)
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("bind: address in use")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	base := errors.New("persistent error")
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return base
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryable(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return NonRetryable(errors.New("protocol not supported"))
	})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, attempts)
	assert.Nil(t, NonRetryable(nil))
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 5)
}

func TestDo_InvalidConfig(t *testing.T) {
	tests := []Config{
		{InitialDelay: -1},
		{MaxDelay: -1},
		{Multiplier: -1},
		{InitialDelay: time.Second, MaxDelay: time.Millisecond},
	}
	for _, cfg := range tests {
		called := false
		err := Do(context.Background(), cfg, func() error { called = true; return nil })
		assert.Error(t, err)
		assert.False(t, called)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	fd, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		attempts++
		if attempts == 1 {
			return -1, errors.New("try again")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, fd)
}

func TestPresets(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), Quick()} {
		n, err := cfg.normalized()
		require.NoError(t, err)
		assert.Positive(t, n.MaxAttempts)
	}
}
