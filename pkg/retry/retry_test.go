package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDo(t *testing.T) {
	t.Run("succeeds without retrying", func(t *testing.T) {
		p := Policy{MaxAttempts: 3}
		calls := 0
		err := p.Do(context.Background(), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts exactly max attempts", func(t *testing.T) {
		p := Policy{MaxAttempts: 3}
		calls := 0
		failure := errors.New("pairing code request failed")
		err := p.Do(context.Background(), func() error {
			calls++
			return failure
		})
		assert.ErrorIs(t, err, failure)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on first success after failures", func(t *testing.T) {
		p := Policy{MaxAttempts: 5}
		calls := 0
		err := p.Do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error aborts early", func(t *testing.T) {
		permanent := errors.New("logged out")
		p := Policy{
			MaxAttempts: 4,
			Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
		}
		calls := 0
		err := p.Do(context.Background(), func() error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("canceled context stops between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := Policy{
			MaxAttempts: 3,
			Backoff:     func(int) time.Duration { return time.Hour },
		}
		calls := 0
		go cancel()
		err := p.Do(ctx, func() error {
			calls++
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestLinearRemaining(t *testing.T) {
	backoff := LinearRemaining(2*time.Second, 3)

	assert.Equal(t, 4*time.Second, backoff(1))
	assert.Equal(t, 2*time.Second, backoff(2))
	// Never below one base unit, even past the last attempt.
	assert.Equal(t, 2*time.Second, backoff(3))
}
