package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func testPolicy(maxRetries int) (RetryPolicy, *[]time.Duration) {
	slept := &[]time.Duration{}
	p := RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
		jitter: func() float64 { return 0 },
	}
	return p, slept
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p, slept := testPolicy(3)

	calls := 0
	payload, err := p.Do(context.Background(), SourcePeloton, func(context.Context) (SourcePayload, error) {
		calls++
		if calls <= 2 {
			return SourcePayload{}, &TransientError{Source: SourcePeloton, Msg: "connection reset"}
		}
		return SourcePayload{Source: SourcePeloton, TotalMiles: 42}, nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 42.0, payload.TotalMiles)

	// Exponential backoff: base*2^0, base*2^1.
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestDoFirstSuccessNeedsNoSleep(t *testing.T) {
	p, slept := testPolicy(3)

	calls := 0
	_, err := p.Do(context.Background(), SourceStrava, func(context.Context) (SourcePayload, error) {
		calls++
		return SourcePayload{Source: SourceStrava}, nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, *slept)
}

func TestDoAuthErrorIsTerminal(t *testing.T) {
	p, slept := testPolicy(3)

	calls := 0
	_, err := p.Do(context.Background(), SourcePeloton, func(context.Context) (SourcePayload, error) {
		calls++
		return SourcePayload{}, &AuthError{Source: SourcePeloton, Msg: "bad session"}
	})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, 1, calls, "auth failures must not be retried")
	require.Empty(t, *slept)
}

func TestDoClientErrorIsTerminal(t *testing.T) {
	p, _ := testPolicy(3)

	calls := 0
	_, err := p.Do(context.Background(), SourceStrava, func(context.Context) (SourcePayload, error) {
		calls++
		return SourcePayload{}, &ClientError{Source: SourceStrava, StatusCode: 404, Msg: "not found"}
	})

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, 1, calls)
}

func TestDoDailyRateLimitIsTerminal(t *testing.T) {
	p, slept := testPolicy(3)

	calls := 0
	_, err := p.Do(context.Background(), SourceStrava, func(context.Context) (SourcePayload, error) {
		calls++
		return SourcePayload{}, &RateLimitError{Source: SourceStrava, Msg: "daily limit exceeded", Daily: true}
	})

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	require.True(t, rlErr.Daily)
	require.Equal(t, 1, calls)
	require.Empty(t, *slept)
}

func TestDoWindowRateLimitBacksOffLonger(t *testing.T) {
	p, slept := testPolicy(2)

	calls := 0
	_, err := p.Do(context.Background(), SourceStrava, func(context.Context) (SourcePayload, error) {
		calls++
		return SourcePayload{}, &RateLimitError{Source: SourceStrava, Msg: "too many requests"}
	})

	// Exhausted 429s surface as the rate-limit error itself, not a generic
	// exhaustion wrapper.
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	require.False(t, rlErr.Daily)

	var exhausted *RetriesExhaustedError
	require.False(t, errors.As(err, &exhausted))

	require.Equal(t, 3, calls)
	// Longer backoff for rate limits: base*3^0, base*3^1.
	require.Equal(t, []time.Duration{time.Second, 3 * time.Second}, *slept)
}

func TestDoTransientExhaustionWrapsLastError(t *testing.T) {
	p, _ := testPolicy(2)

	last := &TransientError{Source: SourcePeloton, Msg: "upstream 503"}
	calls := 0
	_, err := p.Do(context.Background(), SourcePeloton, func(context.Context) (SourcePayload, error) {
		calls++
		return SourcePayload{}, last
	})

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.ErrorIs(t, err, last)
	require.Equal(t, 3, calls)
}

func TestDoOpenBreakerIsTerminal(t *testing.T) {
	p, _ := testPolicy(3)

	calls := 0
	_, err := p.Do(context.Background(), SourcePeloton, func(context.Context) (SourcePayload, error) {
		calls++
		return SourcePayload{}, gobreaker.ErrOpenState
	})

	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, 1, calls)
}

func TestDoAuthLikeMessageIsTerminal(t *testing.T) {
	p, _ := testPolicy(3)

	calls := 0
	_, err := p.Do(context.Background(), SourcePeloton, func(context.Context) (SourcePayload, error) {
		calls++
		return SourcePayload{}, errors.New("request rejected: Unauthorized")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls, "errors that read like auth failures must not be retried")
}

func TestDoCancelledContextStopsRetrying(t *testing.T) {
	p, _ := testPolicy(5)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := p.Do(ctx, SourcePeloton, func(context.Context) (SourcePayload, error) {
		calls++
		cancel()
		return SourcePayload{}, &TransientError{Source: SourcePeloton, Msg: "flaky"}
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(0, 0)
	require.Equal(t, 3, p.MaxRetries)
	require.Equal(t, time.Second, p.BaseDelay)
	require.Equal(t, 500*time.Millisecond, p.MaxJitter)
}

func TestDelayIncludesJitter(t *testing.T) {
	p := NewRetryPolicy(3, time.Second)
	p.jitter = func() float64 { return 1 }
	require.Equal(t, time.Second+500*time.Millisecond, p.delay(0, 2))
	require.Equal(t, 2*time.Second+500*time.Millisecond, p.delay(1, 2))
}
