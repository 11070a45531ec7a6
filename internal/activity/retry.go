package activity

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/velodata/cycling-data-aggregation/internal/common"
)

// RetryPolicy wraps a fallible source operation with bounded retries and
// exponential backoff with jitter. The delay is applied before the next
// attempt, never before the first.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the backoff base: delay = BaseDelay * 2^attempt + jitter.
	BaseDelay time.Duration
	// MaxJitter bounds the random jitter added to each delay.
	MaxJitter time.Duration

	// sleep and jitter are injectable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewRetryPolicy returns a policy with the given bounds and default jitter of
// up to 500ms. maxRetries <= 0 falls back to 3 (four total attempts).
func NewRetryPolicy(maxRetries int, baseDelay time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxJitter:  500 * time.Millisecond,
		sleep:      sleepCtx,
		jitter:     rand.Float64,
	}
}

// WithSleep returns a copy of the policy using the given sleep function.
// Tests use this to make backoff instantaneous and observable.
func (p RetryPolicy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryPolicy {
	p.sleep = sleep
	return p
}

// decision is the tagged outcome of classifying one failed attempt. Expected
// backoff conditions are values here, not exceptions bubbling through the
// call stack.
type decision int

const (
	retryBackoff decision = iota // transient: delay = base * 2^attempt
	retryLong                    // rate limited: delay = base * 3^attempt
	stop                         // terminal: surface the error as-is
)

// Do runs op until it succeeds, a terminal error occurs, or attempts are
// exhausted. Typed auth and rate-limit errors are never masked; generic
// failures that survive every attempt come back wrapped in
// RetriesExhaustedError.
func (p RetryPolicy) Do(ctx context.Context, name SourceName, op func(ctx context.Context) (SourcePayload, error)) (SourcePayload, error) {
	attempts := p.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return SourcePayload{}, &TransientError{Source: name, Msg: "run cancelled", Err: err}
		}

		payload, err := op(ctx)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		switch classify(err) {
		case stop:
			log.Printf("%s: not retrying: %v", name, err)
			return SourcePayload{}, err
		case retryLong:
			if attempt == attempts-1 {
				// 429 on the final attempt surfaces as the rate-limit error
				// itself so the orchestrator can tell it apart.
				return SourcePayload{}, err
			}
			if werr := p.wait(ctx, p.delay(attempt, 3)); werr != nil {
				return SourcePayload{}, &TransientError{Source: name, Msg: "backoff interrupted", Err: werr}
			}
		default:
			if attempt == attempts-1 {
				break
			}
			if werr := p.wait(ctx, p.delay(attempt, 2)); werr != nil {
				return SourcePayload{}, &TransientError{Source: name, Msg: "backoff interrupted", Err: werr}
			}
		}
		log.Printf("%s: attempt %d/%d failed: %v", name, attempt+1, attempts, err)
	}

	return SourcePayload{}, &RetriesExhaustedError{Attempts: attempts, Last: lastErr}
}

func (p RetryPolicy) delay(attempt int, factor float64) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(attempt)))
	return d + time.Duration(p.jitter()*float64(p.MaxJitter))
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	log.Printf("waiting %s before retry", d.Round(time.Millisecond))
	return p.sleep(ctx, d)
}

// classify maps a failed attempt to a retry decision. Auth failures are
// terminal, daily-ceiling rate limits are terminal, other rate limits back
// off longer, 4xx client errors are terminal, everything else is assumed
// transient unless its text reads like an authentication failure.
func classify(err error) decision {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return stop
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		if rlErr.Daily {
			return stop
		}
		return retryLong
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return stop
	}

	// An open circuit will not close within one run's retry budget.
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return stop
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return retryBackoff
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retryBackoff
	}

	if common.HasAny(strings.ToLower(err.Error()), "authentication", "unauthorized") {
		return stop
	}
	return retryBackoff
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
