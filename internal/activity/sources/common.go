// Package sources adapts the upstream clients into the orchestrator's Source
// contract: one fallible unit of work per source combining authentication,
// pacing and the data fetch, bounded by a wall-clock timeout and guarded by a
// circuit breaker.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

// DefaultTimeout bounds one whole adapter call (authenticate + fetch).
const DefaultTimeout = 30 * time.Second

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// translate maps breaker and deadline failures onto the error taxonomy.
// Timeouts are transient: the retry executor gets another go at them.
func translate(name activity.SourceName, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &activity.TransientError{
			Source: name,
			Msg:    fmt.Sprintf("operation timed out after %s", timeout),
			Err:    err,
		}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: circuit breaker open: %w", name, err)
	}
	return err
}
