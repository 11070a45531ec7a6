package sources

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
	"github.com/velodata/cycling-data-aggregation/internal/clients"
	"github.com/velodata/cycling-data-aggregation/internal/ratelimit"
)

// Strava adapts the Strava client to the Source contract. It returns the
// athlete's rolling ride statistics, so the run's date range is ignored. The
// limiter runs before the stats call on every attempt, retries included.
type Strava struct {
	client  *clients.StravaClient
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	now     func() time.Time
}

// NewStrava creates the adapter. timeout <= 0 falls back to DefaultTimeout.
func NewStrava(client *clients.StravaClient, limiter *ratelimit.Limiter, timeout time.Duration) *Strava {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Strava{
		client:  client,
		limiter: limiter,
		breaker: newBreaker("strava"),
		timeout: timeout,
		now:     time.Now,
	}
}

func (s *Strava) Name() activity.SourceName {
	return activity.SourceStrava
}

// Fetch authenticates, acquires a rate-limit slot and pulls athlete stats
// under one deadline.
func (s *Strava) Fetch(ctx context.Context, _ activity.RunParams) (activity.SourcePayload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.breaker.Execute(func() (interface{}, error) {
		if err := s.client.Authenticate(ctx); err != nil {
			return nil, err
		}

		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		stats, err := s.client.AthleteStats(ctx)
		if err != nil {
			return nil, err
		}

		return activity.SourcePayload{
			Source:     activity.SourceStrava,
			FetchedAt:  s.now().UTC(),
			TotalMiles: stats.YTDDistanceMiles,
			Count:      stats.YTDRideCount,
			Stats:      &stats,
		}, nil
	})
	if err != nil {
		return activity.SourcePayload{}, translate(activity.SourceStrava, s.timeout, err)
	}
	return result.(activity.SourcePayload), nil
}

// Usage exposes the limiter's counters for the status endpoint.
func (s *Strava) Usage() (window, daily int) {
	return s.limiter.Usage()
}
