package sources

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
	"github.com/velodata/cycling-data-aggregation/internal/clients"
)

// Peloton adapts the Peloton client to the Source contract. It fetches
// individual cycling workouts for a date range.
type Peloton struct {
	client  *clients.PelotonClient
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	now     func() time.Time
}

// NewPeloton creates the adapter. timeout <= 0 falls back to DefaultTimeout.
func NewPeloton(client *clients.PelotonClient, timeout time.Duration) *Peloton {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Peloton{
		client:  client,
		breaker: newBreaker("peloton"),
		timeout: timeout,
		now:     time.Now,
	}
}

func (p *Peloton) Name() activity.SourceName {
	return activity.SourcePeloton
}

// Fetch authenticates and downloads cycling workouts for the range under one
// deadline.
func (p *Peloton) Fetch(ctx context.Context, params activity.RunParams) (activity.SourcePayload, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := p.breaker.Execute(func() (interface{}, error) {
		if err := p.client.Authenticate(ctx); err != nil {
			return nil, err
		}

		workouts, err := p.client.CyclingWorkouts(ctx, params.Start, params.End)
		if err != nil {
			return nil, err
		}

		var totalMiles float64
		for _, w := range workouts {
			totalMiles += w.DistanceMiles
		}

		return activity.SourcePayload{
			Source:     activity.SourcePeloton,
			FetchedAt:  p.now().UTC(),
			TotalMiles: totalMiles,
			Count:      len(workouts),
			Workouts:   workouts,
		}, nil
	})
	if err != nil {
		return activity.SourcePayload{}, translate(activity.SourcePeloton, p.timeout, err)
	}
	return result.(activity.SourcePayload), nil
}
