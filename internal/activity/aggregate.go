package activity

import (
	"log"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Aggregator combines per-source payloads from one run into the published
// Summary. Individual workouts (Peloton) are filtered to the run period and
// summed; rolling stats (Strava) contribute their year-to-date totals.
type Aggregator struct {
	now func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// Summarize builds the aggregate figure from a completed run. Records that
// fail validation are skipped, not fatal. If the resulting summary itself is
// invalid, a zero fallback summary for the same period is returned instead.
func (a *Aggregator) Summarize(result *AggregateResult) Summary {
	var (
		totalMiles float64
		count      int
		sources    []SourceName
		workouts   []Workout
	)

	if p := result.Payload(SourcePeloton); p != nil {
		kept := 0
		for _, w := range p.Workouts {
			if w.Date.Before(result.Start) || w.Date.After(result.End) {
				continue
			}
			if err := validate.Struct(w); err != nil {
				log.Printf("skipping invalid %s workout %q: %v", w.Source, w.ID, err)
				continue
			}
			totalMiles += w.DistanceMiles
			count++
			kept++
			workouts = append(workouts, w)
		}
		if kept > 0 {
			sources = append(sources, SourcePeloton)
		}
	}

	if p := result.Payload(SourceStrava); p != nil && p.Stats != nil {
		totalMiles += p.Stats.YTDDistanceMiles
		count += p.Stats.YTDRideCount
		sources = append(sources, SourceStrava)
	}

	summary := Summary{
		TotalMiles:   math.Round(totalMiles*100) / 100,
		WorkoutCount: count,
		LastUpdated:  a.now().UTC(),
		Sources:      sources,
		PeriodStart:  result.Start,
		PeriodEnd:    result.End,
		Workouts:     workouts,
	}

	if err := validate.Struct(summary); err != nil {
		log.Printf("aggregated summary failed validation, using fallback: %v", err)
		return a.fallback(result)
	}

	log.Printf("aggregation complete: %.2f miles from %d workouts (%d sources)",
		summary.TotalMiles, summary.WorkoutCount, len(summary.Sources))
	return summary
}

// fallback is a zero summary for the run period, used when aggregation
// produced inconsistent data.
func (a *Aggregator) fallback(result *AggregateResult) Summary {
	return Summary{
		LastUpdated: a.now().UTC(),
		PeriodStart: result.Start,
		PeriodEnd:   result.End,
	}
}
