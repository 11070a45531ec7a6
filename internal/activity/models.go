package activity

import (
	"time"
)

// SourceName identifies an upstream activity platform.
type SourceName string

const (
	SourcePeloton SourceName = "peloton"
	SourceStrava  SourceName = "strava"
)

// Workout is the normalized record for a single ride, regardless of which
// platform it came from.
type Workout struct {
	ID              string     `json:"id" validate:"required"`
	Source          SourceName `json:"source" validate:"required,oneof=peloton strava"`
	Date            time.Time  `json:"date" validate:"required"`
	DurationMinutes int        `json:"durationMinutes" validate:"gt=0"`
	DistanceMiles   float64    `json:"distanceMiles" validate:"gte=0"`
	WorkoutType     string     `json:"workoutType" validate:"required"`
	Calories        *int       `json:"calories,omitempty" validate:"omitempty,gte=0"`
	AvgHeartRate    *int       `json:"avgHeartRate,omitempty" validate:"omitempty,gte=30,lte=250"`
}

// AthleteStats is the rolling summary a stats-style source (Strava) returns
// instead of individual workouts.
type AthleteStats struct {
	YTDDistanceMiles     float64 `json:"ytdDistanceMiles"`
	YTDRideCount         int     `json:"ytdRideCount"`
	YTDMovingTimeHours   float64 `json:"ytdMovingTimeHours"`
	AllTimeDistanceMiles float64 `json:"allTimeDistanceMiles"`
	AllTimeRideCount     int     `json:"allTimeRideCount"`
}

// SourcePayload is what one source adapter hands back on success. Exactly one
// of Workouts or Stats is populated depending on the source shape. It is also
// the value persisted in the cache.
type SourcePayload struct {
	Source     SourceName    `json:"source"`
	FetchedAt  time.Time     `json:"fetchedAt"`
	TotalMiles float64       `json:"totalMiles"`
	Count      int           `json:"workoutCount"`
	Workouts   []Workout     `json:"workouts,omitempty"`
	Stats      *AthleteStats `json:"stats,omitempty"`
}

// FetchStatus is the terminal state of one source in one run.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchFailed  FetchStatus = "failed"
)

// FetchOutcome records how a single source fared in one orchestration run.
// Immutable once the run completes.
type FetchOutcome struct {
	Source    SourceName     `json:"source"`
	Status    FetchStatus    `json:"status"`
	Payload   *SourcePayload `json:"payload,omitempty"`
	Err       string         `json:"error,omitempty"`
	Elapsed   time.Duration  `json:"elapsed"`
	FromCache bool           `json:"fromCache"`
}

// AggregateResult is the structured result of one orchestration run.
// Successful and Failed are disjoint and together cover every configured
// source.
type AggregateResult struct {
	RunID       string                      `json:"runId"`
	AttemptedAt time.Time                   `json:"attemptedAt"`
	Start       time.Time                   `json:"start"`
	End         time.Time                   `json:"end"`
	Successful  []SourceName                `json:"successfulSources"`
	Failed      []SourceName                `json:"failedSources"`
	PerSource   map[SourceName]FetchOutcome `json:"perSource"`
}

// Payload returns the payload fetched for the given source, if that source
// succeeded in this run.
func (r *AggregateResult) Payload(name SourceName) *SourcePayload {
	if r == nil {
		return nil
	}
	out, ok := r.PerSource[name]
	if !ok || out.Status != FetchSuccess {
		return nil
	}
	return out.Payload
}

// RunParams are the caller-supplied inputs for one orchestration run.
// Zero Start/End default to the current calendar year up to now.
type RunParams struct {
	Start        time.Time
	End          time.Time
	ForceRefresh bool
}

// Summary is the published aggregate figure combining all sources for one
// period.
type Summary struct {
	TotalMiles   float64      `json:"totalMiles" validate:"gte=0"`
	WorkoutCount int          `json:"workoutCount" validate:"gte=0"`
	LastUpdated  time.Time    `json:"lastUpdated" validate:"required"`
	Sources      []SourceName `json:"sources" validate:"dive,oneof=peloton strava"`
	PeriodStart  time.Time    `json:"periodStart" validate:"required"`
	PeriodEnd    time.Time    `json:"periodEnd" validate:"required,gtefield=PeriodStart"`
	Workouts     []Workout    `json:"workouts,omitempty"`
}
