// Package ratelimit paces outbound calls to a rate-limited provider against
// a rolling window and a daily ceiling.
package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

// Strava-shaped defaults: 100 requests per rolling 15 minutes, 1000 per day.
const (
	DefaultWindow      = 15 * time.Minute
	DefaultWindowLimit = 100
	DefaultDailyLimit  = 1000
)

// Limiter tracks one source's request pacing. It must be acquired
// immediately before every outbound call to that source, including calls
// made as part of a retry. Each source gets its own Limiter; windows are
// never shared across sources.
type Limiter struct {
	source      activity.SourceName
	window      time.Duration
	windowLimit int
	dailyLimit  int

	mu         sync.Mutex
	times      []time.Time
	daily      int
	dailyReset time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter for one source. Non-positive limits fall back to the
// defaults.
func New(source activity.SourceName, windowLimit, dailyLimit int) *Limiter {
	if windowLimit <= 0 {
		windowLimit = DefaultWindowLimit
	}
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	l := &Limiter{
		source:      source,
		window:      DefaultWindow,
		windowLimit: windowLimit,
		dailyLimit:  dailyLimit,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	l.dailyReset = l.now().Add(24 * time.Hour)
	return l
}

// Acquire blocks until a request slot is available in the rolling window,
// then records the request. Hitting the daily ceiling fails immediately with
// a terminal RateLimitError; the limiter never waits for a daily reset.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if !now.Before(l.dailyReset) {
		l.daily = 0
		l.dailyReset = now.Add(24 * time.Hour)
	}

	if l.daily >= l.dailyLimit {
		return &activity.RateLimitError{
			Source: l.source,
			Msg:    "daily limit exceeded",
			Daily:  true,
		}
	}

	l.prune(now)

	if len(l.times) >= l.windowLimit {
		oldest := l.times[0]
		wait := l.window - now.Sub(oldest)
		if wait > 0 {
			log.Printf("%s: rate limit window full, waiting %s", l.source, wait.Round(time.Second))
			if err := l.sleep(ctx, wait); err != nil {
				return &activity.TransientError{Source: l.source, Msg: "rate limit wait interrupted", Err: err}
			}
			now = l.now()
			l.prune(now)
		}
	}

	l.times = append(l.times, now)
	l.daily++
	return nil
}

// prune drops window entries older than the rolling window. times stays
// ordered, so cut at the first fresh entry.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for ; i < len(l.times); i++ {
		if l.times[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		l.times = append(l.times[:0], l.times[i:]...)
	}
}

// Usage reports the current rolling-window occupancy and daily counter.
func (l *Limiter) Usage() (window, daily int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.times), l.daily
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
