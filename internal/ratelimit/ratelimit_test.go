package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

// fakeClock drives the limiter deterministically: sleeps advance the clock
// instead of blocking.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(windowLimit, dailyLimit int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)}
	l := New(activity.SourceStrava, windowLimit, dailyLimit)
	l.now = clock.Now
	l.sleep = clock.Sleep
	l.dailyReset = clock.now.Add(24 * time.Hour)
	return l, clock
}

func TestAcquireUnderLimitsDoesNotWait(t *testing.T) {
	l, clock := newTestLimiter(5, 100)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(context.Background()))
		clock.Advance(time.Second)
	}
	require.Empty(t, clock.slept)

	window, daily := l.Usage()
	require.Equal(t, 5, window)
	require.Equal(t, 5, daily)
}

func TestAcquireWaitsWhenWindowFull(t *testing.T) {
	l, clock := newTestLimiter(3, 100)

	// Fill the window: requests at t0, t0+1s, t0+2s.
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
		clock.Advance(time.Second)
	}

	// Fourth acquisition at t0+3s must wait until the oldest entry (t0) ages
	// out of the 15-minute window: 900s - 3s.
	require.NoError(t, l.Acquire(context.Background()))
	require.Len(t, clock.slept, 1)
	require.GreaterOrEqual(t, clock.slept[0], DefaultWindow-3*time.Second)
}

func TestAcquireWindowFreesUpAfterWindowPasses(t *testing.T) {
	l, clock := newTestLimiter(3, 100)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}

	// After the whole window passes, no waiting is needed.
	clock.Advance(DefaultWindow + time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	require.Empty(t, clock.slept)

	window, _ := l.Usage()
	require.Equal(t, 1, window)
}

func TestDailyLimitFailsImmediately(t *testing.T) {
	l, clock := newTestLimiter(100, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
		clock.Advance(time.Second)
	}

	err := l.Acquire(context.Background())
	require.Error(t, err)

	var rlErr *activity.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	require.True(t, rlErr.Daily)
	require.Empty(t, clock.slept, "daily ceiling must never wait")
}

func TestDailyCounterResets(t *testing.T) {
	l, clock := newTestLimiter(100, 2)

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))
	require.Error(t, l.Acquire(context.Background()))

	clock.Advance(24*time.Hour + time.Minute)
	require.NoError(t, l.Acquire(context.Background()))

	_, daily := l.Usage()
	require.Equal(t, 1, daily)
}
