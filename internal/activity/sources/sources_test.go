package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
	"github.com/velodata/cycling-data-aggregation/internal/clients"
	"github.com/velodata/cycling-data-aggregation/internal/ratelimit"
)

const pelotonCSV = `Workout Timestamp,Length (minutes),Fitness Discipline,Distance (mi),Calories Burned,Avg Heart Rate (bpm)
2024-03-01 07:30 (EST),30,Cycling,8.75,310,142
2024-03-02 08:00 (EST),45,Cycling,13.25,450,150
`

func TestPelotonFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/user/u1":
			w.Write([]byte(`{"id":"u1"}`))
		case "/api/user/u1/workout_history_csv":
			w.Write([]byte(pelotonCSV))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := clients.NewPelotonClient(srv.Client(), "u1", "sess", srv.URL, "")
	src := NewPeloton(client, 5*time.Second)
	require.Equal(t, activity.SourcePeloton, src.Name())

	payload, err := src.Fetch(context.Background(), activity.RunParams{
		Start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, activity.SourcePeloton, payload.Source)
	require.Equal(t, 22.0, payload.TotalMiles)
	require.Equal(t, 2, payload.Count)
	require.Len(t, payload.Workouts, 2)
	require.False(t, payload.FetchedAt.IsZero())
}

func TestPelotonFetchTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := clients.NewPelotonClient(srv.Client(), "u1", "sess", srv.URL, "")
	src := NewPeloton(client, 20*time.Millisecond)

	_, err := src.Fetch(context.Background(), activity.RunParams{})
	require.Error(t, err)

	var transientErr *activity.TransientError
	require.ErrorAs(t, err, &transientErr, "adapter timeouts must stay retryable")
}

func TestStravaFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			expires := strconv.FormatInt(time.Now().Add(2*time.Hour).Unix(), 10)
			w.Write([]byte(`{"access_token":"tok","expires_at":` + expires + `}`))
		case "/athletes/a1/stats":
			w.Write([]byte(`{"ytd_ride_totals":{"distance":160934.4,"count":10,"moving_time":36000}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := clients.NewStravaClient(srv.Client(), "id", "secret", "refresh", "a1", srv.URL, srv.URL+"/oauth/token")
	limiter := ratelimit.New(activity.SourceStrava, 10, 100)
	src := NewStrava(client, limiter, 5*time.Second)
	require.Equal(t, activity.SourceStrava, src.Name())

	payload, err := src.Fetch(context.Background(), activity.RunParams{})
	require.NoError(t, err)
	require.Equal(t, 100.0, payload.TotalMiles)
	require.Equal(t, 10, payload.Count)
	require.NotNil(t, payload.Stats)
	require.Equal(t, 100.0, payload.Stats.YTDDistanceMiles)

	window, daily := src.Usage()
	require.Equal(t, 1, window)
	require.Equal(t, 1, daily)
}
