// Package clients holds the HTTP clients for the upstream activity
// platforms. Each client exposes an Authenticate call plus one data-fetch
// operation and reports failures through the typed errors in the activity
// package so the retry executor can tell transient from terminal.
package clients

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

// DefaultPelotonBaseURL is the production API host.
const DefaultPelotonBaseURL = "https://api.onepeloton.com"

// PelotonClient talks to the Peloton API using a pre-established session
// cookie. Workout history comes from the CSV export endpoint, which is the
// efficient path for bulk data.
type PelotonClient struct {
	userID    string
	sessionID string
	baseURL   string
	timezone  string
	client    *http.Client
}

// NewPelotonClient creates a client. baseURL falls back to the production
// host when empty; timezone is the value passed to the CSV export endpoint.
func NewPelotonClient(client *http.Client, userID, sessionID, baseURL, timezone string) *PelotonClient {
	if baseURL == "" {
		baseURL = DefaultPelotonBaseURL
	}
	if timezone == "" {
		timezone = "UTC"
	}
	return &PelotonClient{
		userID:    userID,
		sessionID: sessionID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		timezone:  timezone,
		client:    client,
	}
}

// Authenticate verifies the session by fetching the user record. A rejected
// session is an AuthError; anything else that goes wrong is transient.
func (c *PelotonClient) Authenticate(ctx context.Context) error {
	if c.userID == "" || c.sessionID == "" {
		return &activity.AuthError{Source: activity.SourcePeloton, Msg: "user id or session id not configured"}
	}

	url := fmt.Sprintf("%s/api/user/%s", c.baseURL, c.userID)
	resp, err := c.do(ctx, url, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &activity.AuthError{Source: activity.SourcePeloton, Msg: fmt.Sprintf("session rejected with status %d", resp.StatusCode)}
	default:
		return statusError(activity.SourcePeloton, resp)
	}
}

// CyclingWorkouts downloads the workout history CSV and returns the cycling
// rows within [start, end] as normalized workouts. Rows that fail to parse
// are skipped.
func (c *PelotonClient) CyclingWorkouts(ctx context.Context, start, end time.Time) ([]activity.Workout, error) {
	url := fmt.Sprintf("%s/api/user/%s/workout_history_csv?timezone=%s", c.baseURL, c.userID, c.timezone)
	resp, err := c.do(ctx, url, "text/csv,application/json,*/*")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &activity.AuthError{Source: activity.SourcePeloton, Msg: fmt.Sprintf("workout export rejected with status %d", resp.StatusCode)}
	default:
		return nil, statusError(activity.SourcePeloton, resp)
	}

	workouts, err := parseWorkoutCSV(resp.Body)
	if err != nil {
		return nil, &activity.TransientError{Source: activity.SourcePeloton, Msg: "csv export not parseable", Err: err}
	}

	var filtered []activity.Workout
	for _, w := range workouts {
		if !isCyclingDiscipline(w.WorkoutType) {
			continue
		}
		if w.Date.Before(start) || w.Date.After(end) {
			continue
		}
		filtered = append(filtered, w)
	}
	log.Printf("peloton: %d cycling workouts in range out of %d rows", len(filtered), len(workouts))
	return filtered, nil
}

func (c *PelotonClient) do(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &activity.TransientError{Source: activity.SourcePeloton, Msg: "building request", Err: err}
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "cycling-data-aggregation/1.0")
	req.AddCookie(&http.Cookie{Name: "peloton_session_id", Value: c.sessionID})

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &activity.TransientError{Source: activity.SourcePeloton, Msg: "request failed", Err: err}
	}
	return resp, nil
}

// CSV export column names as Peloton emits them.
const (
	colTimestamp  = "Workout Timestamp"
	colLength     = "Length (minutes)"
	colDistance   = "Distance (mi)"
	colDiscipline = "Fitness Discipline"
	colCalories   = "Calories Burned"
	colHeartRate  = "Avg Heart Rate (bpm)"
)

func parseWorkoutCSV(r io.Reader) ([]activity.Workout, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col[colTimestamp]; !ok {
		return nil, fmt.Errorf("csv missing %q column", colTimestamp)
	}

	var workouts []activity.Workout
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}

		field := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		ts := field(colTimestamp)
		w := activity.Workout{
			ID:              ts,
			Source:          activity.SourcePeloton,
			Date:            parsePelotonTimestamp(ts),
			DurationMinutes: int(parseFloat(field(colLength))),
			DistanceMiles:   parseFloat(field(colDistance)),
			WorkoutType:     field(colDiscipline),
			Calories:        parseOptionalInt(field(colCalories)),
			AvgHeartRate:    parseOptionalInt(field(colHeartRate)),
		}
		workouts = append(workouts, w)
	}
	return workouts, nil
}

// parsePelotonTimestamp handles the export format "2019-09-07 20:03 (MDT)"
// as well as RFC3339 and unix seconds. Unparseable values map to the epoch
// so range filtering drops them.
func parsePelotonTimestamp(s string) time.Time {
	if i := strings.Index(s, "("); i >= 0 {
		s = strings.TrimSpace(s[:i])
		if ts, err := time.Parse("2006-01-02 15:04", s); err == nil {
			return ts.UTC()
		}
		return time.Unix(0, 0).UTC()
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC()
	}
	if unix, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(int64(unix), 0).UTC()
	}
	return time.Unix(0, 0).UTC()
}

func isCyclingDiscipline(discipline string) bool {
	switch strings.ToLower(discipline) {
	case "cycling", "bike", "ride":
		return true
	}
	return false
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseOptionalInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(v)
	return &n
}
