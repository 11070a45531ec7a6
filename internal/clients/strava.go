package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

const (
	DefaultStravaBaseURL  = "https://www.strava.com/api/v3"
	DefaultStravaTokenURL = "https://www.strava.com/oauth/token"

	// Refresh the access token this long before it actually expires.
	tokenExpiryBuffer = 5 * time.Minute
)

// StravaClient fetches athlete ride statistics using the OAuth2
// refresh-token flow. The access token is refreshed lazily when absent or
// within the expiry buffer, and once more inline when a request comes back
// 401.
type StravaClient struct {
	clientID     string
	clientSecret string
	refreshToken string
	athleteID    string
	baseURL      string
	tokenURL     string
	client       *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	now func() time.Time
}

// NewStravaClient creates a client. Empty baseURL/tokenURL fall back to the
// production endpoints.
func NewStravaClient(client *http.Client, clientID, clientSecret, refreshToken, athleteID, baseURL, tokenURL string) *StravaClient {
	if baseURL == "" {
		baseURL = DefaultStravaBaseURL
	}
	if tokenURL == "" {
		tokenURL = DefaultStravaTokenURL
	}
	return &StravaClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		athleteID:    athleteID,
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenURL:     tokenURL,
		client:       client,
		now:          time.Now,
	}
}

// Authenticate ensures a usable access token, refreshing it when needed.
func (c *StravaClient) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokenValidLocked() {
		log.Printf("strava: using existing valid access token")
		return nil
	}
	return c.refreshAccessTokenLocked(ctx)
}

func (c *StravaClient) tokenValidLocked() bool {
	if c.accessToken == "" || c.expiresAt.IsZero() {
		return false
	}
	return c.now().Before(c.expiresAt.Add(-tokenExpiryBuffer))
}

func (c *StravaClient) refreshAccessTokenLocked(ctx context.Context) error {
	if c.clientID == "" || c.clientSecret == "" || c.refreshToken == "" {
		return &activity.AuthError{Source: activity.SourceStrava, Msg: "oauth credentials not configured"}
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {c.refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &activity.TransientError{Source: activity.SourceStrava, Msg: "building token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return &activity.TransientError{Source: activity.SourceStrava, Msg: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return statusError(activity.SourceStrava, resp)
		}
		return &activity.AuthError{
			Source: activity.SourceStrava,
			Msg:    fmt.Sprintf("token refresh failed with status %d", resp.StatusCode),
		}
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return &activity.TransientError{Source: activity.SourceStrava, Msg: "decoding token response", Err: err}
	}
	if token.AccessToken == "" {
		return &activity.AuthError{Source: activity.SourceStrava, Msg: "token refresh returned no access token"}
	}

	c.accessToken = token.AccessToken
	c.expiresAt = time.Unix(token.ExpiresAt, 0)
	log.Printf("strava: access token refreshed, valid until %s", c.expiresAt.UTC().Format(time.RFC3339))
	return nil
}

// AthleteStats fetches the athlete's ride totals and converts them to miles.
// A 401 triggers exactly one inline token refresh before the request is
// retried; a second 401 is an AuthError.
func (c *StravaClient) AthleteStats(ctx context.Context) (activity.AthleteStats, error) {
	statsURL := fmt.Sprintf("%s/athletes/%s/stats", c.baseURL, c.athleteID)

	refreshed := false
	for {
		resp, err := c.get(ctx, statsURL)
		if err != nil {
			return activity.AthleteStats{}, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			defer resp.Body.Close()
			return decodeAthleteStats(resp.Body)

		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			if refreshed {
				return activity.AthleteStats{}, &activity.AuthError{
					Source: activity.SourceStrava,
					Msg:    "still unauthorized after token refresh",
				}
			}
			log.Printf("strava: access token rejected, attempting refresh")
			c.mu.Lock()
			err := c.refreshAccessTokenLocked(ctx)
			c.mu.Unlock()
			if err != nil {
				return activity.AthleteStats{}, err
			}
			refreshed = true

		case resp.StatusCode == http.StatusTooManyRequests:
			usage := resp.Header.Get("X-RateLimit-Usage")
			limit := resp.Header.Get("X-RateLimit-Limit")
			resp.Body.Close()
			return activity.AthleteStats{}, &activity.RateLimitError{
				Source: activity.SourceStrava,
				Msg:    fmt.Sprintf("429 from API (usage %s of %s)", usage, limit),
			}

		default:
			err := statusError(activity.SourceStrava, resp)
			resp.Body.Close()
			return activity.AthleteStats{}, err
		}
	}
}

func (c *StravaClient) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &activity.TransientError{Source: activity.SourceStrava, Msg: "building request", Err: err}
	}
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cycling-data-aggregation/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &activity.TransientError{Source: activity.SourceStrava, Msg: "request failed", Err: err}
	}
	return resp, nil
}

func decodeAthleteStats(r io.Reader) (activity.AthleteStats, error) {
	var payload struct {
		YTDRideTotals struct {
			Distance   float64 `json:"distance"`
			Count      int     `json:"count"`
			MovingTime float64 `json:"moving_time"`
		} `json:"ytd_ride_totals"`
		AllRideTotals struct {
			Distance float64 `json:"distance"`
			Count    int     `json:"count"`
		} `json:"all_ride_totals"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return activity.AthleteStats{}, &activity.TransientError{Source: activity.SourceStrava, Msg: "decoding stats response", Err: err}
	}

	stats := activity.AthleteStats{
		YTDDistanceMiles:     round2(metersToMiles(payload.YTDRideTotals.Distance)),
		YTDRideCount:         payload.YTDRideTotals.Count,
		YTDMovingTimeHours:   math.Round(payload.YTDRideTotals.MovingTime/3600*10) / 10,
		AllTimeDistanceMiles: round2(metersToMiles(payload.AllRideTotals.Distance)),
		AllTimeRideCount:     payload.AllRideTotals.Count,
	}
	log.Printf("strava: YTD %.2f miles over %d rides", stats.YTDDistanceMiles, stats.YTDRideCount)
	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
