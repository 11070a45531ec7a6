package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds every knob the service reads from the environment. It is
// built once at process start and passed explicitly into constructors.
type AppConfig struct {
	// Peloton credentials and endpoint.
	PelotonUserID    string
	PelotonSessionID string
	PelotonAPIBase   string
	PelotonTimezone  string

	// Strava OAuth credentials and endpoint.
	StravaClientID     string
	StravaClientSecret string
	StravaRefreshToken string
	StravaAthleteID    string

	// APITimeout bounds one whole adapter call.
	APITimeout time.Duration

	// Retry behaviour for source fetches.
	MaxRetries     int
	BaseRetryDelay time.Duration

	// Strava rate limits (per-source, not global).
	RateWindowLimit int
	RateDailyLimit  int

	// Disk cache location and entry TTL.
	CacheDir    string
	CacheExpiry time.Duration

	// FetchInterval controls how often the scheduler runs a full collection.
	FetchInterval time.Duration

	// In-memory summary history retention.
	StoreMaxHistory int
	StoreMaxAge     time.Duration

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.PelotonUserID = os.Getenv("PELOTON_USER_ID")
	cfg.PelotonSessionID = os.Getenv("PELOTON_SESSION_ID")
	cfg.PelotonAPIBase = getenvDefault("PELOTON_API_BASE", "")
	cfg.PelotonTimezone = getenvDefault("PELOTON_TIMEZONE", "UTC")

	cfg.StravaClientID = os.Getenv("STRAVA_CLIENT_ID")
	cfg.StravaClientSecret = os.Getenv("STRAVA_CLIENT_SECRET")
	cfg.StravaRefreshToken = os.Getenv("STRAVA_REFRESH_TOKEN")
	cfg.StravaAthleteID = os.Getenv("STRAVA_ATHLETE_ID")

	timeout, err := parseDuration("API_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	cfg.APITimeout = timeout

	cfg.MaxRetries = getenvInt("MAX_RETRIES", 3)
	baseDelay, err := parseDuration("BASE_RETRY_DELAY", "1s")
	if err != nil {
		return nil, err
	}
	cfg.BaseRetryDelay = baseDelay

	cfg.RateWindowLimit = getenvInt("STRAVA_RATE_LIMIT_15MIN", 100)
	cfg.RateDailyLimit = getenvInt("STRAVA_RATE_LIMIT_DAILY", 1000)

	cfg.CacheDir = getenvDefault("CACHE_DIR", ".cache")
	cfg.CacheExpiry = time.Duration(getenvInt("CACHE_EXPIRY_HOURS", 24)) * time.Hour

	// Scheduler interval: cycling totals change slowly, default 6 hours.
	interval, err := parseDuration("FETCH_INTERVAL", "6h")
	if err != nil {
		return nil, err
	}
	cfg.FetchInterval = interval

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 96)
	maxAge, err := parseDuration("STORE_MAX_AGE", "720h")
	if err != nil {
		return nil, err
	}
	cfg.StoreMaxAge = maxAge
	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

// PelotonConfigured reports whether the Peloton source has credentials.
func (c *AppConfig) PelotonConfigured() bool {
	return c.PelotonUserID != "" && c.PelotonSessionID != ""
}

// StravaConfigured reports whether the Strava source has credentials.
func (c *AppConfig) StravaConfigured() bool {
	return c.StravaClientID != "" && c.StravaClientSecret != "" &&
		c.StravaRefreshToken != "" && c.StravaAthleteID != ""
}

func parseDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
