package activity

import (
	"context"
	"encoding/json"
	"time"
)

// Source abstracts an upstream activity platform (Peloton, Strava). Fetch is
// a single fallible unit of work: authenticate, pace, pull data. Sources that
// return rolling summaries ignore the date range.
type Source interface {
	Name() SourceName
	Fetch(ctx context.Context, params RunParams) (SourcePayload, error)
}

// Cache is the contract the file-backed cache store must satisfy for the
// orchestrator. Get treats expired or corrupt entries as misses.
type Cache interface {
	Get(key string) (json.RawMessage, bool)
	Put(key string, data any) error
	IsValid(key string, ttl time.Duration) bool
}
