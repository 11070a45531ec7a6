package store

import (
	"errors"
	"sync"
	"time"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

var (
	// ErrNotFound is returned when no aggregated data is available yet.
	ErrNotFound = errors.New("no aggregated activity data")
)

// MemoryStore is a concurrency-safe in-memory history of aggregated
// summaries. It serves the HTTP read path so GET requests never trigger
// upstream calls.
type MemoryStore struct {
	mu sync.RWMutex

	summaries []activity.Summary

	// retention configuration
	maxHistory int           // max number of summaries kept
	maxAge     time.Duration // optional max age for summaries
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// SaveSummary appends a new summary and enforces retention.
func (s *MemoryStore) SaveSummary(summary activity.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries = append(s.summaries, summary)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.summaries) > s.maxHistory {
		over := len(s.summaries) - s.maxHistory
		s.summaries = s.summaries[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.summaries); i++ {
			if !s.summaries[i].LastUpdated.Before(cutoff) {
				break
			}
		}
		if i > 0 && i < len(s.summaries) {
			s.summaries = s.summaries[i:]
		}
	}
}

// Latest returns the most recent summary.
func (s *MemoryStore) Latest() (activity.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.summaries) == 0 {
		return activity.Summary{}, ErrNotFound
	}
	return s.summaries[len(s.summaries)-1], nil
}

// Range returns all summaries recorded between from and to (inclusive).
func (s *MemoryStore) Range(from, to time.Time) ([]activity.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []activity.Summary
	for _, sum := range s.summaries {
		if !sum.LastUpdated.Before(from) && !sum.LastUpdated.After(to) {
			result = append(result, sum)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
