package activity

import (
	"errors"
	"fmt"
	"time"
)

// ErrAllSourcesFailed is returned by the orchestrator only when every
// configured source failed in the same run. Partial success is not an error.
var ErrAllSourcesFailed = errors.New("all activity sources failed")

// AuthError indicates an authentication failure against an upstream API.
// It is terminal: the retry executor never retries it.
type AuthError struct {
	Source SourceName
	Msg    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Source, e.Msg)
}

// RateLimitError indicates either an upstream 429 or a trip of the local
// rate limiter. Daily-ceiling trips are terminal; window trips are retried
// with a longer backoff.
type RateLimitError struct {
	Source     SourceName
	Msg        string
	Daily      bool
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %s", e.Source, e.Msg)
}

// ClientError covers 4xx responses other than 401/429. These are caller
// mistakes, not transient conditions, and are never retried.
type ClientError struct {
	Source     SourceName
	StatusCode int
	Msg        string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: client error %d: %s", e.Source, e.StatusCode, e.Msg)
}

// TransientError covers network failures, timeouts and 5xx responses.
// The retry executor backs off and retries these.
type TransientError struct {
	Source SourceName
	Msg    string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Msg)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StorageError indicates a cache write or directory failure. It is fatal and
// propagated to the caller; silently running without a cache is not
// acceptable.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RetriesExhaustedError wraps the last error observed after the retry
// executor used up every attempt on retryable failures.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }
