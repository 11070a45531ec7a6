package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Orchestrator sequences fetches across the configured sources, consults the
// cache before calling upstream, and folds per-source outcomes into one
// AggregateResult. Sources are attempted in their configured order, never
// concurrently: the rate windows and backoff timing stay deterministic with a
// single logical worker.
type Orchestrator struct {
	cache    Cache
	sources  []Source
	retry    RetryPolicy
	cacheTTL time.Duration
	now      func() time.Time

	// runMu serializes whole runs; stateMu guards last-run state read by
	// Status and HasRecent while a run is in flight.
	runMu   sync.Mutex
	stateMu sync.RWMutex
	state   RunState
	last    *AggregateResult
	health  map[SourceName]*sourceHealth
}

// RunState is the orchestrator's coarse progress marker: idle before the
// first run, fetching_<source> while a source is in flight, done after a run
// completes. Sources are fetched in order, so at most one fetching state is
// ever observable.
type RunState string

const (
	RunIdle RunState = "idle"
	RunDone RunState = "done"
)

func fetchingState(name SourceName) RunState {
	return RunState("fetching_" + string(name))
}

type sourceHealth struct {
	available  bool
	lastError  string
	errorCount int
}

// NewOrchestrator creates an Orchestrator over the given cache and sources.
// cacheTTL <= 0 defaults to 24 hours.
func NewOrchestrator(cache Cache, sources []Source, retry RetryPolicy, cacheTTL time.Duration) *Orchestrator {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	health := make(map[SourceName]*sourceHealth, len(sources))
	for _, src := range sources {
		health[src.Name()] = &sourceHealth{available: true}
	}
	return &Orchestrator{
		cache:    cache,
		sources:  sources,
		retry:    retry,
		cacheTTL: cacheTTL,
		now:      time.Now,
		state:    RunIdle,
		health:   health,
	}
}

// Run performs one orchestration pass over every configured source. A failed
// source never blocks the next one; the run as a whole fails only when every
// source failed. A cache write failure is fatal and surfaces alongside the
// result.
func (o *Orchestrator) Run(ctx context.Context, params RunParams) (*AggregateResult, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	now := o.now().UTC()
	if params.Start.IsZero() {
		params.Start = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if params.End.IsZero() {
		params.End = now
	}

	log.Printf("starting data collection from %d sources (force_refresh=%t)", len(o.sources), params.ForceRefresh)

	result := &AggregateResult{
		RunID:       uuid.NewString(),
		AttemptedAt: now,
		Start:       params.Start,
		End:         params.End,
		PerSource:   make(map[SourceName]FetchOutcome, len(o.sources)),
	}

	var storageErr error
	for _, src := range o.sources {
		o.setState(fetchingState(src.Name()))
		outcome := o.fetchOne(ctx, src, params, &storageErr)
		result.PerSource[src.Name()] = outcome
		if outcome.Status == FetchSuccess {
			result.Successful = append(result.Successful, src.Name())
			log.Printf("successfully fetched %s data (cached=%t, elapsed=%s)",
				src.Name(), outcome.FromCache, outcome.Elapsed.Round(time.Millisecond))
		} else {
			result.Failed = append(result.Failed, src.Name())
			log.Printf("failed to fetch %s data: %s", src.Name(), outcome.Err)
		}
	}

	o.stateMu.Lock()
	o.state = RunDone
	o.last = result
	o.stateMu.Unlock()

	if len(result.Successful) == 0 {
		return result, fmt.Errorf("%w: %d sources attempted", ErrAllSourcesFailed, len(o.sources))
	}
	if storageErr != nil {
		return result, storageErr
	}

	log.Printf("data collection complete: successful=%v failed=%v", result.Successful, result.Failed)
	return result, nil
}

// fetchOne resolves a single source: cache first unless forced, then the
// retry-wrapped adapter call, then a cache write-back on success.
func (o *Orchestrator) fetchOne(ctx context.Context, src Source, params RunParams, storageErr *error) FetchOutcome {
	name := src.Name()
	key := cacheKey(name, params.End)

	if !params.ForceRefresh {
		if raw, ok := o.cache.Get(key); ok {
			var payload SourcePayload
			if err := json.Unmarshal(raw, &payload); err == nil {
				log.Printf("cache hit for %s, skipping upstream call", key)
				o.markHealthy(name)
				return FetchOutcome{Source: name, Status: FetchSuccess, Payload: &payload, FromCache: true}
			}
			log.Printf("cache entry %s not decodable as payload, refetching", key)
		}
	}

	started := o.now()
	payload, err := o.retry.Do(ctx, name, func(ctx context.Context) (SourcePayload, error) {
		return src.Fetch(ctx, params)
	})
	elapsed := o.now().Sub(started)

	if err != nil {
		o.markFailed(name, err)
		return FetchOutcome{Source: name, Status: FetchFailed, Err: err.Error(), Elapsed: elapsed}
	}

	o.markHealthy(name)
	if err := o.cache.Put(key, payload); err != nil {
		// Fatal per the storage contract, but the fetched data is still good.
		log.Printf("cache write for %s failed: %v", key, err)
		*storageErr = err
	}
	return FetchOutcome{Source: name, Status: FetchSuccess, Payload: &payload, Elapsed: elapsed}
}

func cacheKey(name SourceName, end time.Time) string {
	return fmt.Sprintf("%s_%s", name, end.UTC().Format("2006-01-02"))
}

func (o *Orchestrator) setState(state RunState) {
	o.stateMu.Lock()
	o.state = state
	o.stateMu.Unlock()
}

func (o *Orchestrator) markHealthy(name SourceName) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if h, ok := o.health[name]; ok {
		h.available = true
		h.lastError = ""
		h.errorCount = 0
	}
}

func (o *Orchestrator) markFailed(name SourceName, err error) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if h, ok := o.health[name]; ok {
		h.available = false
		h.lastError = err.Error()
		h.errorCount++
	}
}

// SourceStatus reports one source's availability as of the last run that
// touched it.
type SourceStatus struct {
	Available  bool   `json:"available"`
	LastError  string `json:"lastError,omitempty"`
	ErrorCount int    `json:"errorCount"`
}

// Status is the orchestrator's view of the current run state, the last run
// and per-source health.
type Status struct {
	State      RunState                    `json:"state"`
	Sources    map[SourceName]SourceStatus `json:"sources"`
	LastRun    time.Time                   `json:"lastRun"`
	Successful []SourceName                `json:"successfulSources,omitempty"`
	Failed     []SourceName                `json:"failedSources,omitempty"`
}

// Status returns per-source availability flags and the last run's outcome.
func (o *Orchestrator) Status() Status {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	st := Status{State: o.state, Sources: make(map[SourceName]SourceStatus, len(o.health))}
	for name, h := range o.health {
		st.Sources[name] = SourceStatus{
			Available:  h.available,
			LastError:  h.lastError,
			ErrorCount: h.errorCount,
		}
	}
	if o.last != nil {
		st.LastRun = o.last.AttemptedAt
		st.Successful = o.last.Successful
		st.Failed = o.last.Failed
	}
	return st
}

// HasRecent reports whether the last run finished within maxAge. Callers use
// it to skip a full run when fresh data already exists.
func (o *Orchestrator) HasRecent(maxAge time.Duration) bool {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	if o.last == nil {
		return false
	}
	return o.now().UTC().Sub(o.last.AttemptedAt) <= maxAge
}

// LastResult returns the most recent run's result, or nil before any run.
func (o *Orchestrator) LastResult() *AggregateResult {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.last
}
