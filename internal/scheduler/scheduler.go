package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
	"github.com/velodata/cycling-data-aggregation/internal/store"
)

// Scheduler periodically runs a full collection pass: orchestrate the source
// fetches, aggregate the outcome, persist the summary.
type Scheduler struct {
	scheduler    *gocron.Scheduler
	orchestrator *activity.Orchestrator
	aggregator   *activity.Aggregator
	store        *store.MemoryStore
	interval     time.Duration
}

// New creates a new Scheduler.
func New(interval time.Duration, orch *activity.Orchestrator, agg *activity.Aggregator, st *store.MemoryStore) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler:    s,
		orchestrator: orch,
		aggregator:   agg,
		store:        st,
		interval:     interval,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run fires immediately so the API has data soon after boot.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 360
	}

	_, err := s.scheduler.Every(minutes).Minutes().StartImmediately().Do(func() {
		log.Println("scheduler: running activity collection job")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := s.orchestrator.Run(ctx, activity.RunParams{})
		if err != nil {
			log.Printf("scheduler: collection run failed: %v", err)
			if result == nil || len(result.Successful) == 0 {
				return
			}
			// Partial data with a storage error still yields a summary.
		}

		summary := s.aggregator.Summarize(result)
		s.store.SaveSummary(summary)
		log.Printf("scheduler: collection job complete (%.2f miles, sources=%v)",
			summary.TotalMiles, summary.Sources)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
