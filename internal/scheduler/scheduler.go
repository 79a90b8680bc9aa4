package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-series/internal/weather"
)

// warmTimeout bounds a single dataset resolve, including a full download.
const warmTimeout = 2 * time.Minute

// Scheduler periodically resolves every configured dataset so that empty
// tables are populated before the first client query arrives.
type Scheduler struct {
	scheduler *gocron.Scheduler
	resolver  weather.Resolver
	datasets  []string
	interval  time.Duration
}

// New creates a new Scheduler.
func New(datasets []string, interval time.Duration, resolver weather.Resolver) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		resolver:  resolver,
		datasets:  datasets,
		interval:  interval,
	}
}

// Start schedules the warm job and starts the underlying scheduler.
// The job runs once immediately and then every interval.
func (s *Scheduler) Start() error {
	if len(s.datasets) == 0 {
		log.Println("scheduler: no datasets configured; nothing to schedule")
		return nil
	}
	if s.interval <= 0 {
		log.Println("scheduler: cache warming disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// RunOnce resolves every dataset with an unbounded range and returns the
// number of datasets that failed.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	log.Println("scheduler: running cache warm job")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, dataset := range s.datasets {
		dataset := dataset
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, warmTimeout)
			defer cancel()

			points, err := s.resolver.Resolve(ctx, dataset, weather.AllYears())
			if err != nil {
				log.Printf("scheduler: warm failed for %s: %v", dataset, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			log.Printf("scheduler: %s holds %d points", dataset, len(points))
		}()
	}
	wg.Wait()

	log.Println("scheduler: completed cache warm job")
	return failed
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
