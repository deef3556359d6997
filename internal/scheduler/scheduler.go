// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/profilepulse/internal/queue"
)

// jobTimeout bounds a single run of a scheduled job
const jobTimeout = 30 * time.Minute

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// New creates a new scheduler with the given timezone
func New(timezone string, logger zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]cron.EntryID),
	}, nil
}

// AddJob adds a job with a cron schedule.
// schedule format: "0 */2 * * *" (every two hours on the hour)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(name, job); err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("Job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs[name] = entryID
	s.mu.Unlock()

	s.logger.Info().Str("job", name).Str("schedule", schedule).Msg("Added job")
	return nil
}

// AddRescrapeJob schedules job every intervalHours, counted from when the
// scheduler starts. A constant delay keeps runs evenly spaced for intervals
// that do not divide a day.
func (s *Scheduler) AddRescrapeJob(intervalHours int, job Job) error {
	if intervalHours < 1 {
		return fmt.Errorf("rescrape interval must be at least one hour, got %d", intervalHours)
	}
	return s.AddJob("rescrape", fmt.Sprintf("@every %dh", intervalHours), job)
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.logger.Info().Msg("Starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info().Msg("Stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a job
func (s *Scheduler) RunNow(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	s.logger.Info().Str("job", name).Msg("Starting job")
	start := time.Now()

	if err := job(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("Job completed")
	return nil
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
}

// ListJobs returns info about scheduled jobs, sorted by name
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		if !entry.Valid() {
			continue
		}
		infos = append(infos, JobInfo{
			Name:    name,
			NextRun: entry.Next,
			LastRun: entry.Prev,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// UserLister lists the profiles that are refreshed on schedule
type UserLister interface {
	TrackedUsernames(ctx context.Context) ([]string, error)
}

// Enqueuer accepts scrape jobs
type Enqueuer interface {
	Enqueue(username string) *queue.Job
}

// RequeueTracked returns a job that enqueues a scrape for every tracked profile
func RequeueTracked(users UserLister, q Enqueuer, logger zerolog.Logger) Job {
	return func(ctx context.Context) error {
		names, err := users.TrackedUsernames(ctx)
		if err != nil {
			return fmt.Errorf("list tracked users: %w", err)
		}

		for _, name := range names {
			q.Enqueue(name)
		}
		logger.Info().Int("users", len(names)).Msg("Queued scheduled scrapes")
		return nil
	}
}
