// Package queue runs scrape jobs one at a time in submission order.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/profilepulse/internal/metrics"
)

// RunFunc performs the scrape for one username, reporting on progress
type RunFunc func(ctx context.Context, username string, progress *Progress) error

// Job is one queued scrape
type Job struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	progress *Progress
	done     chan struct{}
	err      error
}

func newJob(username string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Username:   username,
		EnqueuedAt: time.Now(),
		progress:   newProgress(progressBuffer),
		done:       make(chan struct{}),
	}
}

// Updates streams the job's status lines. The channel is closed after the
// terminal message.
func (j *Job) Updates() <-chan string {
	return j.progress.ch
}

// Done is closed once the job finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err is the job's terminal error. Only meaningful after Done is closed.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Wait blocks until the job finished or ctx is done
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is a point-in-time view of the queue
type Status struct {
	Active  *Job   `json:"active,omitempty"`
	Pending []*Job `json:"pending"`
}

// Queue is a FIFO of scrape jobs with a single active worker
type Queue struct {
	ctx    context.Context
	run    RunFunc
	logger zerolog.Logger

	mu      sync.Mutex
	pending []*Job
	active  *Job
	wg      sync.WaitGroup
}

// New creates a queue whose jobs run under ctx
func New(ctx context.Context, run RunFunc, logger zerolog.Logger) *Queue {
	return &Queue{
		ctx:    ctx,
		run:    run,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue appends a scrape for username and starts it when the queue is idle
func (q *Queue) Enqueue(username string) *Job {
	job := newJob(username)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, job)
	job.progress.Send(fmt.Sprintf("Added to queue. Current position: %d", len(q.pending)))
	q.logger.Info().Str("username", username).Str("job_id", job.ID).Int("queue_length", len(q.pending)).Msg("Job enqueued")

	q.broadcastLocked()
	q.startLocked()
	return job
}

// Len is the number of jobs waiting behind the active one
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PositionOf returns the 1-based position of the first pending job for
// username, or 0 when none is waiting
func (q *Queue) PositionOf(username string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.pending {
		if job.Username == username {
			return i + 1
		}
	}
	return 0
}

// Snapshot returns the active and pending jobs
func (q *Queue) Snapshot() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Active:  q.active,
		Pending: append([]*Job(nil), q.pending...),
	}
}

// Wait blocks until no job is running
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) broadcastLocked() {
	for i, job := range q.pending {
		job.progress.Send(fmt.Sprintf("Queue position updated: %d", i+1))
	}
	metrics.QueueLength.Set(float64(len(q.pending)))
}

func (q *Queue) startLocked() {
	if q.active != nil || len(q.pending) == 0 {
		return
	}

	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.active = job
	metrics.QueueLength.Set(float64(len(q.pending)))

	q.wg.Add(1)
	go q.process(job)
}

func (q *Queue) process(job *Job) {
	defer q.wg.Done()

	log := q.logger.With().Str("username", job.Username).Str("job_id", job.ID).Logger()
	start := time.Now()

	job.progress.Send("Scraping started")
	log.Info().Msg("Starting scrape")

	err := q.runSafely(job)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Scrape failed")
		job.progress.Send(fmt.Sprintf("Error occurred during scraping: %v", err))
		metrics.JobsTotal.WithLabelValues("error").Inc()
	} else {
		log.Info().Dur("elapsed", time.Since(start)).Msg("Scrape finished")
		job.progress.Send("Scraping completed")
		metrics.JobsTotal.WithLabelValues("ok").Inc()
	}

	job.err = err
	job.progress.close()
	close(job.done)

	q.mu.Lock()
	q.active = nil
	q.broadcastLocked()
	q.startLocked()
	q.mu.Unlock()
}

func (q *Queue) runSafely(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := q.ctx.Err(); err != nil {
		return err
	}
	return q.run(q.ctx, job.Username, job.progress)
}
