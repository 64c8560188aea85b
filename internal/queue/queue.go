// Package queue provides an in-memory job queue system with worker pool
// for concurrent aggregation runs. Each job owns its own aggregator, so
// jobs never share window state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/ride-window-worker/internal/metrics"
	"github.com/stuartshay/ride-window-worker/internal/ride"
)

// JobStatus represents the state of an aggregation job
type JobStatus string

// Job status constants define the lifecycle states
const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// ErrQueueFull is returned by Enqueue when no slot is free
var ErrQueueFull = errors.New("queue is full")

// ErrJobNotFound is returned by GetJob for an unknown id
var ErrJobNotFound = errors.New("job not found")

// ErrShutdown is recorded on jobs still waiting when the queue shuts down
var ErrShutdown = errors.New("queue shut down before the job started")

// Request describes the rides to aggregate. Rides come either from CSV
// files (Inputs) or from the database (StartDate and EndDate).
type Request struct {
	KeyField  ride.KeyField
	Inputs    []string
	StartDate string
	EndDate   string
	// Output overrides the generated CSV path
	Output string
}

// Job represents an aggregation job
type Job struct {
	ID           string
	Request      Request
	Status       JobStatus
	QueuedAt     time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Result       *JobResult
}

// JobResult contains the output of a completed aggregation run
type JobResult struct {
	OutputPath       string
	Rides            int
	Keys             int
	Evictions        uint64
	Published        bool
	ProcessingTimeMS int64
}

// ProcessFunc is a function that processes a job
type ProcessFunc func(ctx context.Context, job *Job) (*JobResult, error)

// Queue manages aggregation jobs with a worker pool
type Queue struct {
	mu           sync.RWMutex
	jobs         map[string]*Job
	pendingQueue chan *Job
	workers      int
	processor    ProcessFunc
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewQueue creates a new job queue with the specified number of workers
func NewQueue(workers int, processor ProcessFunc) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:         make(map[string]*Job),
		pendingQueue: make(chan *Job, 100),
		workers:      workers,
		processor:    processor,
		ctx:          ctx,
		cancel:       cancel,
	}

	// Start worker pool
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(req Request) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx.Err() != nil {
		return "", fmt.Errorf("queue is shut down")
	}

	job := &Job{
		ID:       uuid.New().String(),
		Request:  cloneRequest(req),
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC(),
	}

	// Add to pending queue (non-blocking)
	select {
	case q.pendingQueue <- job:
		q.jobs[job.ID] = job
		metrics.QueueDepth.Inc()
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// GetJob retrieves a copy of a job by ID
func (q *Queue) GetJob(jobID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, exists := q.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return copyJob(job), nil
}

// ListJobs returns jobs filtered by status, newest first
func (q *Queue) ListJobs(status JobStatus, limit, offset int) []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var filtered []*Job
	for _, job := range q.jobs {
		if status == "" || job.Status == status {
			filtered = append(filtered, copyJob(job))
		}
	}

	slices.SortFunc(filtered, func(a, b *Job) int {
		if c := b.QueuedAt.Compare(a.QueuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	// Apply pagination
	start := offset
	if start > len(filtered) {
		return []*Job{}
	}

	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return filtered[start:end]
}

// Stats counts jobs by lifecycle state
type Stats struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{Total: len(q.jobs)}
	for _, job := range q.jobs {
		switch job.Status {
		case StatusQueued:
			stats.Queued++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pendingQueue:
			metrics.QueueDepth.Dec()
			if q.ctx.Err() != nil {
				q.dropJob(job)
				continue
			}
			q.processJob(id, job)
		}
	}
}

// processJob executes a single job
func (q *Queue) processJob(workerID int, job *Job) {
	startTime := time.Now()

	// Update status to processing
	q.mu.Lock()
	job.Status = StatusProcessing
	now := time.Now().UTC()
	job.StartedAt = &now
	q.mu.Unlock()

	logger := log.With().Str("job_id", job.ID).Int("worker", workerID).Logger()
	logger.Debug().Msg("Job started")

	// Process the job
	result, err := q.processor(q.ctx, job)

	// Update job with result
	q.mu.Lock()
	defer q.mu.Unlock()

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		metrics.JobsTotal.WithLabelValues(string(StatusFailed)).Inc()
		logger.Error().Err(err).Msg("Job failed")
		return
	}

	job.Status = StatusCompleted
	job.Result = result
	if result != nil {
		result.ProcessingTimeMS = time.Since(startTime).Milliseconds()
	}
	metrics.JobsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	logger.Info().Dur("elapsed", time.Since(startTime)).Msg("Job completed")
}

// Shutdown gracefully shuts down the queue
func (q *Queue) Shutdown(timeout time.Duration) error {
	// Stop accepting new jobs
	q.mu.Lock()
	q.cancel()
	q.mu.Unlock()

	q.failPending()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// failPending marks jobs that never reached a worker as failed
func (q *Queue) failPending() {
	for {
		select {
		case job := <-q.pendingQueue:
			metrics.QueueDepth.Dec()
			q.dropJob(job)
		default:
			return
		}
	}
}

func (q *Queue) dropJob(job *Job) {
	q.mu.Lock()
	completedAt := time.Now().UTC()
	job.Status = StatusFailed
	job.CompletedAt = &completedAt
	job.ErrorMessage = ErrShutdown.Error()
	q.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(StatusFailed)).Inc()
	log.Warn().Str("job_id", job.ID).Msg("Job dropped at shutdown")
}

func cloneRequest(req Request) Request {
	req.Inputs = slices.Clone(req.Inputs)
	return req
}

// copyJob returns a deep copy to prevent external mutation
func copyJob(job *Job) *Job {
	jobCopy := *job
	jobCopy.Request = cloneRequest(job.Request)
	if job.StartedAt != nil {
		startedCopy := *job.StartedAt
		jobCopy.StartedAt = &startedCopy
	}
	if job.CompletedAt != nil {
		completedCopy := *job.CompletedAt
		jobCopy.CompletedAt = &completedCopy
	}
	if job.Result != nil {
		resultCopy := *job.Result
		jobCopy.Result = &resultCopy
	}
	return &jobCopy
}
