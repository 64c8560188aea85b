package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stuartshay/ride-window-worker/internal/ride"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func csvRequest(inputs ...string) Request {
	return Request{KeyField: ride.KeyDriver, Inputs: inputs}
}

// waitForStatus polls until the job reaches status or the deadline passes
func waitForStatus(t *testing.T, q *Queue, jobID string, status JobStatus) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = q.GetJob(jobID)
		return err == nil && job.Status == status
	}, time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, status)
	return job
}

func TestNewQueue(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{OutputPath: "/data/out.csv"}, nil
	}

	q := NewQueue(3, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	assert.Equal(t, 3, q.workers)
	assert.Empty(t, q.jobs)
}

func TestEnqueue(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{OutputPath: "/data/out.csv"}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	inputs := []string{"rides_part1.csv", "rides_part2.csv"}
	jobID, err := q.Enqueue(csvRequest(inputs...))
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	// The queue keeps its own copy of the request.
	inputs[0] = "changed.csv"

	job, err := q.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, ride.KeyDriver, job.Request.KeyField)
	assert.Equal(t, []string{"rides_part1.csv", "rides_part2.csv"}, job.Request.Inputs)
	assert.Contains(t, []JobStatus{StatusQueued, StatusProcessing, StatusCompleted}, job.Status)
}

func TestEnqueue_Full(t *testing.T) {
	release := make(chan struct{})
	processor := func(ctx context.Context, _ *Job) (*JobResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &JobResult{}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()
	defer close(release)

	var err error
	for i := 0; i < cap(q.pendingQueue)+2; i++ {
		if _, err = q.Enqueue(csvRequest("rides.csv")); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.LessOrEqual(t, q.GetStats().Total, cap(q.pendingQueue)+1, "rejected jobs must not be stored")
}

func TestGetJob_NotFound(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return nil, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	_, err := q.GetJob("non-existent-id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestListJobs(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	var ids []string
	for _, name := range []string{"a.csv", "b.csv", "c.csv"} {
		id, err := q.Enqueue(csvRequest(name))
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}
	for _, id := range ids {
		waitForStatus(t, q, id, StatusCompleted)
	}

	jobs := q.ListJobs("", 10, 0)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID, "newest job first")
	assert.Equal(t, ids[0], jobs[2].ID)

	assert.Len(t, q.ListJobs("", 1, 0), 1)
	assert.Len(t, q.ListJobs(StatusCompleted, 10, 0), 3)
	assert.Empty(t, q.ListJobs(StatusFailed, 10, 0))
	assert.Empty(t, q.ListJobs("", 10, 100))
}

func TestProcessJob_Success(t *testing.T) {
	var processorCalled atomic.Bool
	processor := func(_ context.Context, job *Job) (*JobResult, error) {
		processorCalled.Store(true)
		return &JobResult{
			OutputPath: "/data/rides_driver.csv",
			Rides:      100,
			Keys:       12,
			Evictions:  40,
		}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	jobID, err := q.Enqueue(csvRequest("rides.csv"))
	require.NoError(t, err)

	job := waitForStatus(t, q, jobID, StatusCompleted)
	assert.True(t, processorCalled.Load())
	require.NotNil(t, job.Result)
	assert.Equal(t, 100, job.Result.Rides)
	assert.Equal(t, 12, job.Result.Keys)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
}

func TestProcessJob_Failure(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return nil, errors.New("processing failed")
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	jobID, err := q.Enqueue(csvRequest("rides.csv"))
	require.NoError(t, err)

	job := waitForStatus(t, q, jobID, StatusFailed)
	assert.Equal(t, "processing failed", job.ErrorMessage)
	assert.Nil(t, job.Result)
}

func TestGetStats(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	id1, _ := q.Enqueue(csvRequest("a.csv"))
	id2, _ := q.Enqueue(csvRequest("b.csv"))
	waitForStatus(t, q, id1, StatusCompleted)
	waitForStatus(t, q, id2, StatusCompleted)

	stats := q.GetStats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Completed)
}

func TestShutdown(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{}, nil
	}

	q := NewQueue(3, processor)

	require.NoError(t, q.Shutdown(time.Second))

	select {
	case <-q.ctx.Done():
	default:
		t.Error("expected context to be canceled")
	}

	_, err := q.Enqueue(csvRequest("late.csv"))
	assert.Error(t, err)
}

func TestShutdown_FailsPendingJobs(t *testing.T) {
	processor := func(ctx context.Context, _ *Job) (*JobResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	q := NewQueue(1, processor)

	running, err := q.Enqueue(csvRequest("first.csv"))
	require.NoError(t, err)
	waitForStatus(t, q, running, StatusProcessing)

	var pending []string
	for i := 0; i < 3; i++ {
		id, err := q.Enqueue(csvRequest("later.csv"))
		require.NoError(t, err)
		pending = append(pending, id)
	}

	require.NoError(t, q.Shutdown(time.Second))

	for _, id := range pending {
		job, err := q.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, job.Status)
		assert.Equal(t, ErrShutdown.Error(), job.ErrorMessage)
		assert.Nil(t, job.StartedAt)
		assert.NotNil(t, job.CompletedAt)
	}

	job, err := q.GetJob(running)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.NotNil(t, job.StartedAt)

	stats := q.GetStats()
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 4, stats.Failed)
}
