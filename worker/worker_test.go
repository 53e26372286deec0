package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-toolkit/config"
	"media-toolkit/internal/core/domain"
)

// fakeQueue hands out jobs from a channel and reports a settable backlog.
type fakeQueue struct {
	jobs    chan *domain.TransformJob
	mu      sync.Mutex
	pending int64
	err     error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(chan *domain.TransformJob, 16)}
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.TransformJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) GetStats(ctx context.Context) (*domain.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	return &domain.QueueStats{PendingJobs: q.pending}, nil
}

func (q *fakeQueue) setPending(n int64) {
	q.mu.Lock()
	q.pending = n
	q.mu.Unlock()
}

type fakeExecutor struct {
	mu   sync.Mutex
	done []string
	err  error
	hold chan struct{}
}

func (e *fakeExecutor) Execute(ctx context.Context, job *domain.TransformJob) error {
	if e.hold != nil {
		<-e.hold
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = append(e.done, job.ID)
	return e.err
}

func (e *fakeExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.done...)
}

func TestWorkerStartStop(t *testing.T) {
	worker := NewWorker(newFakeQueue(), &fakeExecutor{}, 10*time.Millisecond, nil)
	require.NotNil(t, worker)
	assert.NotEmpty(t, worker.ID())
	assert.False(t, worker.IsRunning())

	worker.Start()
	assert.True(t, worker.IsRunning())
	worker.Start()

	worker.Stop()
	assert.False(t, worker.IsRunning())
	worker.Stop()
}

func TestWorkerProcessesJobs(t *testing.T) {
	q := newFakeQueue()
	exec := &fakeExecutor{}
	worker := NewWorker(q, exec, 10*time.Millisecond, nil)
	worker.Start()
	defer worker.Stop()

	q.jobs <- &domain.TransformJob{ID: "job-1", Operation: domain.OpPDFCompress}
	q.jobs <- &domain.TransformJob{ID: "job-2", Operation: domain.OpVideoTrim}

	assert.Eventually(t, func() bool {
		return len(exec.executed()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"job-1", "job-2"}, exec.executed())
}

func TestWorkerContinuesAfterFailedJob(t *testing.T) {
	q := newFakeQueue()
	exec := &fakeExecutor{err: errors.New("transform failed")}
	worker := NewWorker(q, exec, 10*time.Millisecond, nil)
	worker.Start()
	defer worker.Stop()

	q.jobs <- &domain.TransformJob{ID: "bad"}
	q.jobs <- &domain.TransformJob{ID: "next"}

	assert.Eventually(t, func() bool {
		return len(exec.executed()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerStopFinishesJobInFlight(t *testing.T) {
	q := newFakeQueue()
	exec := &fakeExecutor{hold: make(chan struct{})}
	worker := NewWorker(q, exec, 10*time.Millisecond, nil)
	worker.Start()

	q.jobs <- &domain.TransformJob{ID: "long"}
	assert.Eventually(t, func() bool { return len(q.jobs) == 0 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		worker.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(exec.hold)
	<-stopped
	assert.Equal(t, []string{"long"}, exec.executed())
}

func getTestWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		MaxConcurrency:     3,
		MinWorkers:         1,
		QueueName:          "test_worker_queue",
		PollTimeout:        10 * time.Millisecond,
		ScaleUpThreshold:   5,
		ScaleDownThreshold: 1,
		CheckInterval:      20 * time.Millisecond,
		ScaleDelay:         time.Millisecond,
	}
}

func TestWorkerManagerDefaults(t *testing.T) {
	wm := NewWorkerManager(newFakeQueue(), &fakeExecutor{}, config.WorkerConfig{}, nil, nil)

	stats := wm.GetStats()
	assert.Equal(t, 1, stats.MinWorkers)
	assert.Equal(t, 2, stats.MaxWorkers)
	assert.Equal(t, int64(4), stats.ScaleUpThreshold)
	assert.Equal(t, int64(1), stats.ScaleDownThreshold)
	assert.Equal(t, "10s", stats.CheckInterval)
	assert.Equal(t, "30s", stats.ScaleDelay)
}

func TestWorkerManagerScaling(t *testing.T) {
	q := newFakeQueue()
	wm := NewWorkerManager(q, &fakeExecutor{}, getTestWorkerConfig(), nil, nil)
	wm.Start()
	defer wm.Stop()

	assert.Equal(t, 1, wm.GetStats().ActiveWorkers)

	q.setPending(10)
	assert.Eventually(t, func() bool {
		return wm.GetStats().ActiveWorkers == 3
	}, 2*time.Second, 10*time.Millisecond, "scales up to the maximum")

	q.setPending(0)
	assert.Eventually(t, func() bool {
		return wm.GetStats().ActiveWorkers == 1
	}, 2*time.Second, 10*time.Millisecond, "scales back down to the minimum")
}

func TestWorkerManagerIgnoresStatsErrors(t *testing.T) {
	q := newFakeQueue()
	q.err = errors.New("redis down")
	wm := NewWorkerManager(q, &fakeExecutor{}, getTestWorkerConfig(), nil, nil)
	wm.Start()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, wm.GetStats().ActiveWorkers)

	wm.Stop()
	assert.Equal(t, 0, wm.GetStats().ActiveWorkers)
}

func TestWorkerManagerDrainsQueue(t *testing.T) {
	q := newFakeQueue()
	exec := &fakeExecutor{}
	wm := NewWorkerManager(q, exec, getTestWorkerConfig(), nil, nil)
	wm.Start()
	defer wm.Stop()

	for _, id := range []string{"a", "b", "c"} {
		q.jobs <- &domain.TransformJob{ID: id}
	}
	assert.Eventually(t, func() bool {
		return len(exec.executed()) == 3
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, exec.executed())
}
