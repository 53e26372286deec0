package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-toolkit/internal/core/domain"
	"media-toolkit/pkg/logger"
)

// JobSource hands out queued jobs. Dequeue returns nil, nil when nothing
// arrived within the timeout.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*domain.TransformJob, error)
}

// JobExecutor runs one job and records its outcome.
type JobExecutor interface {
	Execute(ctx context.Context, job *domain.TransformJob) error
}

type Worker struct {
	id           string
	source       JobSource
	executor     JobExecutor
	pollTimeout  time.Duration
	retryDelay   time.Duration
	logger       *logger.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	isRunning    bool
	runningMutex sync.RWMutex
}

func NewWorker(source JobSource, executor JobExecutor, pollTimeout time.Duration, log *logger.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Worker{
		id:          uuid.New().String(),
		source:      source,
		executor:    executor,
		pollTimeout: pollTimeout,
		retryDelay:  time.Second,
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Start() {
	w.runningMutex.Lock()
	defer w.runningMutex.Unlock()

	if w.isRunning {
		return
	}

	w.logger.FromContext(w.ctx).Info().Str("worker_id", w.id).Msg("Worker starting")
	w.isRunning = true

	w.wg.Add(1)
	go w.workerRoutine()
}

// Stop waits for the job in flight, if any, to finish.
func (w *Worker) Stop() {
	w.runningMutex.Lock()
	if !w.isRunning {
		w.runningMutex.Unlock()
		return
	}
	w.isRunning = false
	w.runningMutex.Unlock()

	w.cancel()
	w.wg.Wait()
	w.logger.FromContext(w.ctx).Info().Str("worker_id", w.id).Msg("Worker stopped")
}

func (w *Worker) IsRunning() bool {
	w.runningMutex.RLock()
	defer w.runningMutex.RUnlock()
	return w.isRunning
}

func (w *Worker) workerRoutine() {
	defer w.wg.Done()
	log := w.logger.FromContext(w.ctx).With().Str("worker_id", w.id).Logger()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		job, err := w.source.Dequeue(w.ctx, w.pollTimeout)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Failed to dequeue job")
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}
		if job == nil {
			continue
		}

		w.processJob(job)
	}
}

func (w *Worker) processJob(job *domain.TransformJob) {
	// A stopping worker still finishes the job it holds.
	ctx := logger.WithJobID(context.WithoutCancel(w.ctx), job.ID)
	log := w.logger.FromContext(ctx).With().Str("worker_id", w.id).Logger()

	log.Info().Str("operation", string(job.Operation)).Msg("Processing job")
	startTime := time.Now()

	if err := w.executor.Execute(ctx, job); err != nil {
		log.Error().Err(err).Dur("duration", time.Since(startTime)).Msg("Job failed")
		return
	}
	log.Info().Dur("duration", time.Since(startTime)).Msg("Job completed")
}
