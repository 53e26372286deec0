package worker

import (
	"context"
	"sync"
	"time"

	"media-toolkit/config"
	"media-toolkit/internal/core/domain"
	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/metrics"
)

// JobQueue is the part of the queue the manager drains and watches.
type JobQueue interface {
	JobSource
	GetStats(ctx context.Context) (*domain.QueueStats, error)
}

// WorkerManager manages a dynamic pool of workers
type WorkerManager struct {
	queue         JobQueue
	executor      JobExecutor
	pollTimeout   time.Duration
	queueName     string
	logger        *logger.Logger
	metrics       *metrics.Metrics
	workers       map[string]*Worker
	workersMutex  sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	scalingTicker *time.Ticker

	// Scaling parameters
	minWorkers         int
	maxWorkers         int
	scaleUpThreshold   int64 // pending jobs above which a worker is added
	scaleDownThreshold int64 // pending jobs below which a worker is removed
	checkInterval      time.Duration
	lastScaleTime      time.Time
	scaleDelay         time.Duration
}

// Stats describes the pool.
type Stats struct {
	ActiveWorkers      int    `json:"active_workers"`
	MinWorkers         int    `json:"min_workers"`
	MaxWorkers         int    `json:"max_workers"`
	ScaleUpThreshold   int64  `json:"scale_up_threshold"`
	ScaleDownThreshold int64  `json:"scale_down_threshold"`
	CheckInterval      string `json:"check_interval"`
	ScaleDelay         string `json:"scale_delay"`
}

// NewWorkerManager creates a new worker manager with dynamic scaling
func NewWorkerManager(queue JobQueue, executor JobExecutor, cfg config.WorkerConfig, log *logger.Logger, m *metrics.Metrics) *WorkerManager {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = logger.Nop()
	}

	minWorkers := cfg.MinWorkers
	if minWorkers < 1 {
		minWorkers = 1
	}

	maxWorkers := cfg.MaxConcurrency
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers * 2
	}

	scaleUpThreshold := cfg.ScaleUpThreshold
	if scaleUpThreshold <= 0 {
		scaleUpThreshold = int64(maxWorkers * 2)
	}

	scaleDownThreshold := cfg.ScaleDownThreshold
	if scaleDownThreshold <= 0 {
		scaleDownThreshold = int64(minWorkers)
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}

	scaleDelay := cfg.ScaleDelay
	if scaleDelay <= 0 {
		scaleDelay = 30 * time.Second
	}

	return &WorkerManager{
		queue:              queue,
		executor:           executor,
		pollTimeout:        cfg.PollTimeout,
		queueName:          cfg.QueueName,
		logger:             log,
		metrics:            m,
		workers:            make(map[string]*Worker),
		ctx:                ctx,
		cancel:             cancel,
		minWorkers:         minWorkers,
		maxWorkers:         maxWorkers,
		scaleUpThreshold:   scaleUpThreshold,
		scaleDownThreshold: scaleDownThreshold,
		checkInterval:      checkInterval,
		scaleDelay:         scaleDelay,
	}
}

// Start launches the minimum number of workers and the scaling monitor.
func (wm *WorkerManager) Start() {
	for i := 0; i < wm.minWorkers; i++ {
		wm.addWorker()
	}

	wm.scalingTicker = time.NewTicker(wm.checkInterval)
	wm.wg.Add(1)
	go wm.scalingMonitor()

	wm.logger.FromContext(wm.ctx).Info().
		Int("workers", wm.getWorkerCount()).
		Int("min_workers", wm.minWorkers).
		Int("max_workers", wm.maxWorkers).
		Msg("Worker manager started")
}

// Stop gracefully shuts down all workers
func (wm *WorkerManager) Stop() {
	if wm.scalingTicker != nil {
		wm.scalingTicker.Stop()
	}
	wm.cancel()
	wm.wg.Wait()

	wm.workersMutex.Lock()
	var workerWg sync.WaitGroup
	for _, worker := range wm.workers {
		workerWg.Add(1)
		go func(w *Worker) {
			defer workerWg.Done()
			w.Stop()
		}(worker)
	}
	wm.workers = make(map[string]*Worker)
	wm.workersMutex.Unlock()

	workerWg.Wait()
	wm.reportWorkers(0)
	wm.logger.FromContext(wm.ctx).Info().Msg("Worker manager stopped")
}

func (wm *WorkerManager) addWorker() {
	wm.workersMutex.Lock()
	defer wm.workersMutex.Unlock()

	if len(wm.workers) >= wm.maxWorkers {
		return
	}

	worker := NewWorker(wm.queue, wm.executor, wm.pollTimeout, wm.logger)
	wm.workers[worker.id] = worker
	worker.Start()
	wm.reportWorkers(len(wm.workers))
}

func (wm *WorkerManager) removeWorker() {
	wm.workersMutex.Lock()
	defer wm.workersMutex.Unlock()

	if len(wm.workers) <= wm.minWorkers {
		return
	}

	for id, worker := range wm.workers {
		delete(wm.workers, id)
		wm.reportWorkers(len(wm.workers))
		go worker.Stop()
		return
	}
}

func (wm *WorkerManager) reportWorkers(n int) {
	if wm.metrics != nil {
		wm.metrics.SetActiveWorkers(float64(n))
	}
}

func (wm *WorkerManager) scalingMonitor() {
	defer wm.wg.Done()

	for {
		select {
		case <-wm.ctx.Done():
			return
		case <-wm.scalingTicker.C:
			wm.checkAndScale()
		}
	}
}

// checkAndScale adds or removes one worker based on the pending job count,
// at most once per scale delay.
func (wm *WorkerManager) checkAndScale() {
	log := wm.logger.FromContext(wm.ctx)

	stats, err := wm.queue.GetStats(wm.ctx)
	if err != nil {
		if wm.ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to get queue stats")
		}
		return
	}

	pending := stats.PendingJobs
	if wm.metrics != nil {
		wm.metrics.SetQueueSize(wm.queueName, float64(pending))
	}
	currentWorkers := wm.getWorkerCount()

	if time.Since(wm.lastScaleTime) < wm.scaleDelay {
		return
	}

	if pending > wm.scaleUpThreshold && currentWorkers < wm.maxWorkers {
		wm.addWorker()
		wm.lastScaleTime = time.Now()
		log.Info().Int64("pending", pending).Int("workers", currentWorkers+1).Msg("Scaled up")
		return
	}

	if pending < wm.scaleDownThreshold && currentWorkers > wm.minWorkers {
		wm.removeWorker()
		wm.lastScaleTime = time.Now()
		log.Info().Int64("pending", pending).Int("workers", currentWorkers-1).Msg("Scaled down")
	}
}

func (wm *WorkerManager) getWorkerCount() int {
	wm.workersMutex.RLock()
	defer wm.workersMutex.RUnlock()
	return len(wm.workers)
}

// GetStats returns worker manager statistics
func (wm *WorkerManager) GetStats() Stats {
	return Stats{
		ActiveWorkers:      wm.getWorkerCount(),
		MinWorkers:         wm.minWorkers,
		MaxWorkers:         wm.maxWorkers,
		ScaleUpThreshold:   wm.scaleUpThreshold,
		ScaleDownThreshold: wm.scaleDownThreshold,
		CheckInterval:      wm.checkInterval.String(),
		ScaleDelay:         wm.scaleDelay.String(),
	}
}
