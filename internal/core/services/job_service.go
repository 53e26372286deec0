package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	apperrors "media-toolkit/pkg/errors"
	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/metrics"
	"media-toolkit/utils"
)

// JobServiceImpl implements the JobService port. Inputs and outputs live in
// file storage; the queue only carries job records.
type JobServiceImpl struct {
	transforms ports.TransformService
	storage    ports.FileStorage
	queue      ports.Queue
	queueName  string
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

// NewJobService creates a new job service
func NewJobService(transforms ports.TransformService, storage ports.FileStorage, queue ports.Queue, queueName string, log *logger.Logger, m *metrics.Metrics) *JobServiceImpl {
	if log == nil {
		log = logger.Nop()
	}
	return &JobServiceImpl{
		transforms: transforms,
		storage:    storage,
		queue:      queue,
		queueName:  queueName,
		logger:     log,
		metrics:    m,
	}
}

var _ ports.JobService = (*JobServiceImpl)(nil)

func inputKey(jobID string, index int, name string) string {
	return path.Join("jobs", jobID, "input", fmt.Sprintf("%d-%s", index, utils.BaseName(name)+utils.Extension(name)))
}

func outputKey(jobID string, name string) string {
	return path.Join("jobs", jobID, "output", name)
}

// Submit stores the inputs and enqueues a job for the operation.
func (s *JobServiceImpl) Submit(ctx context.Context, kind domain.OperationKind, files []domain.SourceFile, params map[string]interface{}) (*domain.TransformJob, error) {
	op, err := s.transforms.Operation(kind)
	if err != nil {
		return nil, err
	}
	if len(files) < op.MinFiles || len(files) > op.MaxFiles {
		return nil, apperrors.Newf(apperrors.ValidationError, "INVALID_FILE_COUNT",
			"%s takes between %d and %d files, got %d", kind, op.MinFiles, op.MaxFiles, len(files))
	}

	job := &domain.TransformJob{
		ID:        uuid.New().String(),
		Operation: kind,
		Params:    params,
		CreatedAt: time.Now(),
	}

	for i, f := range files {
		key := inputKey(job.ID, i, f.Name)
		if err := s.storage.Store(ctx, key, bytes.NewReader(f.Data)); err != nil {
			s.cleanup(ctx, job.Inputs)
			return nil, apperrors.Wrap(err, apperrors.ResourceError, "STORAGE_FAILED", "failed to store job input")
		}
		job.Inputs = append(job.Inputs, domain.StoredFile{
			Name:     f.Name,
			MimeType: f.MimeType,
			Size:     int64(len(f.Data)),
			Key:      key,
		})
	}

	start := time.Now()
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.cleanup(ctx, job.Inputs)
		s.recordQueue("enqueue_failed", start)
		return nil, apperrors.Wrap(err, apperrors.ProcessingError, "QUEUE_ERROR", "failed to enqueue job")
	}
	s.recordQueue("enqueued", start)
	s.logger.LogQueueOperation(logger.WithJobID(ctx, job.ID), "enqueue", s.queueName, 1)

	return job, nil
}

func (s *JobServiceImpl) Get(ctx context.Context, id string) (*domain.TransformJob, error) {
	job, err := s.queue.Get(ctx, id)
	if err != nil {
		return nil, jobLookupError(id, err)
	}
	return job, nil
}

// Output opens a completed job's artifact
func (s *JobServiceImpl) Output(ctx context.Context, id string, index int) (*domain.StoredFile, io.ReadCloser, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, nil, apperrors.Newf(apperrors.ConflictError, "JOB_NOT_COMPLETED", "job %s is %s", id, job.Status)
	}
	if index < 0 || index >= len(job.Outputs) {
		return nil, nil, apperrors.Newf(apperrors.NotFoundError, "RESULT_NOT_FOUND", "job %s has no output %d", id, index)
	}

	out := job.Outputs[index]
	reader, err := s.storage.Retrieve(ctx, out.Key)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.NotFoundError, "RESULT_NOT_FOUND", "job output is no longer available")
	}
	return &out, reader, nil
}

func (s *JobServiceImpl) Stats(ctx context.Context) (*domain.QueueStats, error) {
	stats, err := s.queue.GetStats(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ProcessingError, "QUEUE_ERROR", "failed to read queue stats")
	}
	if s.metrics != nil {
		s.metrics.SetQueueSize(s.queueName, float64(stats.PendingJobs))
	}
	return stats, nil
}

// Execute runs a dequeued job to completion. Failures are recorded on the
// job and are not retried.
func (s *JobServiceImpl) Execute(ctx context.Context, job *domain.TransformJob) error {
	ctx = logger.WithJobID(ctx, job.ID)
	start := time.Now()

	result, err := s.run(ctx, job)
	if err != nil {
		s.recordQueue("failed", start)
		if failErr := s.queue.Fail(ctx, job, errorMessage(err)); failErr != nil {
			return fmt.Errorf("failed to mark job %s failed: %w", job.ID, failErr)
		}
		return err
	}

	for _, a := range result.Artifacts {
		key := outputKey(job.ID, a.Name)
		if err := s.storage.Store(ctx, key, bytes.NewReader(a.Data)); err != nil {
			s.recordQueue("failed", start)
			s.queue.Fail(ctx, job, "failed to store output: "+err.Error())
			return err
		}
		job.Outputs = append(job.Outputs, domain.StoredFile{
			Name:     a.Name,
			MimeType: a.MimeType,
			Size:     a.Size,
			Key:      key,
			URL:      s.storage.URL(key),
		})
	}
	job.Metadata = result.Metadata
	s.cleanup(ctx, job.Inputs)

	s.recordQueue("completed", start)
	return s.queue.Complete(ctx, job)
}

func (s *JobServiceImpl) run(ctx context.Context, job *domain.TransformJob) (*domain.TransformResult, error) {
	files := make([]domain.SourceFile, 0, len(job.Inputs))
	for _, in := range job.Inputs {
		data, err := s.load(ctx, in.Key)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ResourceError, "STORAGE_FAILED", "failed to load job input")
		}
		files = append(files, domain.SourceFile{Name: in.Name, MimeType: in.MimeType, Size: in.Size, Data: data})
	}

	return s.transforms.Transform(ctx, &domain.TransformRequest{
		Operation: job.Operation,
		Files:     files,
		Params:    job.Params,
	}, nil)
}

func (s *JobServiceImpl) load(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.storage.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *JobServiceImpl) cleanup(ctx context.Context, files []domain.StoredFile) {
	for _, f := range files {
		if err := s.storage.Delete(ctx, f.Key); err != nil {
			s.logger.FromContext(ctx).Warn().Err(err).Str("key", f.Key).Msg("Failed to delete job file")
		}
	}
}

func (s *JobServiceImpl) recordQueue(status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordQueueOperation(s.queueName, status, time.Since(start))
	}
}

func jobLookupError(id string, err error) error {
	if errors.Is(err, domain.ErrJobNotFound) {
		appErr := apperrors.Newf(apperrors.NotFoundError, "JOB_NOT_FOUND", "job %s not found", id)
		appErr.InnerError = err
		return appErr
	}
	return apperrors.Wrap(err, apperrors.ProcessingError, "QUEUE_ERROR", "failed to read job")
}
