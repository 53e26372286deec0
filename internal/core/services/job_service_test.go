package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	apperrors "media-toolkit/pkg/errors"
)

func newTestJobService(fake *fakeTransformer) (*JobServiceImpl, *memoryStorage, *memoryQueue) {
	svc := NewTransformService(TransformServiceConfig{Transformers: []ports.Transformer{fake}})
	storage := newMemoryStorage()
	queue := newMemoryQueue()
	return NewJobService(svc, storage, queue, "test_jobs", nil, nil), storage, queue
}

func TestJobLifecycle(t *testing.T) {
	jobs, storage, queue := newTestJobService(&fakeTransformer{})
	ctx := context.Background()
	data := pngBytes(t)

	job, err := jobs.Submit(ctx, domain.OpImageRotate, []domain.SourceFile{{Name: "photo.png", MimeType: "image/png", Data: data}}, nil)
	require.NoError(t, err)
	require.Len(t, job.Inputs, 1)
	assert.Equal(t, "jobs/"+job.ID+"/input/0-photo.png", job.Inputs[0].Key)
	assert.Len(t, storage.files, 1)

	_, _, err = jobs.Output(ctx, job.ID, 0)
	assert.True(t, apperrors.IsCode(err, "JOB_NOT_COMPLETED"))

	dequeued, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, jobs.Execute(ctx, dequeued))

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	require.Len(t, stored.Outputs, 1)
	assert.Equal(t, "rotated-photo.png", stored.Outputs[0].Name)

	exists, _ := storage.Exists(ctx, job.Inputs[0].Key)
	assert.False(t, exists, "inputs are removed once the job completes")

	file, reader, err := jobs.Output(ctx, job.ID, 0)
	require.NoError(t, err)
	defer reader.Close()
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, content)
	assert.Equal(t, "image/png", file.MimeType)

	_, _, err = jobs.Output(ctx, job.ID, 3)
	assert.True(t, apperrors.IsCode(err, "RESULT_NOT_FOUND"))
}

func TestJobFailureIsTerminal(t *testing.T) {
	jobs, _, queue := newTestJobService(&fakeTransformer{err: apperrors.NewProcessingError("bad input")})
	ctx := context.Background()

	job, err := jobs.Submit(ctx, domain.OpImageRotate, []domain.SourceFile{{Name: "photo.png", Data: pngBytes(t)}}, nil)
	require.NoError(t, err)

	dequeued, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Error(t, jobs.Execute(ctx, dequeued))

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "bad input", stored.Error)

	next, err := queue.Dequeue(ctx, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, next)
}

func TestJobSubmitValidation(t *testing.T) {
	jobs, storage, _ := newTestJobService(&fakeTransformer{})
	ctx := context.Background()

	_, err := jobs.Submit(ctx, "video-reverse", nil, nil)
	assert.True(t, apperrors.IsCode(err, "OPERATION_NOT_FOUND"))

	_, err = jobs.Submit(ctx, domain.OpImageRotate, nil, nil)
	assert.True(t, apperrors.IsCode(err, "INVALID_FILE_COUNT"))
	assert.Empty(t, storage.files)

	_, err = jobs.Get(ctx, "missing")
	assert.True(t, apperrors.IsCode(err, "JOB_NOT_FOUND"))

	stats, err := jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingJobs)
}
