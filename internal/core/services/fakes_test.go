package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

// mp4Bytes is just enough of an ISO BMFF header to be sniffed as video/mp4.
func mp4Bytes() []byte {
	data := []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2")
	return append(data, make([]byte, 64)...)
}

// fakeTransformer echoes its first input under a derived name. When gate is
// set it blocks until the gate is closed.
type fakeTransformer struct {
	mu      sync.Mutex
	calls   int
	err     error
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeTransformer) Name() string { return "fake" }

func (f *fakeTransformer) Operations() []domain.Operation {
	return []domain.Operation{{
		Kind:     domain.OpImageRotate,
		Category: domain.CategoryImage,
		MinFiles: 1,
		MaxFiles: 2,
		Accept:   []string{"image/"},
		Defaults: map[string]interface{}{"angle": 90},
	}}
}

func (f *fakeTransformer) Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if progress != nil {
		progress(0.5)
	}
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	data := append([]byte(nil), req.Files[0].Data...)
	return &domain.TransformResult{
		Operation: req.Operation,
		Artifacts: []domain.Artifact{{Name: "rotated-" + req.Files[0].Name, MimeType: "image/png", Size: int64(len(data)), Data: data}},
		Metadata:  map[string]interface{}{"angle": req.Params["angle"]},
	}, nil
}

func (f *fakeTransformer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return data, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok, nil
}

func (c *memoryCache) Close() error { return nil }

type recordingEvents struct {
	mu        sync.Mutex
	completed []*ports.TransformCompletedEvent
	failed    []*ports.TransformFailedEvent
}

func (e *recordingEvents) PublishTransformCompleted(ctx context.Context, event *ports.TransformCompletedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, event)
	return nil
}

func (e *recordingEvents) PublishTransformFailed(ctx context.Context, event *ports.TransformFailedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, event)
	return nil
}

type memoryStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{files: make(map[string][]byte)}
}

func (s *memoryStorage) Store(ctx context.Context, key string, data io.Reader) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = content
	return nil
}

func (s *memoryStorage) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *memoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}

func (s *memoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[key]
	return ok, nil
}

func (s *memoryStorage) URL(key string) string { return "" }

type memoryQueue struct {
	mu      sync.Mutex
	pending []string
	jobs    map[string]domain.TransformJob
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{jobs: make(map[string]domain.TransformJob)}
}

func (q *memoryQueue) Enqueue(ctx context.Context, job *domain.TransformJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = domain.JobStatusPending
	q.jobs[job.ID] = *job
	q.pending = append(q.pending, job.ID)
	return nil
}

func (q *memoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.TransformJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	job := q.jobs[id]
	job.Status = domain.JobStatusProcessing
	q.jobs[id] = job
	return &job, nil
}

func (q *memoryQueue) Get(ctx context.Context, id string) (*domain.TransformJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (q *memoryQueue) Complete(ctx context.Context, job *domain.TransformJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = domain.JobStatusCompleted
	q.jobs[job.ID] = *job
	return nil
}

func (q *memoryQueue) Fail(ctx context.Context, job *domain.TransformJob, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = domain.JobStatusFailed
	job.Error = msg
	q.jobs[job.ID] = *job
	return nil
}

func (q *memoryQueue) GetStats(ctx context.Context) (*domain.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &domain.QueueStats{PendingJobs: int64(len(q.pending)), TotalJobs: int64(len(q.jobs))}, nil
}

func (q *memoryQueue) Close() error { return nil }
