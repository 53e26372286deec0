package ports

import (
	"context"
	"io"
	"time"

	"media-toolkit/internal/core/domain"
)

// Primary Ports (inbound)

// TransformService runs transformations synchronously.
type TransformService interface {
	Operations() []domain.Operation
	Operation(kind domain.OperationKind) (domain.Operation, error)
	Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error)
}

// SessionService manages interactive transform sessions.
type SessionService interface {
	Create(ctx context.Context, kind domain.OperationKind) (*domain.SessionSnapshot, error)
	Get(ctx context.Context, id string) (*domain.SessionSnapshot, error)
	SelectFiles(ctx context.Context, id string, files []domain.SourceFile) (*domain.SessionSnapshot, error)
	Configure(ctx context.Context, id string, params map[string]interface{}) (*domain.SessionSnapshot, error)
	Run(ctx context.Context, id string) (*domain.SessionSnapshot, error)
	Start(ctx context.Context, id string) (*domain.SessionSnapshot, error)
	Reset(ctx context.Context, id string) (*domain.SessionSnapshot, error)
	Artifact(ctx context.Context, id string, index int) (*domain.Artifact, error)
	Close(ctx context.Context, id string) error
}

// JobService accepts asynchronous transform jobs.
type JobService interface {
	Submit(ctx context.Context, kind domain.OperationKind, files []domain.SourceFile, params map[string]interface{}) (*domain.TransformJob, error)
	Get(ctx context.Context, id string) (*domain.TransformJob, error)
	Output(ctx context.Context, id string, index int) (*domain.StoredFile, io.ReadCloser, error)
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// Secondary Ports (outbound)

// Transformer executes one family of operations.
type Transformer interface {
	Name() string
	Operations() []domain.Operation
	Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error)
}

// ResultStore holds packaged artifacts behind opaque references.
type ResultStore interface {
	Put(artifact domain.Artifact) string
	Get(ref string) (*domain.Artifact, error)
	Revoke(refs ...string)
	Len() int
}

// FileStorage defines file storage operations
type FileStorage interface {
	Store(ctx context.Context, key string, data io.Reader) error
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// Queue defines queue operations
type Queue interface {
	Enqueue(ctx context.Context, job *domain.TransformJob) error
	Dequeue(ctx context.Context, timeout time.Duration) (*domain.TransformJob, error)
	Get(ctx context.Context, jobID string) (*domain.TransformJob, error)
	Complete(ctx context.Context, job *domain.TransformJob) error
	Fail(ctx context.Context, job *domain.TransformJob, errorMsg string) error
	GetStats(ctx context.Context) (*domain.QueueStats, error)
	Close() error
}

// Cache defines caching operations
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// EventPublisher defines event publishing operations
type EventPublisher interface {
	PublishTransformCompleted(ctx context.Context, event *TransformCompletedEvent) error
	PublishTransformFailed(ctx context.Context, event *TransformFailedEvent) error
}

// Event types
type TransformCompletedEvent struct {
	Operation   domain.OperationKind `json:"operation"`
	SessionID   string               `json:"session_id,omitempty"`
	JobID       string               `json:"job_id,omitempty"`
	Outputs     []string             `json:"outputs"`
	OutputSize  int64                `json:"output_size"`
	Cached      bool                 `json:"cached"`
	Duration    string               `json:"duration"`
	CompletedAt string               `json:"completed_at"`
}

type TransformFailedEvent struct {
	Operation domain.OperationKind `json:"operation"`
	SessionID string               `json:"session_id,omitempty"`
	JobID     string               `json:"job_id,omitempty"`
	Code      string               `json:"code"`
	Error     string               `json:"error"`
	FailedAt  string               `json:"failed_at"`
}
