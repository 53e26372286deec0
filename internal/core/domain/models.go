package domain

import (
	"time"
)

// OperationKind names one transformation the toolkit offers.
type OperationKind string

const (
	OpVideoTrim      OperationKind = "video-trim"
	OpVideoSpeed     OperationKind = "video-speed"
	OpVideoConvert   OperationKind = "video-convert"
	OpVideoWatermark OperationKind = "video-watermark"
	OpExtractAudio   OperationKind = "extract-audio"
	OpVideoToGif     OperationKind = "video-to-gif"
	OpGifToVideo     OperationKind = "gif-to-video"
	OpVideoMerge     OperationKind = "video-merge"
	OpVideoAddMusic  OperationKind = "video-add-music"

	OpImageCompress  OperationKind = "image-compress"
	OpImageResize    OperationKind = "image-resize"
	OpImageCrop      OperationKind = "image-crop"
	OpImageRotate    OperationKind = "image-rotate"
	OpImageConvert   OperationKind = "image-convert"
	OpImageWatermark OperationKind = "image-watermark"

	OpPDFMerge    OperationKind = "pdf-merge"
	OpPDFSplit    OperationKind = "pdf-split"
	OpPDFCompress OperationKind = "pdf-compress"
)

// Category groups operations by the kind of media they accept.
type Category string

const (
	CategoryVideo Category = "video"
	CategoryImage Category = "image"
	CategoryPDF   Category = "pdf"
)

// Operation describes an operation to clients.
type Operation struct {
	Kind        OperationKind          `json:"kind"`
	Category    Category               `json:"category"`
	Description string                 `json:"description"`
	MinFiles    int                    `json:"min_files"`
	MaxFiles    int                    `json:"max_files"`
	Accept      []string               `json:"accept"`
	Defaults    map[string]interface{} `json:"defaults"`
}

// SourceFile is an input selected for a transform.
type SourceFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

// TransformRequest is one fully configured transformation.
type TransformRequest struct {
	Operation OperationKind          `json:"operation"`
	Files     []SourceFile           `json:"files"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// TotalSize sums the size of every input.
func (r *TransformRequest) TotalSize() int64 {
	var total int64
	for _, f := range r.Files {
		total += int64(len(f.Data))
	}
	return total
}

// Artifact is a packaged output. Ref is set once it is held by a result store.
type Artifact struct {
	Ref      string `json:"ref,omitempty"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

// TransformResult is the outcome of a successful transform.
type TransformResult struct {
	Operation   OperationKind          `json:"operation"`
	Artifacts   []Artifact             `json:"artifacts"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Duration    time.Duration          `json:"duration"`
	Cached      bool                   `json:"cached"`
	CompletedAt time.Time              `json:"completed_at"`
}

// OutputSize sums the size of every artifact.
func (r *TransformResult) OutputSize() int64 {
	var total int64
	for _, a := range r.Artifacts {
		total += a.Size
	}
	return total
}

// ProgressFunc receives progress as a fraction in [0, 1].
type ProgressFunc func(fraction float64)

// SessionState is the lifecycle state of a transform session.
type SessionState string

const (
	SessionIdle         SessionState = "idle"
	SessionFileSelected SessionState = "file_selected"
	SessionConfiguring  SessionState = "configuring"
	SessionProcessing   SessionState = "processing"
	SessionCompleted    SessionState = "completed"
	SessionFailed       SessionState = "failed"
)

// FileInfo describes a selected input without its content.
type FileInfo struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// SessionSnapshot is a consistent copy of a session's observable state.
type SessionSnapshot struct {
	ID        string                 `json:"id"`
	Operation OperationKind          `json:"operation"`
	State     SessionState           `json:"state"`
	Progress  int                    `json:"progress"`
	Files     []FileInfo             `json:"files"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Result    *TransformResult       `json:"result,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// JobStatus represents the job processing status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// StoredFile points at a job input or output in file storage.
type StoredFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Key      string `json:"key"`
	URL      string `json:"url,omitempty"`
}

// TransformJob is an asynchronous transform executed by a worker.
type TransformJob struct {
	ID          string                 `json:"id"`
	Operation   OperationKind          `json:"operation"`
	Status      JobStatus              `json:"status"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Inputs      []StoredFile           `json:"inputs"`
	Outputs     []StoredFile           `json:"outputs,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// QueueStats represents queue statistics
type QueueStats struct {
	PendingJobs    int64     `json:"pending_jobs"`
	ProcessingJobs int64     `json:"processing_jobs"`
	CompletedJobs  int64     `json:"completed_jobs"`
	FailedJobs     int64     `json:"failed_jobs"`
	TotalJobs      int64     `json:"total_jobs"`
	Timestamp      time.Time `json:"timestamp"`
}

// Error types
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e DomainError) Error() string {
	return e.Message
}

// Common errors
var (
	ErrOperationNotFound = DomainError{Code: "OPERATION_NOT_FOUND", Message: "Operation not found"}
	ErrSessionNotFound   = DomainError{Code: "SESSION_NOT_FOUND", Message: "Session not found"}
	ErrJobNotFound       = DomainError{Code: "JOB_NOT_FOUND", Message: "Job not found"}
	ErrResultNotFound    = DomainError{Code: "RESULT_NOT_FOUND", Message: "Result not found or revoked"}
	ErrSessionBusy       = DomainError{Code: "SESSION_BUSY", Message: "Session is already processing"}
	ErrInvalidTransition = DomainError{Code: "INVALID_TRANSITION", Message: "Operation not allowed in the current session state"}
	ErrNoFiles           = DomainError{Code: "NO_FILES", Message: "No files selected"}
	ErrUnsupportedFormat = DomainError{Code: "UNSUPPORTED_FORMAT", Message: "Unsupported file format"}
)
