package services

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/samber/lo"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	apperrors "media-toolkit/pkg/errors"
)

// Runner performs the transformation behind a session.
type Runner interface {
	Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error)
}

// Session drives one tool through
// idle -> file_selected -> configuring -> processing -> completed | failed.
// A session runs at most one transformation at a time.
type Session struct {
	mu        sync.Mutex
	id        string
	operation domain.Operation
	runner    Runner
	store     ports.ResultStore

	state     domain.SessionState
	progress  int
	files     []domain.SourceFile
	params    map[string]interface{}
	errMsg    string
	result    *domain.TransformResult
	closed    bool
	createdAt time.Time
	updatedAt time.Time
}

// NewSession creates an idle session for the operation
func NewSession(id string, operation domain.Operation, runner Runner, store ports.ResultStore) *Session {
	now := time.Now()
	return &Session{
		id:        id,
		operation: operation,
		runner:    runner,
		store:     store,
		state:     domain.SessionIdle,
		params:    lo.Assign(operation.Defaults),
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() string {
	return s.id
}

// SelectFiles replaces the inputs and drops any previous result.
func (s *Session) SelectFiles(files []domain.SourceFile) (*domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, sessionNotFound(s.id)
	}
	if s.state == domain.SessionProcessing {
		return nil, busyError(s.id)
	}
	if len(files) == 0 {
		return nil, noFilesError()
	}
	if len(files) < s.operation.MinFiles || len(files) > s.operation.MaxFiles {
		return nil, apperrors.Newf(apperrors.ValidationError, "INVALID_FILE_COUNT",
			"%s takes between %d and %d files", s.operation.Kind, s.operation.MinFiles, s.operation.MaxFiles)
	}

	s.revokeResult()
	s.files = append([]domain.SourceFile(nil), files...)
	s.errMsg = ""
	s.progress = 0
	s.transition(domain.SessionFileSelected)
	return s.snapshot(), nil
}

// Configure merges params over the current ones. Configuring a completed or
// failed session keeps its inputs so it can run again; the old result no
// longer matches the params and is revoked.
func (s *Session) Configure(params map[string]interface{}) (*domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, sessionNotFound(s.id)
	}
	switch s.state {
	case domain.SessionProcessing:
		return nil, busyError(s.id)
	case domain.SessionIdle:
		return nil, transitionError(s.state, "configure")
	}

	s.revokeResult()
	s.params = lo.Assign(s.params, params)
	s.transition(domain.SessionConfiguring)
	return s.snapshot(), nil
}

// Run executes the transformation and blocks until it finishes.
func (s *Session) Run(ctx context.Context) (*domain.SessionSnapshot, error) {
	req, err := s.begin()
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, req)
}

// Start moves the session to processing and runs the transformation in the
// background. The returned snapshot is taken after the transition.
func (s *Session) Start(ctx context.Context) (*domain.SessionSnapshot, error) {
	req, err := s.begin()
	if err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	go s.execute(ctx, req) //nolint:errcheck
	return snap, nil
}

func (s *Session) begin() (*domain.TransformRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, sessionNotFound(s.id)
	}
	switch s.state {
	case domain.SessionProcessing:
		return nil, busyError(s.id)
	case domain.SessionIdle:
		return nil, noFilesError()
	}

	s.revokeResult()
	s.errMsg = ""
	s.progress = 0
	s.transition(domain.SessionProcessing)

	return &domain.TransformRequest{
		Operation: s.operation.Kind,
		Files:     append([]domain.SourceFile(nil), s.files...),
		Params:    lo.Assign(s.params),
	}, nil
}

func (s *Session) execute(ctx context.Context, req *domain.TransformRequest) (snap *domain.SessionSnapshot, err error) {
	// A panicking transformer must not leave the session in processing.
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Newf(apperrors.InternalError, "TRANSFORM_PANIC", "transform panicked: %v", r)
			snap, _ = s.finish(nil, err)
		}
	}()

	result, runErr := s.runner.Transform(ctx, req, s.setProgress)
	return s.finish(result, runErr)
}

func (s *Session) finish(result *domain.TransformResult, err error) (*domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && result == nil {
		err = apperrors.New(apperrors.InternalError, "EMPTY_RESULT", "transform produced no result")
	}
	if err != nil {
		s.errMsg = errorMessage(err)
		s.transition(domain.SessionFailed)
		return s.snapshot(), err
	}

	for i := range result.Artifacts {
		result.Artifacts[i].Ref = s.store.Put(result.Artifacts[i])
	}
	s.result = result
	s.progress = 100
	s.transition(domain.SessionCompleted)
	return s.snapshot(), nil
}

func (s *Session) setProgress(fraction float64) {
	p := int(math.Round(fraction * 100))
	p = lo.Clamp(p, 0, 100)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.SessionProcessing && p > s.progress {
		s.progress = p
		s.updatedAt = time.Now()
	}
}

// Reset returns the session to idle and revokes its result.
func (s *Session) Reset() (*domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, sessionNotFound(s.id)
	}
	if s.state == domain.SessionProcessing {
		return nil, busyError(s.id)
	}
	s.revokeResult()
	s.files = nil
	s.params = lo.Assign(s.operation.Defaults)
	s.errMsg = ""
	s.progress = 0
	s.transition(domain.SessionIdle)
	return s.snapshot(), nil
}

// Artifact returns the stored result artifact at index.
func (s *Session) Artifact(index int) (*domain.Artifact, error) {
	s.mu.Lock()
	result := s.result
	s.mu.Unlock()

	if result == nil || index < 0 || index >= len(result.Artifacts) {
		return nil, resultNotFound(s.id, index)
	}
	artifact, err := s.store.Get(result.Artifacts[index].Ref)
	if err != nil {
		return nil, resultNotFound(s.id, index)
	}
	return artifact, nil
}

// Close revokes the result and retires the session so no later call can
// store a new one. A processing session cannot be closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.SessionProcessing {
		return busyError(s.id)
	}
	s.closed = true
	s.revokeResult()
	return nil
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() *domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// IdleSince reports the last state change and whether the session is busy.
func (s *Session) IdleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt, s.state == domain.SessionProcessing
}

func (s *Session) snapshot() *domain.SessionSnapshot {
	snap := &domain.SessionSnapshot{
		ID:        s.id,
		Operation: s.operation.Kind,
		State:     s.state,
		Progress:  s.progress,
		Files: lo.Map(s.files, func(f domain.SourceFile, _ int) domain.FileInfo {
			return domain.FileInfo{Name: f.Name, MimeType: f.MimeType, Size: int64(len(f.Data))}
		}),
		Params:    lo.Assign(s.params),
		Error:     s.errMsg,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.result != nil {
		result := *s.result
		result.Artifacts = append([]domain.Artifact(nil), s.result.Artifacts...)
		snap.Result = &result
	}
	return snap
}

func (s *Session) transition(state domain.SessionState) {
	s.state = state
	s.updatedAt = time.Now()
}

func (s *Session) revokeResult() {
	if s.result == nil {
		return
	}
	s.store.Revoke(lo.Map(s.result.Artifacts, func(a domain.Artifact, _ int) string { return a.Ref })...)
	s.result = nil
}

func busyError(id string) error {
	err := apperrors.NewSessionBusyError(id)
	err.InnerError = domain.ErrSessionBusy
	return err
}

func sessionNotFound(id string) *apperrors.AppError {
	err := apperrors.Newf(apperrors.NotFoundError, "SESSION_NOT_FOUND", "session %s not found", id)
	err.InnerError = domain.ErrSessionNotFound
	return err
}

func noFilesError() error {
	err := apperrors.New(apperrors.ValidationError, "NO_FILES", domain.ErrNoFiles.Message)
	err.InnerError = domain.ErrNoFiles
	return err
}

func transitionError(state domain.SessionState, action string) error {
	err := apperrors.Newf(apperrors.ConflictError, "INVALID_TRANSITION", "cannot %s a session in state %s", action, state)
	err.InnerError = domain.ErrInvalidTransition
	return err
}

func resultNotFound(id string, index int) error {
	err := apperrors.Newf(apperrors.NotFoundError, "RESULT_NOT_FOUND", "result %d of session %s not found", index, id)
	err.InnerError = domain.ErrResultNotFound
	return err
}

func errorMessage(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		if appErr.Details != "" && appErr.Details != appErr.Message {
			return appErr.Message + ": " + appErr.Details
		}
		return appErr.Message
	}
	return err.Error()
}
