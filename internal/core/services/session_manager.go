package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	apperrors "media-toolkit/pkg/errors"
	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/metrics"
)

// SessionManagerConfig wires the session manager
type SessionManagerConfig struct {
	Transforms  ports.TransformService
	Store       ports.ResultStore
	TTL         time.Duration
	MaxSessions int
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

// SessionManager implements the SessionService port. It owns sessions by
// id and evicts the ones left idle longer than the configured TTL.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	transforms  ports.TransformService
	store       ports.ResultStore
	ttl         time.Duration
	maxSessions int
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewSessionManager creates a session manager
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		transforms:  cfg.Transforms,
		store:       cfg.Store,
		ttl:         cfg.TTL,
		maxSessions: cfg.MaxSessions,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
}

var _ ports.SessionService = (*SessionManager)(nil)

// sessionRunner tags every transform with the session id so logs and
// events can be correlated.
type sessionRunner struct {
	id         string
	transforms ports.TransformService
}

func (r sessionRunner) Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error) {
	return r.transforms.Transform(logger.WithSessionID(ctx, r.id), req, progress)
}

func (m *SessionManager) Create(ctx context.Context, kind domain.OperationKind) (*domain.SessionSnapshot, error) {
	op, err := m.transforms.Operation(kind)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	session := NewSession(id, op, sessionRunner{id: id, transforms: m.transforms}, m.store)

	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ResourceError, "TOO_MANY_SESSIONS", "session limit of %d reached", m.maxSessions)
	}
	m.sessions[id] = session
	m.mu.Unlock()

	m.reportSessions()
	m.logger.FromContext(logger.WithSessionID(ctx, id)).Info().
		Str("operation", string(kind)).
		Msg("Session created")
	return session.Snapshot(), nil
}

func (m *SessionManager) Get(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	session, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return session.Snapshot(), nil
}

func (m *SessionManager) SelectFiles(ctx context.Context, id string, files []domain.SourceFile) (*domain.SessionSnapshot, error) {
	session, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return session.SelectFiles(files)
}

func (m *SessionManager) Configure(ctx context.Context, id string, params map[string]interface{}) (*domain.SessionSnapshot, error) {
	session, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return session.Configure(params)
}

// Run executes the session's transformation within the caller's context.
func (m *SessionManager) Run(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	session, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return session.Run(ctx)
}

// Start runs the transformation in the background. The work outlives the
// request that started it.
func (m *SessionManager) Start(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	session, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return session.Start(context.WithoutCancel(ctx))
}

func (m *SessionManager) Reset(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	session, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return session.Reset()
}

func (m *SessionManager) Artifact(ctx context.Context, id string, index int) (*domain.Artifact, error) {
	session, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return session.Artifact(index)
}

// Close removes the session and revokes its result. A busy session cannot
// be closed.
func (m *SessionManager) Close(ctx context.Context, id string) error {
	session, err := m.session(id)
	if err != nil {
		return err
	}
	if err := session.Close(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.reportSessions()
	return nil
}

// Len returns the number of live sessions
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Evict closes sessions idle for longer than the TTL and sweeps expired
// results. It returns the number of sessions removed.
func (m *SessionManager) Evict() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var stale []*Session
	for id, session := range m.sessions {
		last, busy := session.IdleSince()
		if busy || !last.Before(cutoff) {
			continue
		}
		if session.Close() == nil {
			stale = append(stale, session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	if sweeper, ok := m.store.(interface{ Sweep() int }); ok {
		sweeper.Sweep()
	}

	if len(stale) > 0 {
		m.reportSessions()
		m.logger.Info().Int("evicted", len(stale)).Msg("Evicted idle sessions")
	}
	return len(stale)
}

// StartCleanup evicts idle sessions every interval until ctx is done.
func (m *SessionManager) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Evict()
			}
		}
	}()
}

func (m *SessionManager) session(id string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, sessionNotFound(id)
	}
	return session, nil
}

func (m *SessionManager) reportSessions() {
	if m.metrics != nil {
		m.metrics.SetActiveSessions(float64(m.Len()))
	}
}
