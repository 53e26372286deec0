package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	"media-toolkit/pkg/metrics"
)

type storedArtifact struct {
	artifact  domain.Artifact
	expiresAt time.Time
}

// MemoryResultStore keeps artifacts in memory behind opaque references until
// they are revoked or expire.
type MemoryResultStore struct {
	mu      sync.RWMutex
	entries map[string]storedArtifact
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewMemoryResultStore creates a result store. A zero ttl keeps artifacts
// until revoked.
func NewMemoryResultStore(ttl time.Duration, m *metrics.Metrics) *MemoryResultStore {
	return &MemoryResultStore{
		entries: make(map[string]storedArtifact),
		ttl:     ttl,
		now:     time.Now,
		metrics: m,
	}
}

var _ ports.ResultStore = (*MemoryResultStore)(nil)

func (s *MemoryResultStore) Put(artifact domain.Artifact) string {
	ref := uuid.New().String()
	artifact.Ref = ref

	entry := storedArtifact{artifact: artifact}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[ref] = entry
	s.mu.Unlock()

	s.report()
	return ref
}

func (s *MemoryResultStore) Get(ref string) (*domain.Artifact, error) {
	s.mu.RLock()
	entry, ok := s.entries[ref]
	s.mu.RUnlock()

	if !ok || s.expired(entry) {
		return nil, domain.ErrResultNotFound
	}
	artifact := entry.artifact
	return &artifact, nil
}

// Revoke releases the given references. Unknown references are ignored.
func (s *MemoryResultStore) Revoke(refs ...string) {
	if len(refs) == 0 {
		return
	}
	s.mu.Lock()
	for _, ref := range refs {
		delete(s.entries, ref)
	}
	s.mu.Unlock()
	s.report()
}

func (s *MemoryResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep drops expired artifacts and returns how many were removed.
func (s *MemoryResultStore) Sweep() int {
	s.mu.Lock()
	removed := 0
	for ref, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, ref)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.report()
	}
	return removed
}

func (s *MemoryResultStore) expired(entry storedArtifact) bool {
	return !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt)
}

func (s *MemoryResultStore) report() {
	if s.metrics != nil {
		s.metrics.SetStoredResults(float64(s.Len()))
	}
}
