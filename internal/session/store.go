package session

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store persists sessions keyed by id. Implementations must return deep
// copies so callers can never mutate stored state behind the manager's back.
type Store interface {
	// Load returns the session or ErrNotFound.
	Load(ctx context.Context, id uuid.UUID) (*Session, error)

	// Save upserts the session.
	Save(ctx context.Context, s *Session) error

	// List returns sessions matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Session, error)

	// Close releases any underlying resources.
	Close() error
}

// Filter selects sessions for listing.
type Filter struct {
	Status    *Status
	Flagged   *bool
	SubjectID string
	Limit     int
	Offset    int
}

func (f *Filter) matches(s *Session) bool {
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	if f.Flagged != nil && s.Aggregates.FlaggedForReview != *f.Flagged {
		return false
	}
	if f.SubjectID != "" && s.SubjectID != f.SubjectID {
		return false
	}
	return true
}

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]*Session)}
}

// Load returns a deep copy of the session or ErrNotFound.
func (m *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, NewError("Load", id, ErrNotFound)
	}
	return s.Clone(), nil
}

// Save stores a deep copy of the session.
func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s.Clone()
	return nil
}

// List returns matching sessions sorted by start time, newest first.
func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]*Session, error) {
	m.mu.RLock()
	results := make([]*Session, 0)
	for _, s := range m.sessions {
		if filter.matches(s) {
			results = append(results, s.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartTime.After(results[j].StartTime)
	})

	return paginate(results, filter.Offset, filter.Limit), nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func paginate(sessions []*Session, offset, limit int) []*Session {
	if offset > 0 {
		if offset >= len(sessions) {
			return []*Session{}
		}
		sessions = sessions[offset:]
	}
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions
}
