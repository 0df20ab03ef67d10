package memory

import (
	"context"
	"sync"

	"github.com/Damatnic/CoreV6-sub001/internal/session"
)

// SessionStore is the in-memory session.Store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Record
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*session.Record)}
}

func (s *SessionStore) Put(_ context.Context, record *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[record.SessionID] = cloneSession(record)
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneSession(record), nil
}

func (s *SessionStore) ListActiveByUser(_ context.Context, userID string) ([]*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Record
	for _, record := range s.sessions {
		if record.UserID == userID && record.Status == session.StatusActive {
			out = append(out, cloneSession(record))
		}
	}
	return out, nil
}

func (s *SessionStore) ListActiveIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, record := range s.sessions {
		if record.Status == session.StatusActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *SessionStore) Stats(_ context.Context) (*session.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &session.Stats{
		ActiveByType: make(map[session.Type]int),
		ActiveByUser: make(map[string]int),
	}
	for _, record := range s.sessions {
		if record.Status != session.StatusActive {
			continue
		}
		stats.Active++
		stats.ActiveByType[record.Type]++
		if record.UserID != "" {
			stats.ActiveByUser[record.UserID]++
		}
	}
	return stats, nil
}

func cloneSession(record *session.Record) *session.Record {
	c := *record
	c.ActivityLog = append([]session.ActivityEntry{}, record.ActivityLog...)
	return &c
}
