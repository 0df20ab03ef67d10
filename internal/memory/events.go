package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
)

// EventStore is the in-memory audit.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []*audit.Event
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Insert(_ context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *EventStore) InsertBatch(_ context.Context, events []*audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *EventStore) ListByUser(_ context.Context, userID string, from, to time.Time) ([]*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Event
	for _, event := range s.events {
		if event.UserID != userID {
			continue
		}
		if event.Timestamp.Before(from) || event.Timestamp.After(to) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}
