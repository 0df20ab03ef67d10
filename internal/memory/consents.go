package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Damatnic/CoreV6-sub001/internal/consent"
)

// ConsentStore is the in-memory consent.Store.
type ConsentStore struct {
	mu      sync.RWMutex
	records map[string]*consent.Record
}

func NewConsentStore() *ConsentStore {
	return &ConsentStore{records: make(map[string]*consent.Record)}
}

func (s *ConsentStore) Put(_ context.Context, record *consent.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = cloneConsent(record)
	return nil
}

func (s *ConsentStore) Get(_ context.Context, id string) (*consent.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return cloneConsent(record), nil
}

func (s *ConsentStore) ListByUser(_ context.Context, userID string) ([]*consent.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*consent.Record
	for _, record := range s.records {
		if record.UserID == userID {
			out = append(out, cloneConsent(record))
		}
	}
	return out, nil
}

func (s *ConsentStore) ListExpiredGranted(_ context.Context, asOf time.Time) ([]*consent.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*consent.Record
	for _, record := range s.records {
		if record.Status == consent.StatusGranted && record.ExpiresAt != nil && !record.ExpiresAt.After(asOf) {
			out = append(out, cloneConsent(record))
		}
	}
	return out, nil
}

// UserIDs lists every user with at least one consent record.
func (s *ConsentStore) UserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var ids []string
	for _, record := range s.records {
		if !seen[record.UserID] {
			seen[record.UserID] = true
			ids = append(ids, record.UserID)
		}
	}
	return ids, nil
}

func cloneConsent(record *consent.Record) *consent.Record {
	c := *record
	c.DataCategories = append([]string{}, record.DataCategories...)
	c.History = append([]consent.HistoryEntry{}, record.History...)
	if record.GrantedAt != nil {
		t := *record.GrantedAt
		c.GrantedAt = &t
	}
	if record.ExpiresAt != nil {
		t := *record.ExpiresAt
		c.ExpiresAt = &t
	}
	if record.WithdrawnAt != nil {
		t := *record.WithdrawnAt
		c.WithdrawnAt = &t
	}
	return &c
}

// PolicyStore is the in-memory consent.PolicyStore.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*consent.RetentionPolicy
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]*consent.RetentionPolicy)}
}

func clonePolicy(p *consent.RetentionPolicy) *consent.RetentionPolicy {
	clone := *p
	clone.Triggers = append([]consent.Trigger(nil), p.Triggers...)
	clone.Exceptions = append([]consent.Exception(nil), p.Exceptions...)
	clone.Regulations = append([]string(nil), p.Regulations...)
	return &clone
}

func (s *PolicyStore) Put(_ context.Context, policy *consent.RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.ID] = clonePolicy(policy)
	return nil
}

func (s *PolicyStore) Get(_ context.Context, id string) (*consent.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[id]
	if !ok {
		return nil, nil
	}
	return clonePolicy(policy), nil
}

func (s *PolicyStore) ListActive(_ context.Context) ([]*consent.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*consent.RetentionPolicy
	for _, policy := range s.policies {
		if policy.IsActive {
			out = append(out, clonePolicy(policy))
		}
	}
	return out, nil
}
