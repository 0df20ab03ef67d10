package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Damatnic/CoreV6-sub001/internal/crisis"
	"github.com/Damatnic/CoreV6-sub001/internal/errs"
)

// AlertStore is the in-memory crisis.AlertStore, used in tests and when the
// service runs without a database.
type AlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*crisis.SafetyAlert
}

func NewAlertStore() *AlertStore {
	return &AlertStore{alerts: make(map[string]*crisis.SafetyAlert)}
}

func (s *AlertStore) Insert(_ context.Context, alert *crisis.SafetyAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[alert.ID]; exists {
		return errs.Conflict("alert already exists: %s", alert.ID)
	}
	s.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

func (s *AlertStore) Update(_ context.Context, alert *crisis.SafetyAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[alert.ID]; !exists {
		return errs.NotFound("alert not found: %s", alert.ID)
	}
	s.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

func (s *AlertStore) GetByID(_ context.Context, id string) (*crisis.SafetyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, nil
	}
	return cloneAlert(alert), nil
}

func (s *AlertStore) ListByUserSince(_ context.Context, userID string, since time.Time) ([]*crisis.SafetyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*crisis.SafetyAlert
	for _, alert := range s.alerts {
		if alert.UserID == userID && !alert.DetectedAt.Before(since) {
			out = append(out, cloneAlert(alert))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *AlertStore) CountBySeveritySince(_ context.Context, userID string, severity crisis.Severity, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, alert := range s.alerts {
		if alert.UserID == userID && alert.Severity == severity && !alert.DetectedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *AlertStore) Stats(_ context.Context) (*crisis.AlertStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &crisis.AlertStats{}
	for _, alert := range s.alerts {
		stats.Total++
		if !alert.Handled {
			stats.Unhandled++
		}
		switch alert.Severity {
		case crisis.SeverityCritical:
			stats.Critical++
		case crisis.SeverityHigh:
			stats.High++
		case crisis.SeverityMedium:
			stats.Medium++
		case crisis.SeverityLow:
			stats.Low++
		}
	}
	return stats, nil
}

func cloneAlert(alert *crisis.SafetyAlert) *crisis.SafetyAlert {
	c := *alert
	c.Indicators = append([]string{}, alert.Indicators...)
	if alert.HandledAt != nil {
		t := *alert.HandledAt
		c.HandledAt = &t
	}
	return &c
}
