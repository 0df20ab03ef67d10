package crisis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/config"
)

// AlertStats aggregates alert counts for reporting.
type AlertStats struct {
	Total     int `json:"total" db:"total"`
	Unhandled int `json:"unhandled" db:"unhandled"`
	Critical  int `json:"critical" db:"critical"`
	High      int `json:"high" db:"high"`
	Medium    int `json:"medium" db:"medium"`
	Low       int `json:"low" db:"low"`
}

// AlertStore persists SafetyAlert records. The crisis package owns the
// records; other components reference them by ID only.
type AlertStore interface {
	Insert(ctx context.Context, alert *SafetyAlert) error
	Update(ctx context.Context, alert *SafetyAlert) error
	GetByID(ctx context.Context, id string) (*SafetyAlert, error)
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*SafetyAlert, error)
	CountBySeveritySince(ctx context.Context, userID string, severity Severity, since time.Time) (int, error)
	Stats(ctx context.Context) (*AlertStats, error)
}

// History derives repetition patterns from a user's rolling alert window.
// It performs no writes; alerts are written only by the intervention engine's
// explicit alert-creation path.
type History struct {
	store  AlertStore
	logger *zap.Logger
	cfg    config.CrisisConfig
	now    func() time.Time
}

// NewHistory creates a history reader over the alert store.
func NewHistory(cfg config.CrisisConfig, logger *zap.Logger, store AlertStore) *History {
	return &History{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Summarize reads the user's alerts within the history window and derives the
// repetition pattern: more than the frequent threshold is "frequent", more
// than the escalating threshold is "escalating", any alert within the recent
// window is "recent".
func (h *History) Summarize(ctx context.Context, userID string) (*HistorySummary, error) {
	now := h.now()
	since := now.Add(-h.cfg.HistoryWindow)

	alerts, err := h.store.ListByUserSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	summary := &HistorySummary{RecentAlertCount: len(alerts)}

	var last time.Time
	for _, a := range alerts {
		if a.DetectedAt.After(last) {
			last = a.DetectedAt
		}
	}
	if !last.IsZero() {
		ts := last
		summary.LastAlertTimestamp = &ts
	}

	switch {
	case summary.RecentAlertCount > h.cfg.FrequentThreshold:
		summary.Pattern = PatternFrequent
	case summary.RecentAlertCount > h.cfg.EscalatingThreshold:
		summary.Pattern = PatternEscalating
	case summary.RecentAlertCount > 0 && now.Sub(last) < h.cfg.RecentAlertWindow:
		summary.Pattern = PatternRecent
	default:
		summary.Pattern = PatternNone
	}

	return summary, nil
}
