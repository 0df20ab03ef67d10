package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
)

// AuditRepository is the postgres audit.EventStore.
type AuditRepository struct {
	BaseRepository
	logger *zap.Logger
}

func NewAuditRepository(db *sqlx.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

type auditRow struct {
	ID        string    `db:"id"`
	EventType string    `db:"event_type"`
	Category  string    `db:"category"`
	Action    string    `db:"action"`
	UserID    string    `db:"user_id"`
	SessionID string    `db:"session_id"`
	EntityID  string    `db:"entity_id"`
	Severity  string    `db:"severity"`
	Details   []byte    `db:"details"`
	IPAddress string    `db:"ip_address"`
	Result    string    `db:"result"`
	Timestamp time.Time `db:"timestamp"`
}

const insertAuditQuery = `
	INSERT INTO audit_events (
		id, event_type, category, action, user_id, session_id,
		entity_id, severity, details, ip_address, result, timestamp
	) VALUES (
		:id, :event_type, :category, :action, :user_id, :session_id,
		:entity_id, :severity, :details, :ip_address, :result, :timestamp
	)`

func (r *AuditRepository) Insert(ctx context.Context, event *audit.Event) error {
	row, err := toAuditRow(event)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, insertAuditQuery, row); err != nil {
		r.logger.Error("failed to insert audit event",
			zap.String("event_id", event.ID), zap.Error(err))
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// InsertBatch writes a flush batch in one transaction so a partial flush is
// never persisted.
func (r *AuditRepository) InsertBatch(ctx context.Context, events []*audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]*auditRow, 0, len(events))
	for _, event := range events {
		row, err := toAuditRow(event)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return r.Transaction(func(tx *sqlx.Tx) error {
		for _, row := range rows {
			if _, err := tx.NamedExecContext(ctx, insertAuditQuery, row); err != nil {
				return fmt.Errorf("failed to insert audit event batch: %w", err)
			}
		}
		return nil
	})
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*audit.Event, error) {
	query := `
		SELECT * FROM audit_events
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC`

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	events := make([]*audit.Event, 0, len(rows))
	for i := range rows {
		event, err := fromAuditRow(&rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func toAuditRow(event *audit.Event) (*auditRow, error) {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit details: %w", err)
	}
	return &auditRow{
		ID:        event.ID,
		EventType: event.EventType,
		Category:  event.Category,
		Action:    event.Action,
		UserID:    event.UserID,
		SessionID: event.SessionID,
		EntityID:  event.EntityID,
		Severity:  event.Severity,
		Details:   details,
		IPAddress: event.IPAddress,
		Result:    event.Result,
		Timestamp: event.Timestamp,
	}, nil
}

func fromAuditRow(row *auditRow) (*audit.Event, error) {
	event := &audit.Event{
		ID:        row.ID,
		EventType: row.EventType,
		Category:  row.Category,
		Action:    row.Action,
		UserID:    row.UserID,
		SessionID: row.SessionID,
		EntityID:  row.EntityID,
		Severity:  row.Severity,
		IPAddress: row.IPAddress,
		Result:    row.Result,
		Timestamp: row.Timestamp,
	}
	if len(row.Details) > 0 {
		if err := json.Unmarshal(row.Details, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}
	}
	return event, nil
}
