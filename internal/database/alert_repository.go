package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/crisis"
)

// AlertRepository is the postgres crisis.AlertStore.
type AlertRepository struct {
	BaseRepository
	logger *zap.Logger
}

func NewAlertRepository(db *sqlx.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

type alertRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	Severity   string         `db:"severity"`
	Indicators []byte         `db:"indicators"`
	Context    string         `db:"context"`
	Handled    bool           `db:"handled"`
	HandledBy  sql.NullString `db:"handled_by"`
	HandledAt  *time.Time     `db:"handled_at"`
	DetectedAt time.Time      `db:"detected_at"`
}

func (r *AlertRepository) Insert(ctx context.Context, alert *crisis.SafetyAlert) error {
	query := `
		INSERT INTO safety_alerts (
			id, user_id, severity, indicators, context,
			handled, handled_by, handled_at, detected_at
		) VALUES (
			:id, :user_id, :severity, :indicators, :context,
			:handled, :handled_by, :handled_at, :detected_at
		)`

	row, err := toAlertRow(alert)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.Error("failed to insert safety alert",
			zap.String("alert_id", alert.ID), zap.Error(err))
		return fmt.Errorf("failed to insert safety alert: %w", err)
	}
	return nil
}

func (r *AlertRepository) Update(ctx context.Context, alert *crisis.SafetyAlert) error {
	query := `
		UPDATE safety_alerts SET
			severity = :severity,
			handled = :handled,
			handled_by = :handled_by,
			handled_at = :handled_at
		WHERE id = :id`

	row, err := toAlertRow(alert)
	if err != nil {
		return err
	}

	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		r.logger.Error("failed to update safety alert",
			zap.String("alert_id", alert.ID), zap.Error(err))
		return fmt.Errorf("failed to update safety alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("safety alert not found: %s", alert.ID)
	}
	return nil
}

func (r *AlertRepository) GetByID(ctx context.Context, id string) (*crisis.SafetyAlert, error) {
	query := `SELECT * FROM safety_alerts WHERE id = $1`

	var row alertRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get safety alert: %w", err)
	}
	return fromAlertRow(&row)
}

func (r *AlertRepository) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*crisis.SafetyAlert, error) {
	query := `
		SELECT * FROM safety_alerts
		WHERE user_id = $1 AND detected_at >= $2
		ORDER BY detected_at ASC`

	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, since); err != nil {
		return nil, fmt.Errorf("failed to list safety alerts: %w", err)
	}

	alerts := make([]*crisis.SafetyAlert, 0, len(rows))
	for i := range rows {
		alert, err := fromAlertRow(&rows[i])
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func (r *AlertRepository) CountBySeveritySince(ctx context.Context, userID string, severity crisis.Severity, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM safety_alerts
		WHERE user_id = $1 AND severity = $2 AND detected_at >= $3`

	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, string(severity), since); err != nil {
		return 0, fmt.Errorf("failed to count safety alerts: %w", err)
	}
	return count, nil
}

func (r *AlertRepository) Stats(ctx context.Context) (*crisis.AlertStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE NOT handled) AS unhandled,
			COUNT(*) FILTER (WHERE severity = 'critical') AS critical,
			COUNT(*) FILTER (WHERE severity = 'high') AS high,
			COUNT(*) FILTER (WHERE severity = 'medium') AS medium,
			COUNT(*) FILTER (WHERE severity = 'low') AS low
		FROM safety_alerts`

	var stats crisis.AlertStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get alert stats: %w", err)
	}
	return &stats, nil
}

func toAlertRow(alert *crisis.SafetyAlert) (*alertRow, error) {
	indicators, err := json.Marshal(alert.Indicators)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert indicators: %w", err)
	}
	row := &alertRow{
		ID:         alert.ID,
		UserID:     alert.UserID,
		Severity:   string(alert.Severity),
		Indicators: indicators,
		Context:    alert.Context,
		Handled:    alert.Handled,
		HandledAt:  alert.HandledAt,
		DetectedAt: alert.DetectedAt,
	}
	if alert.HandledBy != "" {
		row.HandledBy = sql.NullString{String: alert.HandledBy, Valid: true}
	}
	return row, nil
}

func fromAlertRow(row *alertRow) (*crisis.SafetyAlert, error) {
	alert := &crisis.SafetyAlert{
		ID:         row.ID,
		UserID:     row.UserID,
		Severity:   crisis.Severity(row.Severity),
		Context:    row.Context,
		Handled:    row.Handled,
		HandledBy:  row.HandledBy.String,
		HandledAt:  row.HandledAt,
		DetectedAt: row.DetectedAt,
	}
	if len(row.Indicators) > 0 {
		if err := json.Unmarshal(row.Indicators, &alert.Indicators); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert indicators: %w", err)
		}
	}
	return alert, nil
}
