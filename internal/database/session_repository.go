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

	"github.com/Damatnic/CoreV6-sub001/internal/session"
)

// SessionRepository is the postgres session.Store.
type SessionRepository struct {
	BaseRepository
	logger *zap.Logger
}

func NewSessionRepository(db *sqlx.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

type sessionRow struct {
	SessionID    string    `db:"session_id"`
	UserID       string    `db:"user_id"`
	Type         string    `db:"session_type"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
	LastActivity time.Time `db:"last_activity"`
	ExpiresAt    time.Time `db:"expires_at"`
	IPAddress    string    `db:"ip_address"`
	UserAgent    string    `db:"user_agent"`
	AccessLevel  string    `db:"access_level"`
	ConsentGiven bool      `db:"consent_given"`
	PatientID    string    `db:"patient_id"`
	Flags        []byte    `db:"security_flags"`
	ActivityLog  []byte    `db:"activity_log"`
}

// Put upserts the full session record. The Manager serializes writers per
// session, so last-write-wins is safe here.
func (r *SessionRepository) Put(ctx context.Context, record *session.Record) error {
	query := `
		INSERT INTO sessions (
			session_id, user_id, session_type, status, created_at,
			last_activity, expires_at, ip_address, user_agent, access_level,
			consent_given, patient_id, security_flags, activity_log
		) VALUES (
			:session_id, :user_id, :session_type, :status, :created_at,
			:last_activity, :expires_at, :ip_address, :user_agent, :access_level,
			:consent_given, :patient_id, :security_flags, :activity_log
		)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_activity = EXCLUDED.last_activity,
			expires_at = EXCLUDED.expires_at,
			ip_address = EXCLUDED.ip_address,
			consent_given = EXCLUDED.consent_given,
			patient_id = EXCLUDED.patient_id,
			security_flags = EXCLUDED.security_flags,
			activity_log = EXCLUDED.activity_log`

	row, err := toSessionRow(record)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.Error("failed to put session",
			zap.String("session_id", record.SessionID), zap.Error(err))
		return fmt.Errorf("failed to put session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*session.Record, error) {
	query := `SELECT * FROM sessions WHERE session_id = $1`

	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return fromSessionRow(&row)
}

func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]*session.Record, error) {
	query := `
		SELECT * FROM sessions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY last_activity ASC`

	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	records := make([]*session.Record, 0, len(rows))
	for i := range rows {
		record, err := fromSessionRow(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *SessionRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	query := `SELECT session_id FROM sessions WHERE status = 'active'`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list active session ids: %w", err)
	}
	return ids, nil
}

func (r *SessionRepository) Stats(ctx context.Context) (*session.Stats, error) {
	query := `
		SELECT session_type, COUNT(*) AS count
		FROM sessions
		WHERE status = 'active'
		GROUP BY session_type`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	defer rows.Close()

	stats := &session.Stats{ActiveByType: make(map[session.Type]int)}
	for rows.Next() {
		var sessionType string
		var count int
		if err := rows.Scan(&sessionType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan session stats: %w", err)
		}
		stats.ActiveByType[session.Type(sessionType)] = count
		stats.Active += count
	}
	return stats, rows.Err()
}

func toSessionRow(record *session.Record) (*sessionRow, error) {
	flags, err := json.Marshal(record.Flags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal security flags: %w", err)
	}
	activity, err := json.Marshal(record.ActivityLog)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity log: %w", err)
	}
	return &sessionRow{
		SessionID:    record.SessionID,
		UserID:       record.UserID,
		Type:         string(record.Type),
		Status:       string(record.Status),
		CreatedAt:    record.CreatedAt,
		LastActivity: record.LastActivity,
		ExpiresAt:    record.ExpiresAt,
		IPAddress:    record.IPAddress,
		UserAgent:    record.UserAgent,
		AccessLevel:  string(record.AccessLevel),
		ConsentGiven: record.ConsentGiven,
		PatientID:    record.PatientID,
		Flags:        flags,
		ActivityLog:  activity,
	}, nil
}

func fromSessionRow(row *sessionRow) (*session.Record, error) {
	record := &session.Record{
		SessionID:    row.SessionID,
		UserID:       row.UserID,
		Type:         session.Type(row.Type),
		Status:       session.Status(row.Status),
		CreatedAt:    row.CreatedAt,
		LastActivity: row.LastActivity,
		ExpiresAt:    row.ExpiresAt,
		IPAddress:    row.IPAddress,
		UserAgent:    row.UserAgent,
		AccessLevel:  session.AccessLevel(row.AccessLevel),
		ConsentGiven: row.ConsentGiven,
		PatientID:    row.PatientID,
	}
	if len(row.Flags) > 0 {
		if err := json.Unmarshal(row.Flags, &record.Flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal security flags: %w", err)
		}
	}
	if len(row.ActivityLog) > 0 {
		if err := json.Unmarshal(row.ActivityLog, &record.ActivityLog); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity log: %w", err)
		}
	}
	return record, nil
}
