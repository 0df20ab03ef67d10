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

	"github.com/Damatnic/CoreV6-sub001/internal/consent"
)

// ConsentRepository is the postgres consent.Store.
type ConsentRepository struct {
	BaseRepository
	logger *zap.Logger
}

func NewConsentRepository(db *sqlx.DB, logger *zap.Logger) *ConsentRepository {
	return &ConsentRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

type consentRow struct {
	ID             string     `db:"id"`
	UserID         string     `db:"user_id"`
	Type           string     `db:"consent_type"`
	Status         string     `db:"status"`
	LegalBasis     string     `db:"legal_basis"`
	Purpose        string     `db:"purpose"`
	DataCategories []byte     `db:"data_categories"`
	RequestedAt    time.Time  `db:"requested_at"`
	GrantedAt      *time.Time `db:"granted_at"`
	ExpiresAt      *time.Time `db:"expires_at"`
	WithdrawnAt    *time.Time `db:"withdrawn_at"`
	Method         string     `db:"consent_method"`
	ConsentText    string     `db:"consent_text"`
	History        []byte     `db:"history"`
}

// Put upserts the full consent record. The Engine serializes writers per
// record, so last-write-wins is safe here.
func (r *ConsentRepository) Put(ctx context.Context, record *consent.Record) error {
	query := `
		INSERT INTO consents (
			id, user_id, consent_type, status, legal_basis, purpose,
			data_categories, requested_at, granted_at, expires_at,
			withdrawn_at, consent_method, consent_text, history
		) VALUES (
			:id, :user_id, :consent_type, :status, :legal_basis, :purpose,
			:data_categories, :requested_at, :granted_at, :expires_at,
			:withdrawn_at, :consent_method, :consent_text, :history
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at,
			withdrawn_at = EXCLUDED.withdrawn_at,
			consent_method = EXCLUDED.consent_method,
			history = EXCLUDED.history`

	row, err := toConsentRow(record)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.Error("failed to put consent record",
			zap.String("consent_id", record.ID), zap.Error(err))
		return fmt.Errorf("failed to put consent record: %w", err)
	}
	return nil
}

func (r *ConsentRepository) Get(ctx context.Context, id string) (*consent.Record, error) {
	query := `SELECT * FROM consents WHERE id = $1`

	var row consentRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get consent record: %w", err)
	}
	return fromConsentRow(&row)
}

func (r *ConsentRepository) ListByUser(ctx context.Context, userID string) ([]*consent.Record, error) {
	query := `SELECT * FROM consents WHERE user_id = $1 ORDER BY requested_at ASC`

	var rows []consentRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list consent records: %w", err)
	}
	return fromConsentRows(rows)
}

func (r *ConsentRepository) ListExpiredGranted(ctx context.Context, asOf time.Time) ([]*consent.Record, error) {
	query := `
		SELECT * FROM consents
		WHERE status = 'granted' AND expires_at IS NOT NULL AND expires_at <= $1`

	var rows []consentRow
	if err := r.db.SelectContext(ctx, &rows, query, asOf); err != nil {
		return nil, fmt.Errorf("failed to list expired consents: %w", err)
	}
	return fromConsentRows(rows)
}

// UserIDs lists every user with at least one consent record, for the
// retention sweep.
func (r *ConsentRepository) UserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT user_id FROM consents`); err != nil {
		return nil, fmt.Errorf("failed to list consent user ids: %w", err)
	}
	return ids, nil
}

func fromConsentRows(rows []consentRow) ([]*consent.Record, error) {
	records := make([]*consent.Record, 0, len(rows))
	for i := range rows {
		record, err := fromConsentRow(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func toConsentRow(record *consent.Record) (*consentRow, error) {
	categories, err := json.Marshal(record.DataCategories)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data categories: %w", err)
	}
	history, err := json.Marshal(record.History)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal consent history: %w", err)
	}
	return &consentRow{
		ID:             record.ID,
		UserID:         record.UserID,
		Type:           string(record.Type),
		Status:         string(record.Status),
		LegalBasis:     string(record.LegalBasis),
		Purpose:        record.Purpose,
		DataCategories: categories,
		RequestedAt:    record.RequestedAt,
		GrantedAt:      record.GrantedAt,
		ExpiresAt:      record.ExpiresAt,
		WithdrawnAt:    record.WithdrawnAt,
		Method:         record.Method,
		ConsentText:    record.ConsentText,
		History:        history,
	}, nil
}

func fromConsentRow(row *consentRow) (*consent.Record, error) {
	record := &consent.Record{
		ID:          row.ID,
		UserID:      row.UserID,
		Type:        consent.Type(row.Type),
		Status:      consent.Status(row.Status),
		LegalBasis:  consent.LegalBasis(row.LegalBasis),
		Purpose:     row.Purpose,
		RequestedAt: row.RequestedAt,
		GrantedAt:   row.GrantedAt,
		ExpiresAt:   row.ExpiresAt,
		WithdrawnAt: row.WithdrawnAt,
		Method:      row.Method,
		ConsentText: row.ConsentText,
	}
	if len(row.DataCategories) > 0 {
		if err := json.Unmarshal(row.DataCategories, &record.DataCategories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data categories: %w", err)
		}
	}
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &record.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal consent history: %w", err)
		}
	}
	return record, nil
}
