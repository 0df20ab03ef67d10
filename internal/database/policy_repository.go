package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/consent"
)

// PolicyRepository is the postgres consent.PolicyStore.
type PolicyRepository struct {
	BaseRepository
	logger *zap.Logger
}

func NewPolicyRepository(db *sqlx.DB, logger *zap.Logger) *PolicyRepository {
	return &PolicyRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

type policyRow struct {
	ID                  string `db:"id"`
	Name                string `db:"name"`
	DataCategory        string `db:"data_category"`
	RetentionPeriodDays int    `db:"retention_period_days"`
	Triggers            []byte `db:"triggers"`
	Exceptions          []byte `db:"exceptions"`
	Regulations         []byte `db:"regulations"`
	IsActive            bool   `db:"is_active"`
}

func (r *PolicyRepository) Put(ctx context.Context, policy *consent.RetentionPolicy) error {
	query := `
		INSERT INTO retention_policies (
			id, name, data_category, retention_period_days,
			triggers, exceptions, regulations, is_active
		) VALUES (
			:id, :name, :data_category, :retention_period_days,
			:triggers, :exceptions, :regulations, :is_active
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			data_category = EXCLUDED.data_category,
			retention_period_days = EXCLUDED.retention_period_days,
			triggers = EXCLUDED.triggers,
			exceptions = EXCLUDED.exceptions,
			regulations = EXCLUDED.regulations,
			is_active = EXCLUDED.is_active`

	row, err := toPolicyRow(policy)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.logger.Error("failed to put retention policy",
			zap.String("policy_id", policy.ID), zap.Error(err))
		return fmt.Errorf("failed to put retention policy: %w", err)
	}
	return nil
}

func (r *PolicyRepository) Get(ctx context.Context, id string) (*consent.RetentionPolicy, error) {
	query := `SELECT * FROM retention_policies WHERE id = $1`

	var row policyRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get retention policy: %w", err)
	}
	return fromPolicyRow(&row)
}

func (r *PolicyRepository) ListActive(ctx context.Context) ([]*consent.RetentionPolicy, error) {
	query := `SELECT * FROM retention_policies WHERE is_active ORDER BY data_category ASC`

	var rows []policyRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list retention policies: %w", err)
	}

	policies := make([]*consent.RetentionPolicy, 0, len(rows))
	for i := range rows {
		policy, err := fromPolicyRow(&rows[i])
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	return policies, nil
}

func toPolicyRow(policy *consent.RetentionPolicy) (*policyRow, error) {
	triggers, err := json.Marshal(policy.Triggers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy triggers: %w", err)
	}
	exceptions, err := json.Marshal(policy.Exceptions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy exceptions: %w", err)
	}
	regulations, err := json.Marshal(policy.Regulations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy regulations: %w", err)
	}
	return &policyRow{
		ID:                  policy.ID,
		Name:                policy.Name,
		DataCategory:        policy.DataCategory,
		RetentionPeriodDays: policy.RetentionPeriodDays,
		Triggers:            triggers,
		Exceptions:          exceptions,
		Regulations:         regulations,
		IsActive:            policy.IsActive,
	}, nil
}

func fromPolicyRow(row *policyRow) (*consent.RetentionPolicy, error) {
	policy := &consent.RetentionPolicy{
		ID:                  row.ID,
		Name:                row.Name,
		DataCategory:        row.DataCategory,
		RetentionPeriodDays: row.RetentionPeriodDays,
		IsActive:            row.IsActive,
	}
	if len(row.Triggers) > 0 {
		if err := json.Unmarshal(row.Triggers, &policy.Triggers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy triggers: %w", err)
		}
	}
	if len(row.Exceptions) > 0 {
		if err := json.Unmarshal(row.Exceptions, &policy.Exceptions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy exceptions: %w", err)
		}
	}
	if len(row.Regulations) > 0 {
		if err := json.Unmarshal(row.Regulations, &policy.Regulations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy regulations: %w", err)
		}
	}
	return policy, nil
}
