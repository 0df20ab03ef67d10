package consent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type enumerates consent purposes tracked per user.
type Type string

const (
	TypeDataProcessing   Type = "data_processing"
	TypeTreatment        Type = "treatment"
	TypeMarketing        Type = "marketing"
	TypeAnalytics        Type = "analytics"
	TypeResearch         Type = "research"
	TypeCrisisContact    Type = "crisis_contact"
	TypeDataSharing      Type = "data_sharing"
	TypeEmergencyContact Type = "emergency_contact"
)

// Valid reports whether t is a known consent type.
func (t Type) Valid() bool {
	switch t {
	case TypeDataProcessing, TypeTreatment, TypeMarketing, TypeAnalytics,
		TypeResearch, TypeCrisisContact, TypeDataSharing, TypeEmergencyContact:
		return true
	}
	return false
}

// Status is the consent lifecycle state. Denied, withdrawn and expired are
// terminal; granted is terminal unless withdrawn or expired.
type Status string

const (
	StatusPending   Status = "pending"
	StatusGranted   Status = "granted"
	StatusDenied    Status = "denied"
	StatusWithdrawn Status = "withdrawn"
	StatusExpired   Status = "expired"
)

// LegalBasis is the GDPR-style justification for processing.
type LegalBasis string

const (
	BasisConsent             LegalBasis = "consent"
	BasisContract            LegalBasis = "contract"
	BasisLegalObligation     LegalBasis = "legal_obligation"
	BasisVitalInterests      LegalBasis = "vital_interests"
	BasisPublicTask          LegalBasis = "public_task"
	BasisLegitimateInterests LegalBasis = "legitimate_interests"
)

// Valid reports whether b is a known legal basis.
func (b LegalBasis) Valid() bool {
	switch b {
	case BasisConsent, BasisContract, BasisLegalObligation, BasisVitalInterests,
		BasisPublicTask, BasisLegitimateInterests:
		return true
	}
	return false
}

// HistoryEntry is one append-only entry in a consent record's history. The
// entries reflect real invocation order for their record.
type HistoryEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Reason    string                 `json:"reason,omitempty"`
	Changes   map[string]interface{} `json:"changes,omitempty"`
}

// Record is a consent record, exclusively owned by the Engine.
type Record struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	Type           Type           `json:"consent_type" db:"consent_type"`
	Status         Status         `json:"status" db:"status"`
	LegalBasis     LegalBasis     `json:"legal_basis" db:"legal_basis"`
	Purpose        string         `json:"purpose" db:"purpose"`
	DataCategories []string       `json:"data_categories" db:"-"`
	RequestedAt    time.Time      `json:"requested_at" db:"requested_at"`
	GrantedAt      *time.Time     `json:"granted_at,omitempty" db:"granted_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	WithdrawnAt    *time.Time     `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
	Method         string         `json:"consent_method" db:"consent_method"`
	ConsentText    string         `json:"consent_text" db:"consent_text"`
	History        []HistoryEntry `json:"history" db:"-"`
}

// covers reports whether the record's data categories include category.
func (r *Record) covers(category string) bool {
	for _, c := range r.DataCategories {
		if c == category {
			return true
		}
	}
	return false
}

// RetentionAction is what a retention trigger does to a data category.
type RetentionAction string

const (
	ActionDelete    RetentionAction = "delete"
	ActionAnonymize RetentionAction = "anonymize"
	ActionArchive   RetentionAction = "archive"
	ActionReview    RetentionAction = "schedule_review"
)

// TriggerType identifies what condition fires a retention policy.
type TriggerType string

const (
	TriggerTimeBased        TriggerType = "time_based"
	TriggerConsentWithdrawn TriggerType = "consent_withdrawn"
	TriggerAccountDeleted   TriggerType = "account_deleted"
	TriggerEventBased       TriggerType = "event_based"
)

// Trigger is one firing condition on a retention policy. Condition is an
// expression evaluated against user facts for event_based triggers and is
// ignored otherwise.
type Trigger struct {
	Type      TriggerType     `json:"type"`
	Condition string          `json:"condition,omitempty"`
	Action    RetentionAction `json:"action"`
}

// Exception suspends a policy for a user while its condition holds.
// Exceptions extend the effective retention window, never shorten it.
type Exception struct {
	Type                  string `json:"type"`
	Condition             string `json:"condition"`
	ExtendedRetentionDays int    `json:"extended_retention_days"`
	Justification         string `json:"justification"`
}

// RetentionPolicy maps a data category to a retention period, triggers and
// exceptions. RetentionPeriodDays of 0 means indefinite; -1 means immediate.
type RetentionPolicy struct {
	ID                  string      `json:"id" db:"id"`
	Name                string      `json:"name" db:"name"`
	DataCategory        string      `json:"data_category" db:"data_category"`
	RetentionPeriodDays int         `json:"retention_period_days" db:"retention_period_days"`
	Triggers            []Trigger   `json:"triggers" db:"-"`
	Exceptions          []Exception `json:"exceptions" db:"-"`
	Regulations         []string    `json:"regulations" db:"-"`
	IsActive            bool        `json:"is_active" db:"is_active"`
}

// RetentionOutcome reports one action taken against a category.
type RetentionOutcome struct {
	PolicyID string          `json:"policy_id"`
	Category string          `json:"category"`
	Action   RetentionAction `json:"action"`
	Trigger  TriggerType     `json:"trigger"`
}

// RetentionSkip reports one policy skipped this cycle by an exception.
type RetentionSkip struct {
	PolicyID      string `json:"policy_id"`
	Category      string `json:"category"`
	ExceptionType string `json:"exception_type"`
	Justification string `json:"justification"`
}

// RetentionError reports one failed category. One failing category never
// aborts processing of the others.
type RetentionError struct {
	PolicyID string `json:"policy_id"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// RetentionResult aggregates one retention execution pass for a user.
type RetentionResult struct {
	UserID              string             `json:"user_id"`
	DeletedCategories   []string           `json:"deleted_categories"`
	AnonymizedCategories []string          `json:"anonymized_categories"`
	ArchivedCategories  []string           `json:"archived_categories"`
	ReviewCategories    []string           `json:"review_categories"`
	Outcomes            []RetentionOutcome `json:"outcomes"`
	Skipped             []RetentionSkip    `json:"skipped"`
	Errors              []RetentionError   `json:"errors"`
	ExecutedAt          time.Time          `json:"executed_at"`
}

// ComplianceStatus summarizes a user's consent posture.
type ComplianceStatus string

const (
	ComplianceCompliant    ComplianceStatus = "compliant"
	CompliancePartial      ComplianceStatus = "partial"
	ComplianceNonCompliant ComplianceStatus = "non_compliant"
)

// ComplianceReport is the per-user consent compliance summary.
type ComplianceReport struct {
	UserID        string           `json:"user_id"`
	Status        ComplianceStatus `json:"status"`
	CountsByState map[Status]int   `json:"counts_by_state"`
	MissingTypes  []Type           `json:"missing_types,omitempty"`
	ExpiredTypes  []Type           `json:"expired_types,omitempty"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// Store persists consent records.
type Store interface {
	Put(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	ListByUser(ctx context.Context, userID string) ([]*Record, error)
	ListExpiredGranted(ctx context.Context, asOf time.Time) ([]*Record, error)
}

// PolicyStore persists retention policies.
type PolicyStore interface {
	Put(ctx context.Context, policy *RetentionPolicy) error
	Get(ctx context.Context, id string) (*RetentionPolicy, error)
	ListActive(ctx context.Context) ([]*RetentionPolicy, error)
}

// DataStore is the external data store retention actions run against.
type DataStore interface {
	Delete(ctx context.Context, userID, category string) error
	Anonymize(ctx context.Context, userID, category string) error
	Archive(ctx context.Context, userID, category string) error
	ScheduleReview(ctx context.Context, userID, category string) error
}

// DataTimestampSource supplies the real per-data-item timestamps that
// time_based triggers compare against. A nil time means the user has no data
// in the category.
type DataTimestampSource interface {
	OldestRecordTime(ctx context.Context, userID, category string) (*time.Time, error)
}

// FactProvider supplies the user facts that event_based trigger and exception
// conditions are evaluated against (for example account_deleted,
// legal_hold, active_treatment).
type FactProvider interface {
	Facts(ctx context.Context, userID string) (map[string]interface{}, error)
}

// BuildConsentText deterministically regenerates the verbatim text presented
// at request time, so the snapshot is reproducible for audit.
func BuildConsentText(t Type, purpose string, categories []string) string {
	sorted := append([]string{}, categories...)
	sort.Strings(sorted)
	return fmt.Sprintf(
		"I consent to %s of my data in the categories [%s] for the purpose: %s.",
		strings.ReplaceAll(string(t), "_", " "),
		strings.Join(sorted, ", "),
		purpose,
	)
}
