package crisis

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Severity is the detection severity tier, driving both confidence and
// response urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at or above other in the severity ordering.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Max returns the higher of two severities.
func (s Severity) Max(other Severity) Severity {
	if severityRank[other] > severityRank[s] {
		return other
	}
	return s
}

// Valid reports whether s is a known severity tier.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Assessment is the immutable result of one classification call. The raw text
// is never retained; only its fingerprint is.
type Assessment struct {
	Fingerprint string    `json:"fingerprint"`
	Severity    Severity  `json:"severity"`
	Indicators  []string  `json:"indicators"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// Fingerprint derives the stable non-reversible reference for a piece of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ActionType identifies a protocol action.
type ActionType string

const (
	ActionNotifyResponders    ActionType = "notify_responders"
	ActionProvideResources    ActionType = "provide_resources"
	ActionConnectResponder    ActionType = "attempt_connect_to_responder"
	ActionScheduleFollowUp    ActionType = "schedule_professional_followup"
	ActionFlagForReview       ActionType = "flag_for_review"
	ActionOfferPeerConnection ActionType = "offer_peer_connection"
)

// ActionPriority orders protocol actions by urgency.
type ActionPriority string

const (
	PriorityImmediate ActionPriority = "immediate"
	PriorityUrgent    ActionPriority = "urgent"
	PriorityStandard  ActionPriority = "standard"
)

// ProtocolAction is one declarative step in a crisis protocol.
type ProtocolAction struct {
	Type      ActionType     `json:"type"`
	Priority  ActionPriority `json:"priority"`
	Automated bool           `json:"automated"`
}

// EscalationStep declares a timed escalation for an external responder system.
// The engine never blocks on these windows itself.
type EscalationStep struct {
	Level            int      `json:"level"`
	Condition        string   `json:"condition"`
	Action           string   `json:"action"`
	NotifyList       []string `json:"notify_list"`
	TimeframeMinutes int      `json:"timeframe_minutes"`
}

// Protocol is built fresh per detection and not persisted beyond the audit
// trail of the triggering request.
type Protocol struct {
	ID               string           `json:"id"`
	TriggerIndicators []string        `json:"trigger_indicators"`
	ImmediateActions []ProtocolAction `json:"immediate_actions"`
	FollowUpActions  []ProtocolAction `json:"follow_up_actions"`
	Resources        []ResourceRef    `json:"resources"`
	EscalationPath   []EscalationStep `json:"escalation_path"`
}

// SafetyAlert is the persisted record of a detection. It is mutated only by
// the handle action.
type SafetyAlert struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Severity   Severity   `json:"severity" db:"severity"`
	Indicators []string   `json:"indicators" db:"indicators"`
	Context    string     `json:"context" db:"context"`
	Handled    bool       `json:"handled" db:"handled"`
	HandledBy  string     `json:"handled_by,omitempty" db:"handled_by"`
	HandledAt  *time.Time `json:"handled_at,omitempty" db:"handled_at"`
	DetectedAt time.Time  `json:"detected_at" db:"detected_at"`
}

// ResourceType categorizes support resources; the ordering below is the
// priority order used for high and critical severities.
type ResourceType string

const (
	ResourceHotline      ResourceType = "hotline"
	ResourceChat         ResourceType = "chat"
	ResourceWebsite      ResourceType = "website"
	ResourceApp          ResourceType = "app"
	ResourceLocalService ResourceType = "local_service"
)

var resourceTypePriority = map[ResourceType]int{
	ResourceHotline:      1,
	ResourceChat:         2,
	ResourceWebsite:      3,
	ResourceApp:          4,
	ResourceLocalService: 5,
}

// ResourceRef points at one support resource in the directory.
type ResourceRef struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        ResourceType `json:"type"`
	Contact     string       `json:"contact"`
	Description string       `json:"description"`
	Languages   []string     `json:"languages"`
	Countries   []string     `json:"countries"`
	Available   string       `json:"available"`
}

// HistoryPattern summarizes repetition in a user's alert history.
type HistoryPattern string

const (
	PatternNone       HistoryPattern = ""
	PatternRecent     HistoryPattern = "recent"
	PatternEscalating HistoryPattern = "escalating"
	PatternFrequent   HistoryPattern = "frequent"
)

// HistorySummary is the read-side derivation over a user's recent alerts.
type HistorySummary struct {
	RecentAlertCount   int            `json:"recent_alert_count"`
	LastAlertTimestamp *time.Time     `json:"last_alert_timestamp,omitempty"`
	Pattern            HistoryPattern `json:"pattern"`
}

// DetectionContext carries request-scoped metadata into a detection call.
type DetectionContext struct {
	SessionID   string `json:"session_id,omitempty"`
	Locale      string `json:"locale,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Source      string `json:"source,omitempty"`
}

// ActionOutcome reports the result of one automated immediate action. Failed
// outcomes never fail the detection itself.
type ActionOutcome struct {
	Action  ActionType `json:"action"`
	OK      bool       `json:"ok"`
	Skipped bool       `json:"skipped,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// DetectionResult is returned by the intervention engine for every call, even
// under partial downstream failure.
type DetectionResult struct {
	IsCrisis       bool            `json:"is_crisis"`
	Severity       Severity        `json:"severity"`
	Indicators     []string        `json:"indicators"`
	Resources      []ResourceRef   `json:"resources"`
	Protocol       *Protocol       `json:"protocol,omitempty"`
	AlertID        string          `json:"alert_id,omitempty"`
	History        *HistorySummary `json:"history,omitempty"`
	ActionOutcomes []ActionOutcome `json:"action_outcomes,omitempty"`
}
