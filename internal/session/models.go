package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Type classifies how a session was established.
type Type string

const (
	TypeAnonymous     Type = "anonymous"
	TypeAuthenticated Type = "authenticated"
	TypeEmergency     Type = "emergency"
	TypeProfessional  Type = "professional"
)

// Valid reports whether t is a known session type.
func (t Type) Valid() bool {
	switch t {
	case TypeAnonymous, TypeAuthenticated, TypeEmergency, TypeProfessional:
		return true
	}
	return false
}

// Status is the session lifecycle state. Expired and terminated are terminal.
// Suspended is treated as terminal as well: no reinstatement path exists in
// the product flows this core serves, so a suspended session can only be
// replaced by creating a new one.
type Status string

const (
	StatusActive     Status = "active"
	StatusExpired    Status = "expired"
	StatusTerminated Status = "terminated"
	StatusSuspended  Status = "suspended"
)

// AccessLevel bounds what a session may do.
type AccessLevel string

const (
	AccessRead  AccessLevel = "read"
	AccessWrite AccessLevel = "write"
	AccessAdmin AccessLevel = "admin"
)

// Valid reports whether a is a known access level.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessRead, AccessWrite, AccessAdmin:
		return true
	}
	return false
}

// Termination reasons recorded on the final activity entry.
const (
	ReasonLogout            = "logout"
	ReasonIdleTimeout       = "idle_timeout"
	ReasonExpired           = "expired"
	ReasonConcurrencyLimit  = "concurrency_limit"
	ReasonSecurityViolation = "security_violation"
	ReasonSuspended         = "suspended"
)

// SecurityFlags carries per-session verification state. RiskScore is 0-100.
type SecurityFlags struct {
	MFAVerified       bool `json:"mfa_verified"`
	BiometricVerified bool `json:"biometric_verified"`
	DeviceTrusted     bool `json:"device_trusted"`
	RiskScore         int  `json:"risk_score"`
}

// FlagUpdate is a partial merge into SecurityFlags; nil fields are unchanged.
type FlagUpdate struct {
	MFAVerified       *bool `json:"mfa_verified,omitempty"`
	BiometricVerified *bool `json:"biometric_verified,omitempty"`
	DeviceTrusted     *bool `json:"device_trusted,omitempty"`
	RiskScore         *int  `json:"risk_score,omitempty"`
}

// ActivityEntry is one bounded-log entry. The log reflects real invocation
// order for its session.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	IPAddress string    `json:"ip_address,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Record is a session. It is exclusively owned by the Manager; other
// components hold session IDs only.
type Record struct {
	SessionID    string          `json:"session_id" db:"session_id"`
	UserID       string          `json:"user_id,omitempty" db:"user_id"`
	Type         Type            `json:"session_type" db:"session_type"`
	Status       Status          `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	LastActivity time.Time       `json:"last_activity" db:"last_activity"`
	ExpiresAt    time.Time       `json:"expires_at" db:"expires_at"`
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	AccessLevel  AccessLevel     `json:"access_level" db:"access_level"`
	ConsentGiven bool            `json:"consent_given" db:"consent_given"`
	PatientID    string          `json:"patient_id,omitempty" db:"patient_id"`
	Flags        SecurityFlags   `json:"security_flags" db:"-"`
	ActivityLog  []ActivityEntry `json:"activity_log" db:"-"`
}

// CreateOptions parameterizes session creation.
type CreateOptions struct {
	UserID       string      `json:"user_id,omitempty"`
	Type         Type        `json:"session_type"`
	AccessLevel  AccessLevel `json:"access_level"`
	IPAddress    string      `json:"ip_address"`
	UserAgent    string      `json:"user_agent"`
	ConsentGiven bool        `json:"consent_given"`
}

// ActivityContext carries per-request metadata into activity updates.
type ActivityContext struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Stats aggregates active-session counts.
type Stats struct {
	Active       int            `json:"active"`
	ActiveByType map[Type]int   `json:"active_by_type"`
	ActiveByUser map[string]int `json:"active_by_user,omitempty"`
}

// Store persists session records. Put overwrites the full record; all
// read-modify-write cycles are serialized per session by the Manager's
// per-record locks.
type Store interface {
	Put(ctx context.Context, record *Record) error
	Get(ctx context.Context, sessionID string) (*Record, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*Record, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*Stats, error)
}

// newSessionID returns an opaque, unguessable identifier.
func newSessionID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("session: failed to generate session id: %v", err))
	}
	return hex.EncodeToString(b)
}
