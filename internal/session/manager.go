package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
	"github.com/Damatnic/CoreV6-sub001/internal/config"
	"github.com/Damatnic/CoreV6-sub001/internal/errs"
)

// Audit event types emitted by the manager
const (
	EventSessionCreated    = "session_created"
	EventSessionTerminated = "session_terminated"
	EventSecurityViolation = "session_security_violation"
	EventFlagsUpdated      = "session_flags_updated"
	EventPatientContext    = "patient_context_access"
)

// Manager owns the session table and its state machine. Every mutation on a
// single session runs under that session's own lock; mutations on different
// sessions never block each other.
type Manager struct {
	cfg    config.SessionConfig
	logger *zap.Logger
	store  Store
	audit  audit.Logger

	locksMu   sync.Mutex
	locks     map[string]*sync.Mutex
	userLocks map[string]*sync.Mutex

	now   func() time.Time
	newID func() string
}

// NewManager creates a session manager over the given store.
func NewManager(cfg config.SessionConfig, logger *zap.Logger, store Store, auditLog audit.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLog,
		locks:     make(map[string]*sync.Mutex),
		userLocks: make(map[string]*sync.Mutex),
		now:       time.Now,
		newID:     newSessionID,
	}
}

// Create admits a new session, evicting the user's oldest active session
// first when the concurrency limit would be exceeded. The creation audit
// event is persisted before success is returned.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Record, error) {
	if !opts.Type.Valid() {
		return nil, errs.Validation("unknown session type %q", opts.Type)
	}
	if !opts.AccessLevel.Valid() {
		return nil, errs.Validation("unknown access level %q", opts.AccessLevel)
	}
	if opts.Type != TypeAnonymous && opts.UserID == "" {
		return nil, errs.Validation("user id is required for %s sessions", opts.Type)
	}

	// The user lock spans the limit check and the insert so concurrent
	// creates for one user cannot all see room under the limit.
	if opts.UserID != "" {
		lock := m.userLockFor(opts.UserID)
		lock.Lock()
		defer lock.Unlock()
		if err := m.enforceSessionLimits(ctx, opts.UserID); err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	record := &Record{
		SessionID:    m.newID(),
		UserID:       opts.UserID,
		Type:         opts.Type,
		Status:       StatusActive,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.idleWindow()),
		IPAddress:    opts.IPAddress,
		UserAgent:    opts.UserAgent,
		AccessLevel:  opts.AccessLevel,
		ConsentGiven: opts.ConsentGiven,
		ActivityLog: []ActivityEntry{
			{Timestamp: now, Action: "session_created", IPAddress: opts.IPAddress},
		},
	}

	if err := m.store.Put(ctx, record); err != nil {
		return nil, errs.Dependency(err, "failed to persist session")
	}

	if err := m.audit.LogSecurityEvent(ctx, &audit.Event{
		EventType: EventSessionCreated,
		Category:  audit.CategorySession,
		Action:    "create",
		UserID:    opts.UserID,
		SessionID: record.SessionID,
		Severity:  audit.SeverityInfo,
		IPAddress: opts.IPAddress,
		Details: map[string]interface{}{
			"session_type": string(opts.Type),
			"access_level": string(opts.AccessLevel),
		},
	}); err != nil {
		return nil, errs.Dependency(err, "failed to audit session creation")
	}

	m.logger.Info("Session created",
		zap.String("session_id", record.SessionID),
		zap.String("session_type", string(opts.Type)),
		zap.String("user_id", opts.UserID))
	return record, nil
}

// GetSession returns the session when it is active and unexpired. A missing,
// terminated or expired session yields nil without error; an expired-by-clock
// session is transitioned to expired on the way out.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Record, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, errs.Dependency(err, "failed to load session")
	}
	if record == nil || record.Status != StatusActive {
		return nil, nil
	}

	if m.now().After(record.ExpiresAt) {
		if _, err := m.terminateLocked(ctx, record, StatusExpired, ReasonExpired); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return record, nil
}

// UpdateActivity bumps the sliding expiry window and appends a bounded
// activity entry. An IP mismatch with binding enforced terminates the session
// and returns a security violation.
func (m *Manager) UpdateActivity(ctx context.Context, sessionID, action string, actx ActivityContext) error {
	if action == "" {
		return errs.Validation("action is required")
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return errs.Dependency(err, "failed to load session")
	}
	if record == nil {
		return errs.NotFound("session %s not found", sessionID)
	}
	if record.Status != StatusActive {
		return errs.Conflict("session %s is %s", sessionID, record.Status)
	}

	now := m.now().UTC()
	if now.After(record.ExpiresAt) {
		if _, err := m.terminateLocked(ctx, record, StatusExpired, ReasonExpired); err != nil {
			return err
		}
		return errs.Conflict("session %s is expired", sessionID)
	}

	if actx.IPAddress != "" && actx.IPAddress != record.IPAddress {
		if m.cfg.EnforceIPBinding {
			if _, err := m.terminateLocked(ctx, record, StatusTerminated, ReasonSecurityViolation); err != nil {
				return err
			}
			if err := m.audit.LogSecurityEvent(ctx, &audit.Event{
				EventType: EventSecurityViolation,
				Category:  audit.CategorySession,
				Action:    "ip_binding_violation",
				UserID:    record.UserID,
				SessionID: record.SessionID,
				Severity:  audit.SeverityHigh,
				IPAddress: actx.IPAddress,
				Result:    "terminated",
				Details: map[string]interface{}{
					"bound_ip":    record.IPAddress,
					"observed_ip": actx.IPAddress,
				},
			}); err != nil {
				m.logger.Error("Failed to audit security violation", zap.Error(err))
			}
			return errs.SecurityViolation("session %s terminated: ip address mismatch", sessionID)
		}
		m.logger.Warn("Session IP changed without binding enforcement",
			zap.String("session_id", sessionID),
			zap.String("bound_ip", record.IPAddress),
			zap.String("observed_ip", actx.IPAddress))
		m.appendActivity(record, now, "ip_changed", actx.IPAddress, fmt.Sprintf("previous=%s", record.IPAddress))
	}

	record.LastActivity = now
	record.ExpiresAt = now.Add(m.idleWindow())
	m.appendActivity(record, now, action, actx.IPAddress, "")

	if err := m.store.Put(ctx, record); err != nil {
		return errs.Dependency(err, "failed to persist session activity")
	}
	return nil
}

// UpdateSecurityFlags partially merges verification flags into the session.
// Only active sessions accept flag updates.
func (m *Manager) UpdateSecurityFlags(ctx context.Context, sessionID string, update FlagUpdate) error {
	if update.RiskScore != nil && (*update.RiskScore < 0 || *update.RiskScore > 100) {
		return errs.Validation("risk score must be within 0-100, got %d", *update.RiskScore)
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return errs.Dependency(err, "failed to load session")
	}
	if record == nil {
		return errs.NotFound("session %s not found", sessionID)
	}
	if record.Status != StatusActive {
		return errs.Conflict("cannot update flags on %s session %s", record.Status, sessionID)
	}

	if update.MFAVerified != nil {
		record.Flags.MFAVerified = *update.MFAVerified
	}
	if update.BiometricVerified != nil {
		record.Flags.BiometricVerified = *update.BiometricVerified
	}
	if update.DeviceTrusted != nil {
		record.Flags.DeviceTrusted = *update.DeviceTrusted
	}
	if update.RiskScore != nil {
		record.Flags.RiskScore = *update.RiskScore
	}

	now := m.now().UTC()
	m.appendActivity(record, now, "security_flags_updated", "", "")

	if err := m.store.Put(ctx, record); err != nil {
		return errs.Dependency(err, "failed to persist session flags")
	}

	m.logAudit(ctx, &audit.Event{
		EventType: EventFlagsUpdated,
		Category:  audit.CategorySession,
		Action:    "update_flags",
		UserID:    record.UserID,
		SessionID: record.SessionID,
		Severity:  audit.SeverityInfo,
		Details: map[string]interface{}{
			"mfa_verified":       record.Flags.MFAVerified,
			"biometric_verified": record.Flags.BiometricVerified,
			"device_trusted":     record.Flags.DeviceTrusted,
			"risk_score":         record.Flags.RiskScore,
		},
	})
	return nil
}

// SetPatientContext attaches patient/crisis context to an active session.
// The access itself is a reportable PHI event regardless of the consent
// value, and the event is persisted before success is returned.
func (m *Manager) SetPatientContext(ctx context.Context, sessionID, patientID string, consentGiven bool) error {
	if patientID == "" {
		return errs.Validation("patient id is required")
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return errs.Dependency(err, "failed to load session")
	}
	if record == nil {
		return errs.NotFound("session %s not found", sessionID)
	}
	if record.Status != StatusActive {
		return errs.Conflict("cannot attach patient context to %s session %s", record.Status, sessionID)
	}

	// The access event is recorded before any state change and regardless of
	// the consent value.
	if err := m.audit.LogSecurityEvent(ctx, &audit.Event{
		EventType: EventPatientContext,
		Category:  audit.CategoryPHI,
		Action:    "attach_patient_context",
		UserID:    record.UserID,
		SessionID: record.SessionID,
		EntityID:  patientID,
		Severity:  audit.SeverityWarning,
		Details:   map[string]interface{}{"consent_given": consentGiven},
	}); err != nil {
		return errs.Dependency(err, "failed to audit patient context access")
	}

	record.PatientID = patientID
	record.ConsentGiven = consentGiven
	m.appendActivity(record, m.now().UTC(), "patient_context_attached", "", fmt.Sprintf("consent=%t", consentGiven))

	if err := m.store.Put(ctx, record); err != nil {
		return errs.Dependency(err, "failed to persist session")
	}
	return nil
}

// TerminateSession moves the session to terminated. It is idempotent: a
// second call on the same session is a no-op returning false.
func (m *Manager) TerminateSession(ctx context.Context, sessionID, reason string) (bool, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false, errs.Dependency(err, "failed to load session")
	}
	if record == nil || record.Status != StatusActive {
		return false, nil
	}

	return m.terminateLocked(ctx, record, StatusTerminated, reason)
}

// Suspend moves the session to suspended. Suspended is terminal here; see the
// Status doc comment.
func (m *Manager) Suspend(ctx context.Context, sessionID string) (bool, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false, errs.Dependency(err, "failed to load session")
	}
	if record == nil || record.Status != StatusActive {
		return false, nil
	}

	return m.terminateLocked(ctx, record, StatusSuspended, ReasonSuspended)
}

// Sweep scans all active sessions and terminates those past their expiry or
// idle beyond the threshold. Expiry and idleness are checked independently:
// the sliding-window expiry and the idle threshold are computed from
// different base timestamps and must agree. IDs are snapshotted first; each
// candidate is then re-checked under its own lock.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	ids, err := m.store.ListActiveIDs(ctx)
	if err != nil {
		return 0, errs.Dependency(err, "failed to snapshot active sessions")
	}

	terminated := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return terminated, ctx.Err()
		default:
		}

		swept, err := m.sweepOne(ctx, id)
		if err != nil {
			m.logger.Error("Session sweep failed for session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if swept {
			terminated++
		}
	}

	if terminated > 0 {
		m.logger.Info("Session sweep completed", zap.Int("terminated", terminated), zap.Int("scanned", len(ids)))
	}
	return terminated, nil
}

// Stats returns active-session aggregates.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, errs.Dependency(err, "failed to load session stats")
	}
	return stats, nil
}

func (m *Manager) sweepOne(ctx context.Context, sessionID string) (bool, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if record == nil || record.Status != StatusActive {
		return false, nil
	}

	now := m.now()
	switch {
	case now.After(record.ExpiresAt):
		return m.terminateLocked(ctx, record, StatusExpired, ReasonExpired)
	case now.Sub(record.LastActivity) > m.idleWindow():
		return m.terminateLocked(ctx, record, StatusTerminated, ReasonIdleTimeout)
	}
	return false, nil
}

// enforceSessionLimits terminates oldest-by-lastActivity active sessions
// until the user is below the concurrency limit.
func (m *Manager) enforceSessionLimits(ctx context.Context, userID string) error {
	active, err := m.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return errs.Dependency(err, "failed to list user sessions")
	}
	if len(active) < m.cfg.MaxConcurrentSessions {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivity.Before(active[j].LastActivity)
	})

	evictions := len(active) - m.cfg.MaxConcurrentSessions + 1
	for i := 0; i < evictions; i++ {
		evicted, err := m.TerminateSession(ctx, active[i].SessionID, ReasonConcurrencyLimit)
		if err != nil {
			return err
		}
		if evicted {
			m.logger.Info("Evicted session for concurrency limit",
				zap.String("user_id", userID),
				zap.String("session_id", active[i].SessionID))
		}
	}
	return nil
}

// terminateLocked finalizes the session under an already-held record lock.
// The termination audit event is persisted before success is reported.
func (m *Manager) terminateLocked(ctx context.Context, record *Record, status Status, reason string) (bool, error) {
	now := m.now().UTC()
	record.Status = status
	m.appendActivity(record, now, "session_"+string(status), "", reason)

	if err := m.store.Put(ctx, record); err != nil {
		return false, errs.Dependency(err, "failed to persist session termination")
	}

	severity := audit.SeverityInfo
	if reason == ReasonSecurityViolation {
		severity = audit.SeverityHigh
	}
	if err := m.audit.LogSecurityEvent(ctx, &audit.Event{
		EventType: EventSessionTerminated,
		Category:  audit.CategorySession,
		Action:    string(status),
		UserID:    record.UserID,
		SessionID: record.SessionID,
		Severity:  severity,
		Details:   map[string]interface{}{"reason": reason},
	}); err != nil {
		return false, errs.Dependency(err, "failed to audit session termination")
	}

	m.releaseLock(record.SessionID)
	return true, nil
}

// appendActivity appends to the bounded log, evicting the oldest entry first.
func (m *Manager) appendActivity(record *Record, ts time.Time, action, ip, details string) {
	entry := ActivityEntry{Timestamp: ts, Action: action, IPAddress: ip, Details: details}
	record.ActivityLog = append(record.ActivityLog, entry)
	if limit := m.cfg.ActivityLogCap; len(record.ActivityLog) > limit {
		record.ActivityLog = record.ActivityLog[len(record.ActivityLog)-limit:]
	}
}

func (m *Manager) idleWindow() time.Duration {
	return time.Duration(m.cfg.MaxIdleMinutes) * time.Minute
}

// lockFor returns the per-session lock, creating it on first use.
func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// userLockFor returns the per-user admission lock, creating it on first use.
func (m *Manager) userLockFor(userID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	return lock
}

// releaseLock drops the lock entry for a session that reached a terminal
// state. A racing caller still holding the old mutex remains correct: it will
// observe the terminal status on re-read and fail its mutation.
func (m *Manager) releaseLock(sessionID string) {
	m.locksMu.Lock()
	delete(m.locks, sessionID)
	m.locksMu.Unlock()
}

func (m *Manager) logAudit(ctx context.Context, event *audit.Event) {
	if err := m.audit.LogEvent(ctx, event); err != nil {
		m.logger.Error("Failed to emit audit event", zap.String("event_type", event.EventType), zap.Error(err))
	}
}
