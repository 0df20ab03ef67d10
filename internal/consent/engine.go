package consent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
	"github.com/Damatnic/CoreV6-sub001/internal/config"
	"github.com/Damatnic/CoreV6-sub001/internal/errs"
)

// Engine owns consent records and their lifecycle. All transitions go through
// it; records are never mutated elsewhere.
type Engine struct {
	cfg       config.ConsentConfig
	logger    *zap.Logger
	store     Store
	retention *RetentionExecutor
	auditLog  audit.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// RequestOptions carries the caller-supplied fields of a consent request.
type RequestOptions struct {
	UserID         string
	Type           Type
	LegalBasis     LegalBasis
	Purpose        string
	DataCategories []string
	Method         string
	ExpiresAt      *time.Time
}

func NewEngine(cfg config.ConsentConfig, logger *zap.Logger, store Store, retention *RetentionExecutor, auditLog audit.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		retention: retention,
		auditLog:  auditLog,
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

func (e *Engine) lockFor(recordID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[recordID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[recordID] = mu
	}
	return mu
}

// RequestConsent creates a pending consent record. The consent text presented
// to the user is snapshotted on the record so later grants refer to exactly
// what was shown.
func (e *Engine) RequestConsent(ctx context.Context, opts RequestOptions) (*Record, error) {
	if opts.UserID == "" {
		return nil, errs.Validation("user id is required")
	}
	if !opts.Type.Valid() {
		return nil, errs.Validation("unknown consent type %q", opts.Type)
	}
	if !opts.LegalBasis.Valid() {
		return nil, errs.Validation("unknown legal basis %q", opts.LegalBasis)
	}
	if opts.Purpose == "" {
		return nil, errs.Validation("purpose is required")
	}

	now := e.now().UTC()
	record := &Record{
		ID:             uuid.New().String(),
		UserID:         opts.UserID,
		Type:           opts.Type,
		Status:         StatusPending,
		LegalBasis:     opts.LegalBasis,
		Purpose:        opts.Purpose,
		DataCategories: append([]string{}, opts.DataCategories...),
		RequestedAt:    now,
		ExpiresAt:      opts.ExpiresAt,
		Method:         opts.Method,
		ConsentText:    BuildConsentText(opts.Type, opts.Purpose, opts.DataCategories),
		History: []HistoryEntry{{
			Timestamp: now,
			Action:    "requested",
			Changes:   map[string]interface{}{"status": string(StatusPending)},
		}},
	}

	if err := e.store.Put(ctx, record); err != nil {
		return nil, errs.Dependency(err, "persisting consent record")
	}

	e.auditConsent(ctx, record, "consent_requested", audit.SeverityInfo)
	e.logger.Info("consent requested",
		zap.String("consent_id", record.ID),
		zap.String("user_id", record.UserID),
		zap.String("consent_type", string(record.Type)))
	return record, nil
}

// Grant transitions a pending record to granted. Granting a record in any
// other state is a conflict, including re-granting after denial.
func (e *Engine) Grant(ctx context.Context, recordID, method string) (*Record, error) {
	mu := e.lockFor(recordID)
	mu.Lock()
	defer mu.Unlock()

	record, err := e.fetch(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPending {
		return nil, errs.Conflict("consent is %s, only pending consent can be granted", record.Status)
	}

	now := e.now().UTC()
	record.Status = StatusGranted
	record.GrantedAt = &now
	if method != "" {
		record.Method = method
	}
	if record.ExpiresAt == nil && e.cfg.DefaultExpiry > 0 {
		exp := now.Add(e.cfg.DefaultExpiry)
		record.ExpiresAt = &exp
	}
	record.History = append(record.History, HistoryEntry{
		Timestamp: now,
		Action:    "granted",
		Changes:   map[string]interface{}{"status": string(StatusGranted), "method": record.Method},
	})

	if err := e.store.Put(ctx, record); err != nil {
		return nil, errs.Dependency(err, "persisting consent grant")
	}
	e.auditConsent(ctx, record, "consent_granted", audit.SeverityInfo)
	return record, nil
}

// Deny transitions a pending record to denied.
func (e *Engine) Deny(ctx context.Context, recordID, reason string) (*Record, error) {
	mu := e.lockFor(recordID)
	mu.Lock()
	defer mu.Unlock()

	record, err := e.fetch(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusPending {
		return nil, errs.Conflict("consent is %s, only pending consent can be denied", record.Status)
	}

	now := e.now().UTC()
	record.Status = StatusDenied
	record.History = append(record.History, HistoryEntry{
		Timestamp: now,
		Action:    "denied",
		Reason:    reason,
		Changes:   map[string]interface{}{"status": string(StatusDenied)},
	})

	if err := e.store.Put(ctx, record); err != nil {
		return nil, errs.Dependency(err, "persisting consent denial")
	}
	e.auditConsent(ctx, record, "consent_denied", audit.SeverityWarning)
	return record, nil
}

// Withdraw transitions a granted record to withdrawn and synchronously runs a
// retention pass for the user, so consent_withdrawn policies fire in the same
// call. A retention failure does not undo the withdrawal.
func (e *Engine) Withdraw(ctx context.Context, recordID, reason string) (*Record, *RetentionResult, error) {
	mu := e.lockFor(recordID)
	mu.Lock()
	defer mu.Unlock()

	record, err := e.fetch(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	if record.Status != StatusGranted {
		return nil, nil, errs.Conflict("consent is %s, only granted consent can be withdrawn", record.Status)
	}

	now := e.now().UTC()
	record.Status = StatusWithdrawn
	record.WithdrawnAt = &now
	record.History = append(record.History, HistoryEntry{
		Timestamp: now,
		Action:    "withdrawn",
		Reason:    reason,
		Changes:   map[string]interface{}{"status": string(StatusWithdrawn)},
	})

	if err := e.store.Put(ctx, record); err != nil {
		return nil, nil, errs.Dependency(err, "persisting consent withdrawal")
	}
	e.auditConsent(ctx, record, "consent_withdrawn", audit.SeverityWarning)

	var result *RetentionResult
	if e.retention != nil {
		result, err = e.retention.ExecuteDataRetention(ctx, record.UserID)
		if err != nil {
			e.logger.Warn("retention pass after withdrawal failed",
				zap.String("user_id", record.UserID), zap.Error(err))
		}
	}
	return record, result, nil
}

// HasValidConsent reports whether the user holds a granted, unexpired consent
// of the given type. A past expiry reads as invalid even before the expiry
// sweep has transitioned the record. When categories are given, the record
// must also cover every one of them.
func (e *Engine) HasValidConsent(ctx context.Context, userID string, t Type, categories ...string) (bool, error) {
	records, err := e.store.ListByUser(ctx, userID)
	if err != nil {
		return false, errs.Dependency(err, "listing consent records")
	}
	now := e.now()
	for _, r := range records {
		if r.Type != t || r.Status != StatusGranted {
			continue
		}
		if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			continue
		}
		if !coversAll(r, categories) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func coversAll(r *Record, categories []string) bool {
	for _, c := range categories {
		if !r.covers(c) {
			return false
		}
	}
	return true
}

// ExpireConsents transitions every granted record whose expiry has passed and
// returns how many were expired. Run from the scheduler.
func (e *Engine) ExpireConsents(ctx context.Context) (int, error) {
	now := e.now().UTC()
	records, err := e.store.ListExpiredGranted(ctx, now)
	if err != nil {
		return 0, errs.Dependency(err, "listing expiring consents")
	}

	expired := 0
	for _, r := range records {
		if err := e.expireOne(ctx, r.ID); err != nil {
			e.logger.Warn("failed to expire consent",
				zap.String("consent_id", r.ID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

func (e *Engine) expireOne(ctx context.Context, recordID string) error {
	mu := e.lockFor(recordID)
	mu.Lock()
	defer mu.Unlock()

	record, err := e.fetch(ctx, recordID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	// Re-check under the lock; the record may have been withdrawn since the
	// sweep snapshot.
	if record.Status != StatusGranted || record.ExpiresAt == nil || record.ExpiresAt.After(now) {
		return nil
	}

	record.Status = StatusExpired
	record.History = append(record.History, HistoryEntry{
		Timestamp: now,
		Action:    "expired",
		Changes:   map[string]interface{}{"status": string(StatusExpired)},
	})
	if err := e.store.Put(ctx, record); err != nil {
		return errs.Dependency(err, "persisting consent expiry")
	}
	e.auditConsent(ctx, record, "consent_expired", audit.SeverityInfo)
	return nil
}

// Report builds the consent compliance summary for a user. Missing or lapsed
// required consent types drive the overall status.
func (e *Engine) Report(ctx context.Context, userID string) (*ComplianceReport, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	records, err := e.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, errs.Dependency(err, "listing consent records")
	}

	now := e.now()
	counts := make(map[Status]int)
	validByType := make(map[Type]bool)
	lapsedByType := make(map[Type]bool)
	for _, r := range records {
		counts[r.Status]++
		switch r.Status {
		case StatusGranted:
			if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
				lapsedByType[r.Type] = true
			} else {
				validByType[r.Type] = true
			}
		case StatusExpired, StatusWithdrawn:
			lapsedByType[r.Type] = true
		}
	}

	report := &ComplianceReport{
		UserID:        userID,
		CountsByState: counts,
		GeneratedAt:   now.UTC(),
	}
	for _, required := range e.cfg.RequiredTypes {
		t := Type(required)
		if validByType[t] {
			continue
		}
		if lapsedByType[t] {
			report.ExpiredTypes = append(report.ExpiredTypes, t)
		} else {
			report.MissingTypes = append(report.MissingTypes, t)
		}
	}

	switch {
	case len(report.MissingTypes) > 0:
		report.Status = ComplianceNonCompliant
	case len(report.ExpiredTypes) > 0:
		report.Status = CompliancePartial
	default:
		report.Status = ComplianceCompliant
	}
	return report, nil
}

func (e *Engine) fetch(ctx context.Context, recordID string) (*Record, error) {
	record, err := e.store.Get(ctx, recordID)
	if err != nil {
		return nil, errs.Dependency(err, "loading consent record")
	}
	if record == nil {
		return nil, errs.NotFound("consent record not found: %s", recordID)
	}
	return record, nil
}

// auditConsent writes the single audit event a consent transition produces.
// Consent changes are security relevant, so the write is awaited.
func (e *Engine) auditConsent(ctx context.Context, record *Record, eventType string, severity string) {
	err := e.auditLog.LogSecurityEvent(ctx, &audit.Event{
		EventType: eventType,
		Category:  audit.CategoryConsent,
		Action:    eventType,
		UserID:    record.UserID,
		EntityID:  record.ID,
		Severity:  severity,
		Result:    "success",
		Details: map[string]interface{}{
			"consent_type": string(record.Type),
			"status":       string(record.Status),
			"legal_basis":  string(record.LegalBasis),
		},
	})
	if err != nil {
		e.logger.Error("failed to audit consent transition",
			zap.String("consent_id", record.ID), zap.Error(err))
	}
}
