package crisis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
	"github.com/Damatnic/CoreV6-sub001/internal/cache"
	"github.com/Damatnic/CoreV6-sub001/internal/config"
	"github.com/Damatnic/CoreV6-sub001/internal/errs"
)

// Audit event types emitted by the engine
const (
	EventCrisisDetected = "crisis_detected"
	EventAlertHandled   = "crisis_alert_handled"
)

const cooldownKeyPrefix = "crisis:cooldown:"

// Notifier delivers responder notifications. Failures are reported in the
// detection result, never propagated as detection failures.
type Notifier interface {
	Notify(ctx context.Context, targets []string, eventType string, payload map[string]interface{}) error
}

// Engine orchestrates classification, history escalation, resource lookup,
// protocol construction and alert persistence into a single detection call.
type Engine struct {
	cfg        config.CrisisConfig
	logger     *zap.Logger
	classifier *Classifier
	external   TextClassifier
	history    *History
	directory  *Directory
	alerts     AlertStore
	cooldowns  cache.Cache
	notifier   Notifier
	auditLog   audit.Logger
	now        func() time.Time
}

// NewEngine creates the intervention engine. external may be nil when no ML
// classifier is configured; cooldowns may be nil to fall back to store lookups.
func NewEngine(
	cfg config.CrisisConfig,
	logger *zap.Logger,
	classifier *Classifier,
	external TextClassifier,
	history *History,
	directory *Directory,
	alerts AlertStore,
	cooldowns cache.Cache,
	notifier Notifier,
	auditLog audit.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		classifier: classifier,
		external:   external,
		history:    history,
		directory:  directory,
		alerts:     alerts,
		cooldowns:  cooldowns,
		notifier:   notifier,
		auditLog:   auditLog,
		now:        time.Now,
	}
}

// Detect classifies text, merges history escalation, and when a crisis is
// found builds the protocol, persists a SafetyAlert and (for critical
// severity) executes the immediate automated actions synchronously.
//
// Alert persistence is the only fatal path: resource, history, cache and
// notification failures all degrade per their contracts.
func (e *Engine) Detect(ctx context.Context, text, userID string, dctx DetectionContext) (*DetectionResult, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}

	cls := e.classify(ctx, text)
	summary := e.summarizeHistory(ctx, userID)

	severity := cls.Severity
	indicators := cls.Indicators

	// Repetition escalates medium to high, never lowers.
	if summary != nil && summary.Pattern != PatternNone {
		if severity == SeverityMedium {
			severity = SeverityHigh
		}
		indicators = append(indicators, "history:"+string(summary.Pattern))
	}

	result := &DetectionResult{
		IsCrisis:   severity != SeverityLow,
		Severity:   severity,
		Indicators: indicators,
		History:    summary,
	}

	if !result.IsCrisis {
		return result, nil
	}

	result.Resources = e.directory.ResourcesFor(severity, dctx.Locale, dctx.CountryCode)
	if len(result.Resources) == 0 {
		result.Resources = []ResourceRef{e.directory.FallbackResource()}
	}

	result.Protocol = buildProtocol(severity, indicators, result.Resources, e.cfg.ResponderIDs, e.cfg.CrisisTeamIDs)

	inCooldown := severity == SeverityCritical && e.IsInCooldown(ctx, userID)

	alert := &SafetyAlert{
		ID:         uuid.New().String(),
		UserID:     userID,
		Severity:   severity,
		Indicators: indicators,
		Context:    Fingerprint(text),
		DetectedAt: e.now().UTC(),
	}
	if err := e.alerts.Insert(ctx, alert); err != nil {
		e.logger.Error("Failed to persist safety alert",
			zap.String("user_id", userID),
			zap.String("severity", string(severity)),
			zap.Error(err))
		return nil, errs.Dependency(err, "failed to persist safety alert")
	}
	result.AlertID = alert.ID

	if severity == SeverityCritical {
		e.markCooldown(ctx, userID)
		result.ActionOutcomes = e.executeImmediateActions(ctx, userID, alert, result.Protocol, inCooldown)
	}

	e.auditDetection(ctx, userID, alert, dctx)
	return result, nil
}

// IsInCooldown reports whether a critical alert was recorded for the user
// within the cooldown window. Cache errors fall back to the alert store;
// store errors report no cooldown rather than failing the caller.
func (e *Engine) IsInCooldown(ctx context.Context, userID string) bool {
	if e.cooldowns != nil {
		if _, ok, err := e.cooldowns.Get(ctx, cooldownKeyPrefix+userID); err == nil && ok {
			return true
		} else if err != nil {
			e.logger.Warn("Cooldown cache lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	since := e.now().Add(-e.cfg.CooldownWindow)
	count, err := e.alerts.CountBySeveritySince(ctx, userID, SeverityCritical, since)
	if err != nil {
		e.logger.Warn("Cooldown store lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return count > 0
}

// HandleAlert marks a SafetyAlert as handled. Handling is one-way; a second
// handle attempt is a conflict.
func (e *Engine) HandleAlert(ctx context.Context, alertID, handledBy string) error {
	if alertID == "" || handledBy == "" {
		return errs.Validation("alert id and handler are required")
	}

	alert, err := e.alerts.GetByID(ctx, alertID)
	if err != nil {
		return errs.Dependency(err, "failed to load alert")
	}
	if alert == nil {
		return errs.NotFound("alert %s not found", alertID)
	}
	if alert.Handled {
		return errs.Conflict("alert %s is already handled", alertID)
	}

	now := e.now().UTC()
	alert.Handled = true
	alert.HandledBy = handledBy
	alert.HandledAt = &now

	if err := e.alerts.Update(ctx, alert); err != nil {
		return errs.Dependency(err, "failed to update alert")
	}

	e.logAudit(ctx, &audit.Event{
		EventType: EventAlertHandled,
		Category:  audit.CategoryCrisis,
		Action:    "handle",
		UserID:    alert.UserID,
		EntityID:  alert.ID,
		Severity:  audit.SeverityInfo,
		Details:   map[string]interface{}{"handled_by": handledBy},
	})
	return nil
}

// classify runs the keyword tiers and, when configured, ensembles the
// external classifier. The external result can raise severity and add
// indicators but never lowers the keyword verdict.
func (e *Engine) classify(ctx context.Context, text string) Classification {
	cls := e.classifier.Classify(text)

	if e.external == nil {
		return cls
	}

	ext, err := e.external.ClassifyText(ctx, text)
	if err != nil {
		e.logger.Warn("External classifier unavailable, using keyword tiers only", zap.Error(err))
		return cls
	}

	merged := Classification{Severity: cls.Severity.Max(ext.Severity)}
	seen := make(map[string]bool)
	for _, set := range [][]string{cls.Indicators, ext.Indicators} {
		for _, ind := range set {
			if !seen[ind] {
				seen[ind] = true
				merged.Indicators = append(merged.Indicators, ind)
			}
		}
	}
	return merged
}

// summarizeHistory reads history, treating store failure as no history so
// severity escalation simply does not apply.
func (e *Engine) summarizeHistory(ctx context.Context, userID string) *HistorySummary {
	summary, err := e.history.Summarize(ctx, userID)
	if err != nil {
		e.logger.Warn("History lookup failed, skipping escalation", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return summary
}

// executeImmediateActions runs the automated portion of a critical protocol.
// During cooldown the responder notifications are suppressed to avoid
// notification storms; the alert itself is always recorded by the caller.
func (e *Engine) executeImmediateActions(ctx context.Context, userID string, alert *SafetyAlert, protocol *Protocol, inCooldown bool) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(protocol.ImmediateActions))

	payload := map[string]interface{}{
		"alert_id":   alert.ID,
		"user_id":    userID,
		"severity":   string(alert.Severity),
		"indicators": alert.Indicators,
		"detected_at": alert.DetectedAt,
	}

	for _, action := range protocol.ImmediateActions {
		if !action.Automated {
			continue
		}

		switch action.Type {
		case ActionProvideResources:
			// Resources ride on the detection result itself.
			outcomes = append(outcomes, ActionOutcome{Action: action.Type, OK: true})
		case ActionNotifyResponders, ActionConnectResponder:
			if inCooldown {
				outcomes = append(outcomes, ActionOutcome{Action: action.Type, OK: false, Skipped: true, Error: "suppressed: cooldown active"})
				continue
			}
			eventType := "crisis.responder_notification"
			if action.Type == ActionConnectResponder {
				eventType = "crisis.connect_request"
			}
			if err := e.notifier.Notify(ctx, e.cfg.ResponderIDs, eventType, payload); err != nil {
				e.logger.Error("Immediate action failed",
					zap.String("action", string(action.Type)),
					zap.String("alert_id", alert.ID),
					zap.Error(err))
				outcomes = append(outcomes, ActionOutcome{Action: action.Type, OK: false, Error: err.Error()})
				continue
			}
			outcomes = append(outcomes, ActionOutcome{Action: action.Type, OK: true})
		default:
			outcomes = append(outcomes, ActionOutcome{Action: action.Type, OK: true})
		}
	}
	return outcomes
}

func (e *Engine) markCooldown(ctx context.Context, userID string) {
	if e.cooldowns == nil {
		return
	}
	if err := e.cooldowns.Set(ctx, cooldownKeyPrefix+userID, "1", e.cfg.CooldownWindow); err != nil {
		e.logger.Warn("Failed to set cooldown marker", zap.String("user_id", userID), zap.Error(err))
	}
}

func (e *Engine) auditDetection(ctx context.Context, userID string, alert *SafetyAlert, dctx DetectionContext) {
	severity := audit.SeverityWarning
	if alert.Severity == SeverityCritical {
		severity = audit.SeverityCritical
	}
	e.logAudit(ctx, &audit.Event{
		EventType: EventCrisisDetected,
		Category:  audit.CategoryCrisis,
		Action:    "detect",
		UserID:    userID,
		SessionID: dctx.SessionID,
		EntityID:  alert.ID,
		Severity:  severity,
		Details: map[string]interface{}{
			"severity":    string(alert.Severity),
			"indicators":  alert.Indicators,
			"fingerprint": alert.Context,
			"source":      dctx.Source,
		},
	})
}

func (e *Engine) logAudit(ctx context.Context, event *audit.Event) {
	if err := e.auditLog.LogEvent(ctx, event); err != nil {
		e.logger.Error("Failed to emit audit event", zap.String("event_type", event.EventType), zap.Error(err))
	}
}
