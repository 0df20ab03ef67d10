package consent

import (
	"context"
	"sync"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
	"github.com/Damatnic/CoreV6-sub001/internal/errs"
)

// RetentionExecutor applies active retention policies to one user's data.
// Time-based triggers compare against real per-item timestamps from the
// DataTimestampSource; event-based trigger and exception conditions are
// expressions evaluated against the FactProvider's facts.
type RetentionExecutor struct {
	logger     *zap.Logger
	policies   PolicyStore
	consents   Store
	data       DataStore
	timestamps DataTimestampSource
	facts      FactProvider
	auditLog   audit.Logger

	progMu   sync.Mutex
	programs map[string]*vm.Program

	now func() time.Time
}

func NewRetentionExecutor(logger *zap.Logger, policies PolicyStore, consents Store, data DataStore, timestamps DataTimestampSource, facts FactProvider, auditLog audit.Logger) *RetentionExecutor {
	return &RetentionExecutor{
		logger:     logger,
		policies:   policies,
		consents:   consents,
		data:       data,
		timestamps: timestamps,
		facts:      facts,
		auditLog:   auditLog,
		programs:   make(map[string]*vm.Program),
		now:        time.Now,
	}
}

// ExecuteDataRetention runs one retention pass for a user. At most one action
// fires per policy per pass; a failing category is recorded in the result and
// never aborts the others.
func (x *RetentionExecutor) ExecuteDataRetention(ctx context.Context, userID string) (*RetentionResult, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	policies, err := x.policies.ListActive(ctx)
	if err != nil {
		return nil, errs.Dependency(err, "listing retention policies")
	}

	result := &RetentionResult{UserID: userID, ExecutedAt: x.now().UTC()}

	facts := map[string]interface{}{}
	if x.facts != nil {
		if f, err := x.facts.Facts(ctx, userID); err != nil {
			x.logger.Warn("fact provider failed, event conditions read as false",
				zap.String("user_id", userID), zap.Error(err))
		} else if f != nil {
			facts = f
		}
	}
	facts["user_id"] = userID
	facts["now"] = x.now().UTC()

	withdrawn, err := x.withdrawnCategories(ctx, userID)
	if err != nil {
		x.logger.Warn("could not load withdrawn consents, withdrawal triggers read as false",
			zap.String("user_id", userID), zap.Error(err))
		withdrawn = map[string]bool{}
	}

	for _, policy := range policies {
		if skip, exception := x.exceptionHolds(userID, policy, facts); skip {
			result.Skipped = append(result.Skipped, RetentionSkip{
				PolicyID:      policy.ID,
				Category:      policy.DataCategory,
				ExceptionType: exception.Type,
				Justification: exception.Justification,
			})
			continue
		}
		x.applyPolicy(ctx, userID, policy, facts, withdrawn, result)
	}
	return result, nil
}

func (x *RetentionExecutor) applyPolicy(ctx context.Context, userID string, policy *RetentionPolicy, facts map[string]interface{}, withdrawn map[string]bool, result *RetentionResult) {
	for _, trigger := range policy.Triggers {
		fired, err := x.triggerFires(ctx, userID, policy, trigger, facts, withdrawn)
		if err != nil {
			result.Errors = append(result.Errors, RetentionError{
				PolicyID: policy.ID,
				Category: policy.DataCategory,
				Message:  err.Error(),
			})
			continue
		}
		if !fired {
			continue
		}

		action := trigger.Action
		if action == "" {
			action = ActionDelete
		}
		if err := x.performAction(ctx, userID, policy.DataCategory, action); err != nil {
			result.Errors = append(result.Errors, RetentionError{
				PolicyID: policy.ID,
				Category: policy.DataCategory,
				Message:  err.Error(),
			})
			return
		}

		switch action {
		case ActionDelete:
			result.DeletedCategories = append(result.DeletedCategories, policy.DataCategory)
		case ActionAnonymize:
			result.AnonymizedCategories = append(result.AnonymizedCategories, policy.DataCategory)
		case ActionArchive:
			result.ArchivedCategories = append(result.ArchivedCategories, policy.DataCategory)
		case ActionReview:
			result.ReviewCategories = append(result.ReviewCategories, policy.DataCategory)
		}
		result.Outcomes = append(result.Outcomes, RetentionOutcome{
			PolicyID: policy.ID,
			Category: policy.DataCategory,
			Action:   action,
			Trigger:  trigger.Type,
		})
		x.auditAction(ctx, userID, policy, action, trigger.Type)
		return
	}
}

func (x *RetentionExecutor) triggerFires(ctx context.Context, userID string, policy *RetentionPolicy, trigger Trigger, facts map[string]interface{}, withdrawn map[string]bool) (bool, error) {
	switch trigger.Type {
	case TriggerTimeBased:
		return x.timeBasedFires(ctx, userID, policy)
	case TriggerConsentWithdrawn:
		return withdrawn[policy.DataCategory], nil
	case TriggerAccountDeleted:
		deleted, _ := facts["account_deleted"].(bool)
		return deleted, nil
	case TriggerEventBased:
		return x.evalCondition(trigger.Condition, facts)
	default:
		return false, errs.Validation("unknown trigger type %q", trigger.Type)
	}
}

// timeBasedFires compares the user's oldest item in the category against the
// policy period. A period of 0 keeps data indefinitely; -1 fires on the first
// pass that finds any data at all.
func (x *RetentionExecutor) timeBasedFires(ctx context.Context, userID string, policy *RetentionPolicy) (bool, error) {
	if policy.RetentionPeriodDays == 0 {
		return false, nil
	}
	if x.timestamps == nil {
		return false, nil
	}
	oldest, err := x.timestamps.OldestRecordTime(ctx, userID, policy.DataCategory)
	if err != nil {
		return false, errs.Dependency(err, "reading oldest record time")
	}
	if oldest == nil {
		return false, nil
	}
	if policy.RetentionPeriodDays < 0 {
		return true, nil
	}
	cutoff := x.now().AddDate(0, 0, -policy.RetentionPeriodDays)
	return oldest.Before(cutoff), nil
}

// exceptionHolds reports the first exception whose condition evaluates true.
// A holding exception suspends the whole policy for this user this cycle.
func (x *RetentionExecutor) exceptionHolds(userID string, policy *RetentionPolicy, facts map[string]interface{}) (bool, Exception) {
	for _, exception := range policy.Exceptions {
		if exception.Condition == "" {
			continue
		}
		holds, err := x.evalCondition(exception.Condition, facts)
		if err != nil {
			x.logger.Warn("exception condition failed to evaluate, treating as not holding",
				zap.String("policy_id", policy.ID),
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		if holds {
			return true, exception
		}
	}
	return false, Exception{}
}

func (x *RetentionExecutor) evalCondition(condition string, facts map[string]interface{}) (bool, error) {
	if condition == "" {
		return false, nil
	}
	program, err := x.compile(condition)
	if err != nil {
		return false, errs.Validation("invalid condition expression: %v", err)
	}
	out, err := vm.Run(program, facts)
	if err != nil {
		return false, errs.Dependency(err, "evaluating condition expression")
	}
	holds, ok := out.(bool)
	if !ok {
		return false, errs.Validation("condition did not evaluate to a boolean: %s", condition)
	}
	return holds, nil
}

func (x *RetentionExecutor) compile(condition string) (*vm.Program, error) {
	x.progMu.Lock()
	defer x.progMu.Unlock()
	if program, ok := x.programs[condition]; ok {
		return program, nil
	}
	program, err := expr.Compile(condition, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	x.programs[condition] = program
	return program, nil
}

func (x *RetentionExecutor) performAction(ctx context.Context, userID, category string, action RetentionAction) error {
	switch action {
	case ActionDelete:
		return x.data.Delete(ctx, userID, category)
	case ActionAnonymize:
		return x.data.Anonymize(ctx, userID, category)
	case ActionArchive:
		return x.data.Archive(ctx, userID, category)
	case ActionReview:
		return x.data.ScheduleReview(ctx, userID, category)
	default:
		return errs.Validation("unknown retention action %q", action)
	}
}

// withdrawnCategories collects the data categories covered by any withdrawn
// consent record of the user.
func (x *RetentionExecutor) withdrawnCategories(ctx context.Context, userID string) (map[string]bool, error) {
	records, err := x.consents.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	categories := make(map[string]bool)
	for _, r := range records {
		if r.Status != StatusWithdrawn {
			continue
		}
		for _, c := range r.DataCategories {
			categories[c] = true
		}
	}
	return categories, nil
}

func (x *RetentionExecutor) auditAction(ctx context.Context, userID string, policy *RetentionPolicy, action RetentionAction, trigger TriggerType) {
	severity := audit.SeverityInfo
	if action == ActionDelete {
		severity = audit.SeverityHigh
	}
	err := x.auditLog.LogEvent(ctx, &audit.Event{
		EventType: "retention_action",
		Category:  audit.CategoryConsent,
		Action:    string(action),
		UserID:    userID,
		EntityID:  policy.ID,
		Severity:  severity,
		Result:    "success",
		Details: map[string]interface{}{
			"data_category": policy.DataCategory,
			"trigger":       string(trigger),
		},
	})
	if err != nil {
		x.logger.Warn("failed to audit retention action",
			zap.String("policy_id", policy.ID), zap.Error(err))
	}
}
