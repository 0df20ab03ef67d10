package consent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
	"github.com/Damatnic/CoreV6-sub001/internal/consent"
	"github.com/Damatnic/CoreV6-sub001/internal/errs"
	"github.com/Damatnic/CoreV6-sub001/internal/memory"
)

type retentionHarness struct {
	executor *consent.RetentionExecutor
	consents *memory.ConsentStore
	policies *memory.PolicyStore
	vault    *memory.DataVault
	auditLog *audit.Capture
}

func newRetentionHarness(t *testing.T) *retentionHarness {
	t.Helper()

	logger := zap.NewNop()
	consents := memory.NewConsentStore()
	policies := memory.NewPolicyStore()
	vault := memory.NewDataVault()
	auditLog := audit.NewCapture()

	executor := consent.NewRetentionExecutor(logger, policies, consents, vault, vault, vault, auditLog)
	return &retentionHarness{executor: executor, consents: consents, policies: policies, vault: vault, auditLog: auditLog}
}

func (h *retentionHarness) addPolicy(t *testing.T, policy *consent.RetentionPolicy) {
	t.Helper()
	if policy.Name == "" {
		policy.Name = policy.ID
	}
	policy.IsActive = true
	require.NoError(t, h.policies.Put(context.Background(), policy))
}

func daysAgo(n int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -n)
}

func TestTimeBasedRetention(t *testing.T) {
	t.Run("Expired Data Is Deleted", func(t *testing.T) {
		h := newRetentionHarness(t)
		h.addPolicy(t, &consent.RetentionPolicy{
			ID:                  "pol-30d",
			DataCategory:        "chat_transcripts",
			RetentionPeriodDays: 30,
			Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased, Action: consent.ActionDelete}},
		})
		h.vault.Store("user-1", "chat_transcripts", daysAgo(40))

		result, err := h.executor.ExecuteDataRetention(context.Background(), "user-1")
		require.NoError(t, err)

		assert.Equal(t, []string{"chat_transcripts"}, result.DeletedCategories)
		assert.Empty(t, result.Errors)
		assert.Equal(t, 0, h.vault.Count("user-1", "chat_transcripts"))

		events := h.auditLog.ByType("retention_action")
		require.Len(t, events, 1)
		assert.Equal(t, audit.SeverityHigh, events[0].Severity, "deletion is audited at high severity")
	})

	t.Run("Fresh Data Is Kept", func(t *testing.T) {
		h := newRetentionHarness(t)
		h.addPolicy(t, &consent.RetentionPolicy{
			ID:                  "pol-30d",
			DataCategory:        "chat_transcripts",
			RetentionPeriodDays: 30,
			Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased, Action: consent.ActionDelete}},
		})
		h.vault.Store("user-1", "chat_transcripts", daysAgo(10))

		result, err := h.executor.ExecuteDataRetention(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Empty(t, result.DeletedCategories)
		assert.Equal(t, 1, h.vault.Count("user-1", "chat_transcripts"))
	})

	t.Run("Zero Period Keeps Indefinitely", func(t *testing.T) {
		h := newRetentionHarness(t)
		h.addPolicy(t, &consent.RetentionPolicy{
			ID:                  "pol-forever",
			DataCategory:        "medical_records",
			RetentionPeriodDays: 0,
			Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased, Action: consent.ActionDelete}},
		})
		h.vault.Store("user-1", "medical_records", daysAgo(5000))

		result, err := h.executor.ExecuteDataRetention(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Empty(t, result.Outcomes)
		assert.Equal(t, 1, h.vault.Count("user-1", "medical_records"))
	})

	t.Run("Negative Period Fires On Any Data", func(t *testing.T) {
		h := newRetentionHarness(t)
		h.addPolicy(t, &consent.RetentionPolicy{
			ID:                  "pol-immediate",
			DataCategory:        "temp_uploads",
			RetentionPeriodDays: -1,
			Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased, Action: consent.ActionDelete}},
		})
		h.vault.Store("user-1", "temp_uploads", time.Now().UTC())

		result, err := h.executor.ExecuteDataRetention(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"temp_uploads"}, result.DeletedCategories)
	})

	t.Run("No Data No Action", func(t *testing.T) {
		h := newRetentionHarness(t)
		h.addPolicy(t, &consent.RetentionPolicy{
			ID:                  "pol-30d",
			DataCategory:        "chat_transcripts",
			RetentionPeriodDays: 30,
			Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased, Action: consent.ActionDelete}},
		})

		result, err := h.executor.ExecuteDataRetention(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Empty(t, result.Outcomes)
		assert.Empty(t, result.Errors)
	})
}

func TestWithdrawalTrigger(t *testing.T) {
	h := newRetentionHarness(t)
	ctx := context.Background()

	h.addPolicy(t, &consent.RetentionPolicy{
		ID:           "pol-withdrawn",
		DataCategory: "mood_entries",
		Triggers:     []consent.Trigger{{Type: consent.TriggerConsentWithdrawn, Action: consent.ActionAnonymize}},
	})
	h.vault.Store("user-1", "mood_entries", daysAgo(3))

	t.Run("No Withdrawal No Action", func(t *testing.T) {
		result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, result.Outcomes)
	})

	t.Run("Withdrawn Consent Covering Category Fires", func(t *testing.T) {
		require.NoError(t, h.consents.Put(ctx, &consent.Record{
			ID:             "c-1",
			UserID:         "user-1",
			Type:           consent.TypeDataProcessing,
			Status:         consent.StatusWithdrawn,
			DataCategories: []string{"mood_entries"},
		}))

		result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"mood_entries"}, result.AnonymizedCategories)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, consent.TriggerConsentWithdrawn, result.Outcomes[0].Trigger)
	})
}

func TestAccountDeletedTrigger(t *testing.T) {
	h := newRetentionHarness(t)
	ctx := context.Background()

	h.addPolicy(t, &consent.RetentionPolicy{
		ID:           "pol-account",
		DataCategory: "profile_data",
		Triggers:     []consent.Trigger{{Type: consent.TriggerAccountDeleted, Action: consent.ActionDelete}},
	})
	h.vault.Store("user-1", "profile_data", daysAgo(1))

	result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, result.Outcomes)

	h.vault.SetFact("user-1", "account_deleted", true)

	result, err = h.executor.ExecuteDataRetention(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"profile_data"}, result.DeletedCategories)
}

func TestEventBasedTrigger(t *testing.T) {
	h := newRetentionHarness(t)
	ctx := context.Background()

	h.addPolicy(t, &consent.RetentionPolicy{
		ID:           "pol-flagged",
		DataCategory: "session_logs",
		Triggers: []consent.Trigger{{
			Type:      consent.TriggerEventBased,
			Condition: `account_flagged && flag_age_days > 90`,
			Action:    consent.ActionArchive,
		}},
	})
	h.vault.Store("user-1", "session_logs", daysAgo(2))

	t.Run("Condition False", func(t *testing.T) {
		h.vault.SetFact("user-1", "account_flagged", true)
		h.vault.SetFact("user-1", "flag_age_days", 10)

		result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, result.Outcomes)
	})

	t.Run("Condition True Archives", func(t *testing.T) {
		h.vault.SetFact("user-1", "flag_age_days", 120)

		result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"session_logs"}, result.ArchivedCategories)
		assert.Equal(t, 0, h.vault.Count("user-1", "session_logs"))
		assert.Equal(t, 1, h.vault.ArchivedCount("user-1", "session_logs"))
	})

	t.Run("Non-Boolean Condition Is An Error", func(t *testing.T) {
		h.addPolicy(t, &consent.RetentionPolicy{
			ID:           "pol-bad",
			DataCategory: "misc",
			Triggers: []consent.Trigger{{
				Type:      consent.TriggerEventBased,
				Condition: `flag_age_days + 1`,
				Action:    consent.ActionDelete,
			}},
		})

		result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
		require.NoError(t, err, "a failing policy never aborts the pass")

		var badPolicy bool
		for _, e := range result.Errors {
			if e.PolicyID == "pol-bad" {
				badPolicy = true
			}
		}
		assert.True(t, badPolicy)
	})
}

func TestRetentionExceptions(t *testing.T) {
	h := newRetentionHarness(t)
	ctx := context.Background()

	h.addPolicy(t, &consent.RetentionPolicy{
		ID:                  "pol-held",
		DataCategory:        "chat_transcripts",
		RetentionPeriodDays: 30,
		Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased, Action: consent.ActionDelete}},
		Exceptions: []consent.Exception{{
			Type:          "legal_hold",
			Condition:     `legal_hold == true`,
			Justification: "litigation hold supersedes retention schedule",
		}},
	})
	h.vault.Store("user-1", "chat_transcripts", daysAgo(60))

	t.Run("Holding Exception Skips Policy", func(t *testing.T) {
		h.vault.SetFact("user-1", "legal_hold", true)

		result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
		require.NoError(t, err)

		assert.Empty(t, result.Outcomes)
		require.Len(t, result.Skipped, 1)
		assert.Equal(t, "legal_hold", result.Skipped[0].ExceptionType)
		assert.Equal(t, 1, h.vault.Count("user-1", "chat_transcripts"))
	})

	t.Run("Released Hold Lets Policy Fire", func(t *testing.T) {
		h.vault.SetFact("user-1", "legal_hold", false)

		result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"chat_transcripts"}, result.DeletedCategories)
	})
}

func TestOneActionPerPolicyPerPass(t *testing.T) {
	h := newRetentionHarness(t)
	ctx := context.Background()

	// Both triggers would fire; only the first in order acts.
	h.addPolicy(t, &consent.RetentionPolicy{
		ID:                  "pol-multi",
		DataCategory:        "mood_entries",
		RetentionPeriodDays: -1,
		Triggers: []consent.Trigger{
			{Type: consent.TriggerTimeBased, Action: consent.ActionArchive},
			{Type: consent.TriggerAccountDeleted, Action: consent.ActionDelete},
		},
	})
	h.vault.Store("user-1", "mood_entries", daysAgo(1))
	h.vault.SetFact("user-1", "account_deleted", true)

	result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, consent.ActionArchive, result.Outcomes[0].Action)
	assert.Empty(t, result.DeletedCategories)
}

func TestScheduleReviewAction(t *testing.T) {
	h := newRetentionHarness(t)
	ctx := context.Background()

	h.addPolicy(t, &consent.RetentionPolicy{
		ID:                  "pol-review",
		DataCategory:        "crisis_alerts",
		RetentionPeriodDays: 365,
		Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased, Action: consent.ActionReview}},
	})
	h.vault.Store("user-1", "crisis_alerts", daysAgo(400))

	result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"crisis_alerts"}, result.ReviewCategories)
	assert.Equal(t, []string{"crisis_alerts"}, h.vault.PendingReviews("user-1"))
	assert.Equal(t, 1, h.vault.Count("user-1", "crisis_alerts"), "review never removes data")
}

func TestRetentionValidation(t *testing.T) {
	h := newRetentionHarness(t)

	_, err := h.executor.ExecuteDataRetention(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestDefaultActionIsDelete(t *testing.T) {
	h := newRetentionHarness(t)
	ctx := context.Background()

	h.addPolicy(t, &consent.RetentionPolicy{
		ID:                  "pol-default",
		DataCategory:        "temp_uploads",
		RetentionPeriodDays: -1,
		Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased}},
	})
	h.vault.Store("user-1", "temp_uploads", daysAgo(1))

	result, err := h.executor.ExecuteDataRetention(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"temp_uploads"}, result.DeletedCategories)
}

func TestPolicyStoreIsolatesCallerMutations(t *testing.T) {
	h := newRetentionHarness(t)
	ctx := context.Background()

	policy := &consent.RetentionPolicy{
		ID:                  "pol-iso",
		DataCategory:        "chat_transcripts",
		RetentionPeriodDays: 30,
		Triggers:            []consent.Trigger{{Type: consent.TriggerTimeBased, Action: consent.ActionDelete}},
	}
	h.addPolicy(t, policy)

	// Mutating the caller's copy after Put must not change stored state.
	policy.IsActive = false
	policy.Triggers[0].Action = consent.ActionArchive

	stored, err := h.policies.Get(ctx, "pol-iso")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsActive)
	assert.Equal(t, consent.ActionDelete, stored.Triggers[0].Action)

	// Mutating a read copy must not leak back either.
	stored.DataCategory = "journal_entries"
	again, err := h.policies.Get(ctx, "pol-iso")
	require.NoError(t, err)
	assert.Equal(t, "chat_transcripts", again.DataCategory)
}
