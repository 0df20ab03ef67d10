package consent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
	"github.com/Damatnic/CoreV6-sub001/internal/config"
	"github.com/Damatnic/CoreV6-sub001/internal/consent"
	"github.com/Damatnic/CoreV6-sub001/internal/errs"
	"github.com/Damatnic/CoreV6-sub001/internal/memory"
)

type consentHarness struct {
	engine   *consent.Engine
	store    *memory.ConsentStore
	policies *memory.PolicyStore
	vault    *memory.DataVault
	auditLog *audit.Capture
}

func newConsentHarness(t *testing.T, mutate func(*config.ConsentConfig)) *consentHarness {
	t.Helper()

	cfg := config.ConsentConfig{
		RequiredTypes: []string{"data_processing", "treatment"},
		DefaultExpiry: 365 * 24 * time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zap.NewNop()
	store := memory.NewConsentStore()
	policies := memory.NewPolicyStore()
	vault := memory.NewDataVault()
	auditLog := audit.NewCapture()

	retention := consent.NewRetentionExecutor(logger, policies, store, vault, vault, vault, auditLog)
	engine := consent.NewEngine(cfg, logger, store, retention, auditLog)

	return &consentHarness{engine: engine, store: store, policies: policies, vault: vault, auditLog: auditLog}
}

func requestOpts(userID string) consent.RequestOptions {
	return consent.RequestOptions{
		UserID:         userID,
		Type:           consent.TypeDataProcessing,
		LegalBasis:     consent.BasisConsent,
		Purpose:        "providing the mood tracking service",
		DataCategories: []string{"mood_entries", "journal_entries"},
		Method:         "web_form",
	}
}

func TestRequestConsent(t *testing.T) {
	h := newConsentHarness(t, nil)
	ctx := context.Background()

	t.Run("Creates Pending Record", func(t *testing.T) {
		record, err := h.engine.RequestConsent(ctx, requestOpts("user-1"))
		require.NoError(t, err)

		assert.Equal(t, consent.StatusPending, record.Status)
		assert.NotEmpty(t, record.ID)
		assert.NotEmpty(t, record.ConsentText)
		require.Len(t, record.History, 1)
		assert.Equal(t, "requested", record.History[0].Action)

		events := h.auditLog.ByType("consent_requested")
		require.Len(t, events, 1)
		assert.Equal(t, record.ID, events[0].EntityID)
	})

	t.Run("Consent Text Is Deterministic", func(t *testing.T) {
		a := consent.BuildConsentText(consent.TypeDataProcessing, "p", []string{"b", "a"})
		b := consent.BuildConsentText(consent.TypeDataProcessing, "p", []string{"a", "b"})
		assert.Equal(t, a, b)
	})

	t.Run("Validation", func(t *testing.T) {
		cases := map[string]consent.RequestOptions{
			"missing user":    {Type: consent.TypeTreatment, LegalBasis: consent.BasisConsent, Purpose: "x"},
			"unknown type":    {UserID: "u", Type: "mind_reading", LegalBasis: consent.BasisConsent, Purpose: "x"},
			"unknown basis":   {UserID: "u", Type: consent.TypeTreatment, LegalBasis: "vibes", Purpose: "x"},
			"missing purpose": {UserID: "u", Type: consent.TypeTreatment, LegalBasis: consent.BasisConsent},
		}
		for name, opts := range cases {
			_, err := h.engine.RequestConsent(ctx, opts)
			require.Error(t, err, name)
			assert.True(t, errs.IsValidation(err), name)
		}
	})
}

func TestConsentLifecycle(t *testing.T) {
	h := newConsentHarness(t, nil)
	ctx := context.Background()

	record, err := h.engine.RequestConsent(ctx, requestOpts("user-1"))
	require.NoError(t, err)

	valid, err := h.engine.HasValidConsent(ctx, "user-1", consent.TypeDataProcessing)
	require.NoError(t, err)
	assert.False(t, valid, "pending consent is not valid")

	granted, err := h.engine.Grant(ctx, record.ID, "mobile_app")
	require.NoError(t, err)
	assert.Equal(t, consent.StatusGranted, granted.Status)
	assert.Equal(t, "mobile_app", granted.Method)
	require.NotNil(t, granted.GrantedAt)
	require.NotNil(t, granted.ExpiresAt, "default expiry applied")
	require.Len(t, granted.History, 2)
	assert.Equal(t, "granted", granted.History[1].Action)

	valid, err = h.engine.HasValidConsent(ctx, "user-1", consent.TypeDataProcessing)
	require.NoError(t, err)
	assert.True(t, valid)

	withdrawn, _, err := h.engine.Withdraw(ctx, record.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, consent.StatusWithdrawn, withdrawn.Status)
	require.NotNil(t, withdrawn.WithdrawnAt)
	require.Len(t, withdrawn.History, 3)
	assert.Equal(t, "withdrawn", withdrawn.History[2].Action)
	assert.Equal(t, "changed my mind", withdrawn.History[2].Reason)

	valid, err = h.engine.HasValidConsent(ctx, "user-1", consent.TypeDataProcessing)
	require.NoError(t, err)
	assert.False(t, valid)

	// Exactly one audit event per transition.
	assert.Len(t, h.auditLog.ByType("consent_requested"), 1)
	assert.Len(t, h.auditLog.ByType("consent_granted"), 1)
	assert.Len(t, h.auditLog.ByType("consent_withdrawn"), 1)
}

func TestHasValidConsentCategoryFilter(t *testing.T) {
	h := newConsentHarness(t, nil)
	ctx := context.Background()

	opts := requestOpts("user-1")
	opts.DataCategories = []string{"contact"}
	record, err := h.engine.RequestConsent(ctx, opts)
	require.NoError(t, err)
	_, err = h.engine.Grant(ctx, record.ID, "web_form")
	require.NoError(t, err)

	t.Run("No Filter Matches", func(t *testing.T) {
		valid, err := h.engine.HasValidConsent(ctx, "user-1", consent.TypeDataProcessing)
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("Covered Category Matches", func(t *testing.T) {
		valid, err := h.engine.HasValidConsent(ctx, "user-1", consent.TypeDataProcessing, "contact")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("Uncovered Category Does Not Match", func(t *testing.T) {
		valid, err := h.engine.HasValidConsent(ctx, "user-1", consent.TypeDataProcessing, "medical")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("All Given Categories Must Be Covered", func(t *testing.T) {
		valid, err := h.engine.HasValidConsent(ctx, "user-1", consent.TypeDataProcessing, "contact", "medical")
		require.NoError(t, err)
		assert.False(t, valid)
	})
}

func TestConsentTransitionConflicts(t *testing.T) {
	h := newConsentHarness(t, nil)
	ctx := context.Background()

	t.Run("Grant After Denial", func(t *testing.T) {
		record, err := h.engine.RequestConsent(ctx, requestOpts("user-1"))
		require.NoError(t, err)

		denied, err := h.engine.Deny(ctx, record.ID, "not comfortable")
		require.NoError(t, err)
		assert.Equal(t, consent.StatusDenied, denied.Status)

		_, err = h.engine.Grant(ctx, record.ID, "")
		require.Error(t, err)
		assert.True(t, errs.IsConflict(err))
	})

	t.Run("Withdraw Pending", func(t *testing.T) {
		record, err := h.engine.RequestConsent(ctx, requestOpts("user-2"))
		require.NoError(t, err)

		_, _, err = h.engine.Withdraw(ctx, record.ID, "")
		require.Error(t, err)
		assert.True(t, errs.IsConflict(err))
	})

	t.Run("Double Grant", func(t *testing.T) {
		record, err := h.engine.RequestConsent(ctx, requestOpts("user-3"))
		require.NoError(t, err)

		_, err = h.engine.Grant(ctx, record.ID, "")
		require.NoError(t, err)
		_, err = h.engine.Grant(ctx, record.ID, "")
		require.Error(t, err)
		assert.True(t, errs.IsConflict(err))
	})

	t.Run("Unknown Record", func(t *testing.T) {
		_, err := h.engine.Grant(ctx, "no-such-consent", "")
		require.Error(t, err)
		assert.True(t, errs.IsNotFound(err))
	})
}

func TestConsentExpiry(t *testing.T) {
	h := newConsentHarness(t, nil)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	opts := requestOpts("user-1")
	opts.ExpiresAt = &past

	record, err := h.engine.RequestConsent(ctx, opts)
	require.NoError(t, err)
	_, err = h.engine.Grant(ctx, record.ID, "")
	require.NoError(t, err)

	t.Run("Past Expiry Reads Invalid Before Sweep", func(t *testing.T) {
		valid, err := h.engine.HasValidConsent(ctx, "user-1", consent.TypeDataProcessing)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("Sweep Transitions To Expired", func(t *testing.T) {
		expired, err := h.engine.ExpireConsents(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, expired)

		stored, err := h.store.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, consent.StatusExpired, stored.Status)
		assert.Equal(t, "expired", stored.History[len(stored.History)-1].Action)
		assert.Len(t, h.auditLog.ByType("consent_expired"), 1)
	})

	t.Run("Second Sweep Is A No-Op", func(t *testing.T) {
		expired, err := h.engine.ExpireConsents(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, expired)
	})
}

func TestWithdrawRunsRetention(t *testing.T) {
	h := newConsentHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.policies.Put(ctx, &consent.RetentionPolicy{
		ID:           "pol-mood",
		Name:         "mood entries on withdrawal",
		DataCategory: "mood_entries",
		Triggers: []consent.Trigger{
			{Type: consent.TriggerConsentWithdrawn, Action: consent.ActionDelete},
		},
		IsActive: true,
	}))
	h.vault.Store("user-1", "mood_entries", time.Now().UTC().Add(-time.Hour))

	record, err := h.engine.RequestConsent(ctx, requestOpts("user-1"))
	require.NoError(t, err)
	_, err = h.engine.Grant(ctx, record.ID, "")
	require.NoError(t, err)

	_, result, err := h.engine.Withdraw(ctx, record.ID, "deleting my account")
	require.NoError(t, err)

	require.NotNil(t, result, "withdrawal runs a synchronous retention pass")
	assert.Contains(t, result.DeletedCategories, "mood_entries")
	assert.Equal(t, 0, h.vault.Count("user-1", "mood_entries"))
	assert.Len(t, h.auditLog.ByType("retention_action"), 1)
}

func TestComplianceReport(t *testing.T) {
	h := newConsentHarness(t, nil)
	ctx := context.Background()

	grant := func(t *testing.T, userID string, ct consent.Type, expiresAt *time.Time) *consent.Record {
		t.Helper()
		opts := requestOpts(userID)
		opts.Type = ct
		opts.ExpiresAt = expiresAt
		record, err := h.engine.RequestConsent(ctx, opts)
		require.NoError(t, err)
		granted, err := h.engine.Grant(ctx, record.ID, "")
		require.NoError(t, err)
		return granted
	}

	t.Run("Missing Required Type Is Non-Compliant", func(t *testing.T) {
		grant(t, "user-a", consent.TypeDataProcessing, nil)

		report, err := h.engine.Report(ctx, "user-a")
		require.NoError(t, err)
		assert.Equal(t, consent.ComplianceNonCompliant, report.Status)
		assert.Equal(t, []consent.Type{consent.TypeTreatment}, report.MissingTypes)
		assert.Empty(t, report.ExpiredTypes)
	})

	t.Run("All Required Granted Is Compliant", func(t *testing.T) {
		grant(t, "user-b", consent.TypeDataProcessing, nil)
		grant(t, "user-b", consent.TypeTreatment, nil)

		report, err := h.engine.Report(ctx, "user-b")
		require.NoError(t, err)
		assert.Equal(t, consent.ComplianceCompliant, report.Status)
		assert.Equal(t, 2, report.CountsByState[consent.StatusGranted])
	})

	t.Run("Lapsed Required Type Is Partial", func(t *testing.T) {
		grant(t, "user-c", consent.TypeDataProcessing, nil)
		lapsed := grant(t, "user-c", consent.TypeTreatment, nil)
		_, _, err := h.engine.Withdraw(ctx, lapsed.ID, "")
		require.NoError(t, err)

		report, err := h.engine.Report(ctx, "user-c")
		require.NoError(t, err)
		assert.Equal(t, consent.CompliancePartial, report.Status)
		assert.Equal(t, []consent.Type{consent.TypeTreatment}, report.ExpiredTypes)
	})

	t.Run("Past Expiry Counts As Lapsed", func(t *testing.T) {
		past := time.Now().UTC().Add(-time.Minute)
		grant(t, "user-d", consent.TypeDataProcessing, nil)
		grant(t, "user-d", consent.TypeTreatment, &past)

		report, err := h.engine.Report(ctx, "user-d")
		require.NoError(t, err)
		assert.Equal(t, consent.CompliancePartial, report.Status)
	})
}
