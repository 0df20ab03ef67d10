package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/cache"
	"github.com/Damatnic/CoreV6-sub001/internal/consent"
	"github.com/Damatnic/CoreV6-sub001/internal/session"
)

// SessionSweepTask expires idle and overdue sessions.
type SessionSweepTask struct {
	manager *session.Manager
	logger  *zap.Logger
}

func NewSessionSweepTask(manager *session.Manager, logger *zap.Logger) *SessionSweepTask {
	return &SessionSweepTask{manager: manager, logger: logger}
}

func (t *SessionSweepTask) Name() string { return "session_sweep" }

func (t *SessionSweepTask) Execute(ctx context.Context) error {
	swept, err := t.manager.Sweep(ctx)
	if err != nil {
		return err
	}
	if swept > 0 {
		t.logger.Info("session sweep completed", zap.Int("swept", swept))
	}
	return nil
}

// ConsentExpiryTask transitions granted consents past their expiry.
type ConsentExpiryTask struct {
	engine *consent.Engine
	logger *zap.Logger
}

func NewConsentExpiryTask(engine *consent.Engine, logger *zap.Logger) *ConsentExpiryTask {
	return &ConsentExpiryTask{engine: engine, logger: logger}
}

func (t *ConsentExpiryTask) Name() string { return "consent_expiry" }

func (t *ConsentExpiryTask) Execute(ctx context.Context) error {
	expired, err := t.engine.ExpireConsents(ctx)
	if err != nil {
		return err
	}
	if expired > 0 {
		t.logger.Info("consent expiry sweep completed", zap.Int("expired", expired))
	}
	return nil
}

// UserSource lists the user IDs a retention sweep should visit.
type UserSource interface {
	UserIDs(ctx context.Context) ([]string, error)
}

// RetentionSweepTask runs the retention executor over every known user.
type RetentionSweepTask struct {
	executor  *consent.RetentionExecutor
	users     UserSource
	batchSize int
	logger    *zap.Logger
}

func NewRetentionSweepTask(executor *consent.RetentionExecutor, users UserSource, batchSize int, logger *zap.Logger) *RetentionSweepTask {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RetentionSweepTask{executor: executor, users: users, batchSize: batchSize, logger: logger}
}

func (t *RetentionSweepTask) Name() string { return "retention_sweep" }

// Execute visits at most batchSize users per run; the rest wait for the next
// scheduled run. A failing user never aborts the sweep.
func (t *RetentionSweepTask) Execute(ctx context.Context) error {
	userIDs, err := t.users.UserIDs(ctx)
	if err != nil {
		return err
	}
	if len(userIDs) > t.batchSize {
		userIDs = userIDs[:t.batchSize]
	}

	actions := 0
	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		result, err := t.executor.ExecuteDataRetention(ctx, userID)
		if err != nil {
			t.logger.Warn("retention pass failed for user",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		actions += len(result.Outcomes)
		for _, retErr := range result.Errors {
			t.logger.Warn("retention category failed",
				zap.String("user_id", userID),
				zap.String("policy_id", retErr.PolicyID),
				zap.String("category", retErr.Category),
				zap.String("error", retErr.Message))
		}
	}

	if actions > 0 {
		t.logger.Info("retention sweep completed",
			zap.Int("users", len(userIDs)), zap.Int("actions", actions))
	}
	return nil
}

// CacheCleanupTask evicts expired entries from the in-memory cache. Redis
// expires keys itself, so the task is only registered for the memory backend.
type CacheCleanupTask struct {
	cache  *cache.Memory
	logger *zap.Logger
}

func NewCacheCleanupTask(memory *cache.Memory, logger *zap.Logger) *CacheCleanupTask {
	return &CacheCleanupTask{cache: memory, logger: logger}
}

func (t *CacheCleanupTask) Name() string { return "cache_cleanup" }

func (t *CacheCleanupTask) Execute(_ context.Context) error {
	removed := t.cache.Cleanup()
	if removed > 0 {
		t.logger.Debug("cache cleanup completed", zap.Int("removed", removed))
	}
	return nil
}
