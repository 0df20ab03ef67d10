package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TaskHandler is one unit of scheduled background work.
type TaskHandler interface {
	Execute(ctx context.Context) error
	Name() string
}

// ScheduledTask tracks one registered task and its run counters.
type ScheduledTask struct {
	ID          string
	Schedule    string
	Handler     TaskHandler
	LastRun     time.Time
	RunCount    int64
	ErrorCount  int64
	Enabled     bool
	cronEntryID cron.EntryID
}

// TaskSnapshot is the read-only view of a task exposed on the admin surface.
type TaskSnapshot struct {
	ID         string    `json:"id"`
	Schedule   string    `json:"schedule"`
	LastRun    time.Time `json:"last_run"`
	NextRun    time.Time `json:"next_run"`
	RunCount   int64     `json:"run_count"`
	ErrorCount int64     `json:"error_count"`
	Enabled    bool      `json:"enabled"`
}

// Scheduler runs the periodic maintenance sweeps on cron schedules with
// second precision, in UTC.
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron

	tasksMu sync.RWMutex
	tasks   map[string]*ScheduledTask
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		tasks:  make(map[string]*ScheduledTask),
	}
}

// Register adds a task under the given cron schedule. Tasks registered after
// Start are picked up immediately.
func (s *Scheduler) Register(id, schedule string, handler TaskHandler) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("task already registered: %s", id)
	}

	task := &ScheduledTask{
		ID:       id,
		Schedule: schedule,
		Handler:  handler,
		Enabled:  true,
	}

	entryID, err := s.cron.AddFunc(schedule, func() { s.run(task) })
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", id, err)
	}
	task.cronEntryID = entryID
	s.tasks[id] = task

	s.logger.Info("scheduled task registered",
		zap.String("task_id", id), zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) run(task *ScheduledTask) {
	s.tasksMu.Lock()
	if !task.Enabled {
		s.tasksMu.Unlock()
		return
	}
	task.LastRun = time.Now().UTC()
	task.RunCount++
	s.tasksMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := task.Handler.Execute(ctx); err != nil {
		s.tasksMu.Lock()
		task.ErrorCount++
		s.tasksMu.Unlock()
		s.logger.Error("scheduled task failed",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Stop stops the cron loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// Disable turns a task off without removing it.
func (s *Scheduler) Disable(id string) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task not found: %s", id)
	}
	task.Enabled = false
	return nil
}

// Enable turns a disabled task back on.
func (s *Scheduler) Enable(id string) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task not found: %s", id)
	}
	task.Enabled = true
	return nil
}

// Tasks returns a snapshot of every registered task.
func (s *Scheduler) Tasks() []TaskSnapshot {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()

	out := make([]TaskSnapshot, 0, len(s.tasks))
	for _, task := range s.tasks {
		snapshot := TaskSnapshot{
			ID:         task.ID,
			Schedule:   task.Schedule,
			LastRun:    task.LastRun,
			RunCount:   task.RunCount,
			ErrorCount: task.ErrorCount,
			Enabled:    task.Enabled,
		}
		if entry := s.cron.Entry(task.cronEntryID); entry.ID != 0 {
			snapshot.NextRun = entry.Next
		}
		out = append(out, snapshot)
	}
	return out
}
