package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/crisis"
	"github.com/Damatnic/CoreV6-sub001/internal/scheduler"
	"github.com/Damatnic/CoreV6-sub001/internal/session"
)

// Collector exposes trust-core state as Prometheus metrics. Gauges are
// refreshed from the stores on a fixed interval rather than instrumented
// inline, so a scrape never touches the hot path.
type Collector struct {
	logger *zap.Logger

	alerts    crisis.AlertStore
	sessions  session.Store
	scheduler *scheduler.Scheduler

	alertsBySeverity *prometheus.GaugeVec
	alertsUnhandled  prometheus.Gauge
	sessionsActive   prometheus.Gauge
	sessionsByType   *prometheus.GaugeVec
	taskRuns         *prometheus.GaugeVec
	taskErrors       *prometheus.GaugeVec

	interval time.Duration
}

func NewCollector(logger *zap.Logger, alerts crisis.AlertStore, sessions session.Store, sched *scheduler.Scheduler) *Collector {
	return &Collector{
		logger:    logger,
		alerts:    alerts,
		sessions:  sessions,
		scheduler: sched,
		interval:  30 * time.Second,

		alertsBySeverity: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trust_core_safety_alerts",
				Help: "Safety alerts recorded, by severity",
			},
			[]string{"severity"},
		),
		alertsUnhandled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "trust_core_safety_alerts_unhandled",
				Help: "Safety alerts awaiting a responder",
			},
		),
		sessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "trust_core_sessions_active",
				Help: "Currently active sessions",
			},
		),
		sessionsByType: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trust_core_sessions_active_by_type",
				Help: "Currently active sessions, by session type",
			},
			[]string{"session_type"},
		),
		taskRuns: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trust_core_task_runs_total",
				Help: "Scheduled task executions",
			},
			[]string{"task"},
		),
		taskErrors: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trust_core_task_errors_total",
				Help: "Scheduled task failures",
			},
			[]string{"task"},
		),
	}
}

// Start refreshes the gauges until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	if stats, err := c.alerts.Stats(ctx); err != nil {
		c.logger.Warn("failed to collect alert stats", zap.Error(err))
	} else {
		c.alertsBySeverity.WithLabelValues("critical").Set(float64(stats.Critical))
		c.alertsBySeverity.WithLabelValues("high").Set(float64(stats.High))
		c.alertsBySeverity.WithLabelValues("medium").Set(float64(stats.Medium))
		c.alertsBySeverity.WithLabelValues("low").Set(float64(stats.Low))
		c.alertsUnhandled.Set(float64(stats.Unhandled))
	}

	if stats, err := c.sessions.Stats(ctx); err != nil {
		c.logger.Warn("failed to collect session stats", zap.Error(err))
	} else {
		c.sessionsActive.Set(float64(stats.Active))
		for sessionType, count := range stats.ActiveByType {
			c.sessionsByType.WithLabelValues(string(sessionType)).Set(float64(count))
		}
	}

	if c.scheduler != nil {
		for _, task := range c.scheduler.Tasks() {
			c.taskRuns.WithLabelValues(task.ID).Set(float64(task.RunCount))
			c.taskErrors.WithLabelValues(task.ID).Set(float64(task.ErrorCount))
		}
	}
}
