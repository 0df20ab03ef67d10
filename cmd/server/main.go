package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Damatnic/CoreV6-sub001/internal/audit"
	"github.com/Damatnic/CoreV6-sub001/internal/cache"
	"github.com/Damatnic/CoreV6-sub001/internal/config"
	"github.com/Damatnic/CoreV6-sub001/internal/consent"
	"github.com/Damatnic/CoreV6-sub001/internal/crisis"
	"github.com/Damatnic/CoreV6-sub001/internal/database"
	"github.com/Damatnic/CoreV6-sub001/internal/handlers"
	"github.com/Damatnic/CoreV6-sub001/internal/memory"
	"github.com/Damatnic/CoreV6-sub001/internal/metrics"
	"github.com/Damatnic/CoreV6-sub001/internal/notification"
	"github.com/Damatnic/CoreV6-sub001/internal/scheduler"
	"github.com/Damatnic/CoreV6-sub001/internal/session"
)

const (
	serviceName = "trust-core"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := setupLogging(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting trust core",
		zap.String("service", serviceName),
		zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores: postgres when a database host is configured, in-memory otherwise.
	var (
		alertStore   crisis.AlertStore
		sessionStore session.Store
		consentStore consent.Store
		policyStore  consent.PolicyStore
		eventStore   audit.EventStore
		userSource   scheduler.UserSource
	)
	if cfg.Database.Host != "" {
		if err := database.RunMigrations(cfg.Database); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		db, err := database.Connect(cfg.Database)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		alertStore = database.NewAlertRepository(db, logger)
		sessionStore = database.NewSessionRepository(db, logger)
		consentRepo := database.NewConsentRepository(db, logger)
		consentStore = consentRepo
		userSource = consentRepo
		policyStore = database.NewPolicyRepository(db, logger)
		eventStore = database.NewAuditRepository(db, logger)
	} else {
		logger.Warn("no database configured, using in-memory stores")
		alertStore = memory.NewAlertStore()
		sessionStore = memory.NewSessionStore()
		memConsents := memory.NewConsentStore()
		consentStore = memConsents
		userSource = memConsents
		policyStore = memory.NewPolicyStore()
		eventStore = memory.NewEventStore()
	}

	// Audit recorder, with optional Kafka forwarding.
	var kafkaWriter *kafka.Writer
	if cfg.Kafka.Enabled {
		kafkaWriter = audit.NewKafkaWriter(cfg.Kafka)
	}
	recorder := audit.NewRecorder(cfg.Audit, logger, eventStore, kafkaWriter)
	if err := recorder.Start(ctx); err != nil {
		logger.Fatal("failed to start audit recorder", zap.Error(err))
	}
	defer recorder.Stop()

	// Cooldown cache: redis when enabled, in-process otherwise.
	var cooldowns cache.Cache
	var memCache *cache.Memory
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		cooldowns = redisCache
	} else {
		memCache = cache.NewMemory()
		cooldowns = memCache
	}

	roster := notification.StaticRoster{}
	for id, contact := range cfg.Notifications.Contacts {
		roster[id] = notification.Contact{
			ID:    id,
			Name:  contact.Name,
			Email: contact.Email,
			Phone: contact.Phone,
		}
	}
	notifier, err := notification.NewManager(cfg.Notifications, logger, roster)
	if err != nil {
		logger.Fatal("failed to initialize notification manager", zap.Error(err))
	}

	// Domain engines.
	history := crisis.NewHistory(cfg.Crisis, logger, alertStore)
	directory := crisis.NewDefaultDirectory(cfg.Crisis.MaxResources)
	crisisEngine := crisis.NewEngine(
		cfg.Crisis, logger, crisis.NewClassifier(), nil,
		history, directory, alertStore, cooldowns, notifier, recorder,
	)

	sessionManager := session.NewManager(cfg.Session, logger, sessionStore, recorder)

	vault := memory.NewDataVault()
	retention := consent.NewRetentionExecutor(
		logger, policyStore, consentStore, vault, vault, vault, recorder,
	)
	consentEngine := consent.NewEngine(cfg.Consent, logger, consentStore, retention, recorder)

	// Background sweeps.
	sched := scheduler.New(logger)
	if cfg.Scheduler.Enabled {
		register := func(id, schedule string, task scheduler.TaskHandler) {
			if err := sched.Register(id, schedule, task); err != nil {
				logger.Fatal("failed to register task",
					zap.String("task_id", id), zap.Error(err))
			}
		}
		register("session_sweep", cfg.Scheduler.SessionSweepSchedule,
			scheduler.NewSessionSweepTask(sessionManager, logger))
		register("consent_expiry", cfg.Scheduler.ConsentExpirySchedule,
			scheduler.NewConsentExpiryTask(consentEngine, logger))
		register("retention_sweep", cfg.Scheduler.RetentionSchedule,
			scheduler.NewRetentionSweepTask(retention, userSource, cfg.Consent.RetentionBatchSize, logger))
		if memCache != nil {
			register("cache_cleanup", cfg.Scheduler.CacheCleanupSchedule,
				scheduler.NewCacheCleanupTask(memCache, logger))
		}
		sched.Start()
		defer sched.Stop()
	}

	collector := metrics.NewCollector(logger, alertStore, sessionStore, sched)

	httpHandlers := handlers.NewHTTPHandler(logger, crisisEngine, sessionManager, consentEngine, alertStore, sched)
	router := mux.NewRouter()
	httpHandlers.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		collector.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting http server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server gracefully", zap.Error(err))
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
