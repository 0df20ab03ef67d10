package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the trust core service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Crisis        CrisisConfig        `mapstructure:"crisis"`
	Session       SessionConfig       `mapstructure:"session"`
	Consent       ConsentConfig       `mapstructure:"consent"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig contains the admin HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration for the cooldown cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig contains audit event forwarding configuration
type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

// CrisisConfig contains crisis intervention engine configuration
type CrisisConfig struct {
	CooldownWindow      time.Duration `mapstructure:"cooldown_window"`
	HistoryWindow       time.Duration `mapstructure:"history_window"`
	RecentAlertWindow   time.Duration `mapstructure:"recent_alert_window"`
	FrequentThreshold   int           `mapstructure:"frequent_threshold"`
	EscalatingThreshold int           `mapstructure:"escalating_threshold"`
	MaxResources        int           `mapstructure:"max_resources"`
	ResponderIDs        []string      `mapstructure:"responder_ids"`
	CrisisTeamIDs       []string      `mapstructure:"crisis_team_ids"`
}

// SessionConfig contains session manager configuration
type SessionConfig struct {
	MaxIdleMinutes        int           `mapstructure:"max_idle_minutes"`
	MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions"`
	ActivityLogCap        int           `mapstructure:"activity_log_cap"`
	EnforceIPBinding      bool          `mapstructure:"enforce_ip_binding"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
}

// ConsentConfig contains consent and retention engine configuration
type ConsentConfig struct {
	RequiredTypes      []string      `mapstructure:"required_types"`
	DefaultExpiry      time.Duration `mapstructure:"default_expiry"`
	RetentionBatchSize int           `mapstructure:"retention_batch_size"`
}

// AuditConfig contains audit logger configuration
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// NotificationsConfig contains notification channel configuration
type NotificationsConfig struct {
	Email    EmailConfig              `mapstructure:"email"`
	SMS      SMSConfig                `mapstructure:"sms"`
	Webhook  WebhookConfig            `mapstructure:"webhook"`
	Contacts map[string]ContactConfig `mapstructure:"contacts"`
}

// ContactConfig maps a responder or crisis team ID to deliverable addresses.
type ContactConfig struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
	Phone string `mapstructure:"phone"`
}

// EmailConfig contains email notification configuration
type EmailConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Provider        string        `mapstructure:"provider"` // sendgrid, smtp
	SendGridAPIKey  string        `mapstructure:"sendgrid_api_key"`
	SMTPHost        string        `mapstructure:"smtp_host"`
	SMTPPort        int           `mapstructure:"smtp_port"`
	SMTPUsername    string        `mapstructure:"smtp_username"`
	SMTPPassword    string        `mapstructure:"smtp_password"`
	FromAddress     string        `mapstructure:"from_address"`
	FromName        string        `mapstructure:"from_name"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// SMSConfig contains SMS notification configuration
type SMSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	TwilioSID       string        `mapstructure:"twilio_sid"`
	TwilioToken     string        `mapstructure:"twilio_token"`
	FromNumber      string        `mapstructure:"from_number"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// WebhookConfig contains webhook notification configuration
type WebhookConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	URL             string            `mapstructure:"url"`
	Headers         map[string]string `mapstructure:"headers"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	RateLimitPerMin int               `mapstructure:"rate_limit_per_min"`
}

// SchedulerConfig contains background task configuration
type SchedulerConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	SessionSweepSchedule  string `mapstructure:"session_sweep_schedule"`
	RetentionSchedule     string `mapstructure:"retention_schedule"`
	ConsentExpirySchedule string `mapstructure:"consent_expiry_schedule"`
	CacheCleanupSchedule  string `mapstructure:"cache_cleanup_schedule"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/trust-core")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TRUST_CORE")

	// Config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks configuration invariants that defaults cannot guarantee
func (c *Config) Validate() error {
	if c.Session.MaxIdleMinutes <= 0 {
		return fmt.Errorf("session.max_idle_minutes must be positive, got %d", c.Session.MaxIdleMinutes)
	}
	if c.Session.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("session.max_concurrent_sessions must be positive, got %d", c.Session.MaxConcurrentSessions)
	}
	if c.Session.ActivityLogCap <= 0 {
		return fmt.Errorf("session.activity_log_cap must be positive, got %d", c.Session.ActivityLogCap)
	}
	if c.Crisis.CooldownWindow <= 0 {
		return fmt.Errorf("crisis.cooldown_window must be positive, got %s", c.Crisis.CooldownWindow)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8090)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "trust_core")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.audit_topic", "audit-events")

	// Crisis
	viper.SetDefault("crisis.cooldown_window", "1h")
	viper.SetDefault("crisis.history_window", "720h") // 30 days
	viper.SetDefault("crisis.recent_alert_window", "168h")
	viper.SetDefault("crisis.frequent_threshold", 10)
	viper.SetDefault("crisis.escalating_threshold", 5)
	viper.SetDefault("crisis.max_resources", 5)
	viper.SetDefault("crisis.responder_ids", []string{})
	viper.SetDefault("crisis.crisis_team_ids", []string{})

	// Session
	viper.SetDefault("session.max_idle_minutes", 30)
	viper.SetDefault("session.max_concurrent_sessions", 3)
	viper.SetDefault("session.activity_log_cap", 100)
	viper.SetDefault("session.enforce_ip_binding", true)
	viper.SetDefault("session.sweep_interval", "5m")

	// Consent
	viper.SetDefault("consent.required_types", []string{"data_processing", "treatment"})
	viper.SetDefault("consent.default_expiry", "8760h") // 1 year
	viper.SetDefault("consent.retention_batch_size", 100)

	// Audit
	viper.SetDefault("audit.buffer_size", 1000)
	viper.SetDefault("audit.batch_size", 50)
	viper.SetDefault("audit.flush_interval", "5s")

	// Notifications
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.provider", "sendgrid")
	viper.SetDefault("notifications.email.timeout", "30s")
	viper.SetDefault("notifications.email.rate_limit_per_min", 60)

	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.timeout", "30s")
	viper.SetDefault("notifications.sms.rate_limit_per_min", 10)

	viper.SetDefault("notifications.webhook.enabled", false)
	viper.SetDefault("notifications.webhook.timeout", "30s")
	viper.SetDefault("notifications.webhook.rate_limit_per_min", 120)

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.session_sweep_schedule", "0 */5 * * * *")
	viper.SetDefault("scheduler.retention_schedule", "0 0 2 * * *")
	viper.SetDefault("scheduler.consent_expiry_schedule", "0 0 * * * *")
	viper.SetDefault("scheduler.cache_cleanup_schedule", "0 */10 * * * *")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
