package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Security     SecurityConfig     `mapstructure:"security"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	WebSocket    WebSocketConfig    `mapstructure:"websocket"`
	Engine       EngineConfig       `mapstructure:"engine"`
	MetricSource MetricSourceConfig `mapstructure:"metric_source"`
	Channels     ChannelsConfig     `mapstructure:"channels"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Seed         SeedConfig         `mapstructure:"seed"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig only carries CORS settings; the API has no auth layer.
type SecurityConfig struct {
	EnableCORS     bool     `mapstructure:"enable_cors"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Prefix  string `mapstructure:"prefix"`
}

type WebSocketConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	PingInterval    int  `mapstructure:"ping_interval"`
	PongTimeout     int  `mapstructure:"pong_timeout"`
	WriteTimeout    int  `mapstructure:"write_timeout"`
	ReadBufferSize  int  `mapstructure:"read_buffer_size"`
	WriteBufferSize int  `mapstructure:"write_buffer_size"`
	SendQueueSize   int  `mapstructure:"send_queue_size"`
}

type EngineConfig struct {
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

type SchedulerConfig struct {
	MaxWorkers                int    `mapstructure:"max_workers"`
	MaxConcurrentPerWorkspace int    `mapstructure:"max_concurrent_per_workspace"`
	DegradedAfterFailures     int    `mapstructure:"degraded_after_failures"`
	RuleRefreshInterval       string `mapstructure:"rule_refresh_interval"`
	LookbackSlack             string `mapstructure:"lookback_slack"`
	EvaluationTimeout         string `mapstructure:"evaluation_timeout"`
	LeaseBackend              string `mapstructure:"lease_backend"` // local or redis
	LeaseTTL                  string `mapstructure:"lease_ttl"`
}

type LifecycleConfig struct {
	AutoResolveClearEvaluations int `mapstructure:"auto_resolve_clear_evaluations"`
	CASRetries                  int `mapstructure:"cas_retries"`
}

type EscalationConfig struct {
	SweepSchedule string `mapstructure:"sweep_schedule"`
	ClaimTTL      string `mapstructure:"claim_ttl"`
	BatchSize     int    `mapstructure:"batch_size"`
	MaxParallel   int    `mapstructure:"max_parallel"`
}

type DispatcherConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	BackoffSeconds float64 `mapstructure:"backoff_seconds"`
	BackoffFactor  float64 `mapstructure:"backoff_factor"`
	MaxBackoff     string  `mapstructure:"max_backoff"`
	SendTimeout    string  `mapstructure:"send_timeout"`
}

type RetentionConfig struct {
	Schedule     string `mapstructure:"schedule"`
	TimerMaxAge  string `mapstructure:"timer_max_age"`
	SampleMaxAge string `mapstructure:"sample_max_age"`
}

type MetricSourceConfig struct {
	Type       string                 `mapstructure:"type"` // prometheus or store
	Prometheus PrometheusSourceConfig `mapstructure:"prometheus"`
}

type PrometheusSourceConfig struct {
	URL             string `mapstructure:"url"`
	Timeout         string `mapstructure:"timeout"`
	Step            string `mapstructure:"step"`
	WorkspaceLabel  string `mapstructure:"workspace_label"`
	BreakerFailures int    `mapstructure:"breaker_failures"`
	BreakerReset    string `mapstructure:"breaker_reset"`
}

type ChannelsConfig struct {
	Email   EmailChannelConfig   `mapstructure:"email"`
	Slack   SlackChannelConfig   `mapstructure:"slack"`
	Webhook WebhookChannelConfig `mapstructure:"webhook"`
	SMS     SMSChannelConfig     `mapstructure:"sms"`
	Pager   PagerChannelConfig   `mapstructure:"pager"`
}

type EmailChannelConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type SlackChannelConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
}

type WebhookChannelConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Headers map[string]string `mapstructure:"headers"`
}

type SMSChannelConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

type PagerChannelConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type SeedConfig struct {
	File     string `mapstructure:"file"`
	Watch    bool   `mapstructure:"watch"`
	Debounce string `mapstructure:"debounce"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/pma-alert-engine")

	setDefaults()

	viper.SetEnvPrefix("ALERT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Override specific values from env
	viper.BindEnv("server.port", "ALERT_PORT", "PORT")
	viper.BindEnv("database.path", "ALERT_DATABASE_PATH")
	viper.BindEnv("logging.level", "ALERT_LOG_LEVEL", "LOG_LEVEL")
	viper.BindEnv("metric_source.prometheus.url", "ALERT_PROMETHEUS_URL")
	viper.BindEnv("redis.addr", "ALERT_REDIS_ADDR")
	viper.BindEnv("redis.password", "ALERT_REDIS_PASSWORD")
	viper.BindEnv("channels.email.password", "ALERT_SMTP_PASSWORD")
	viper.BindEnv("channels.slack.webhook_url", "ALERT_SLACK_WEBHOOK_URL")
	viper.BindEnv("channels.sms.auth_token", "ALERT_SMS_AUTH_TOKEN")
	viper.BindEnv("seed.file", "ALERT_SEED_FILE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate collects every problem in the configuration.
func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}
	if c.Server.Host == "" {
		errors = append(errors, "server.host is required")
	}
	if c.Database.Path == "" {
		errors = append(errors, "database.path is required")
	}

	s := c.Engine.Scheduler
	if s.MaxWorkers <= 0 {
		errors = append(errors, "engine.scheduler.max_workers must be positive")
	}
	if s.MaxConcurrentPerWorkspace <= 0 {
		errors = append(errors, "engine.scheduler.max_concurrent_per_workspace must be positive")
	}
	if s.DegradedAfterFailures <= 0 {
		errors = append(errors, "engine.scheduler.degraded_after_failures must be positive")
	}
	if s.LeaseBackend != "local" && s.LeaseBackend != "redis" {
		errors = append(errors, "engine.scheduler.lease_backend must be local or redis")
	}
	if s.LeaseBackend == "redis" && c.Redis.Addr == "" {
		errors = append(errors, "redis.addr is required when the redis lease backend is used")
	}

	if c.Engine.Lifecycle.AutoResolveClearEvaluations < 1 {
		errors = append(errors, "engine.lifecycle.auto_resolve_clear_evaluations must be at least 1")
	}
	if c.Engine.Dispatcher.MaxAttempts < 1 {
		errors = append(errors, "engine.dispatcher.max_attempts must be at least 1")
	}
	if c.Engine.Dispatcher.BackoffSeconds < 0 {
		errors = append(errors, "engine.dispatcher.backoff_seconds must be non-negative")
	}
	if c.Engine.Escalation.BatchSize <= 0 {
		errors = append(errors, "engine.escalation.batch_size must be positive")
	}

	durations := map[string]string{
		"engine.scheduler.rule_refresh_interval": s.RuleRefreshInterval,
		"engine.scheduler.lookback_slack":        s.LookbackSlack,
		"engine.scheduler.evaluation_timeout":    s.EvaluationTimeout,
		"engine.scheduler.lease_ttl":             s.LeaseTTL,
		"engine.escalation.claim_ttl":            c.Engine.Escalation.ClaimTTL,
		"engine.dispatcher.max_backoff":          c.Engine.Dispatcher.MaxBackoff,
		"engine.dispatcher.send_timeout":         c.Engine.Dispatcher.SendTimeout,
		"engine.retention.timer_max_age":         c.Engine.Retention.TimerMaxAge,
		"engine.retention.sample_max_age":        c.Engine.Retention.SampleMaxAge,
		"metric_source.prometheus.timeout":       c.MetricSource.Prometheus.Timeout,
		"metric_source.prometheus.step":          c.MetricSource.Prometheus.Step,
		"metric_source.prometheus.breaker_reset": c.MetricSource.Prometheus.BreakerReset,
		"seed.debounce":                          c.Seed.Debounce,
	}
	for _, key := range sortedKeys(durations) {
		if _, err := time.ParseDuration(durations[key]); err != nil {
			errors = append(errors, fmt.Sprintf("%s must be a duration: %v", key, err))
		}
	}

	switch c.MetricSource.Type {
	case "store":
	case "prometheus":
		if c.MetricSource.Prometheus.URL == "" {
			errors = append(errors, "metric_source.prometheus.url is required for the prometheus source")
		}
	default:
		errors = append(errors, "metric_source.type must be prometheus or store")
	}

	if c.Channels.Email.Enabled && (c.Channels.Email.Host == "" || c.Channels.Email.From == "") {
		errors = append(errors, "channels.email.host and channels.email.from are required when email is enabled")
	}
	if c.Channels.SMS.Enabled && (c.Channels.SMS.BaseURL == "" || c.Channels.SMS.AccountSID == "") {
		errors = append(errors, "channels.sms.base_url and channels.sms.account_sid are required when sms is enabled")
	}
	if c.Channels.Pager.Enabled && c.Channels.Pager.URL == "" {
		errors = append(errors, "channels.pager.url is required when pager is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Duration parses a validated duration string, falling back to def when
// it is empty or malformed.
func Duration(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 3020)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.path", "./data/alert-engine.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 8)
	viper.SetDefault("database.auto_migrate", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("security.enable_cors", true)
	viper.SetDefault("security.allowed_origins", []string{"*"})

	viper.SetDefault("monitoring.prometheus.enabled", true)
	viper.SetDefault("monitoring.prometheus.path", "/metrics")
	viper.SetDefault("monitoring.prometheus.prefix", "alert_engine")

	// WebSocket defaults
	viper.SetDefault("websocket.enabled", true)
	viper.SetDefault("websocket.ping_interval", 30)
	viper.SetDefault("websocket.pong_timeout", 60)
	viper.SetDefault("websocket.write_timeout", 10)
	viper.SetDefault("websocket.read_buffer_size", 1024)
	viper.SetDefault("websocket.write_buffer_size", 1024)
	viper.SetDefault("websocket.send_queue_size", 256)

	// Engine defaults
	viper.SetDefault("engine.scheduler.max_workers", 16)
	viper.SetDefault("engine.scheduler.max_concurrent_per_workspace", 4)
	viper.SetDefault("engine.scheduler.degraded_after_failures", 5)
	viper.SetDefault("engine.scheduler.rule_refresh_interval", "30s")
	viper.SetDefault("engine.scheduler.lookback_slack", "1m")
	viper.SetDefault("engine.scheduler.evaluation_timeout", "30s")
	viper.SetDefault("engine.scheduler.lease_backend", "local")
	viper.SetDefault("engine.scheduler.lease_ttl", "2m")

	viper.SetDefault("engine.lifecycle.auto_resolve_clear_evaluations", 2)
	viper.SetDefault("engine.lifecycle.cas_retries", 3)

	viper.SetDefault("engine.escalation.sweep_schedule", "@every 15s")
	viper.SetDefault("engine.escalation.claim_ttl", "5m")
	viper.SetDefault("engine.escalation.batch_size", 100)
	viper.SetDefault("engine.escalation.max_parallel", 8)

	viper.SetDefault("engine.dispatcher.max_attempts", 3)
	viper.SetDefault("engine.dispatcher.backoff_seconds", 5.0)
	viper.SetDefault("engine.dispatcher.backoff_factor", 2.0)
	viper.SetDefault("engine.dispatcher.max_backoff", "5m")
	viper.SetDefault("engine.dispatcher.send_timeout", "10s")

	viper.SetDefault("engine.retention.schedule", "@daily")
	viper.SetDefault("engine.retention.timer_max_age", "720h")
	viper.SetDefault("engine.retention.sample_max_age", "168h")

	// Metric source defaults
	viper.SetDefault("metric_source.type", "store")
	viper.SetDefault("metric_source.prometheus.url", "")
	viper.SetDefault("metric_source.prometheus.timeout", "10s")
	viper.SetDefault("metric_source.prometheus.step", "15s")
	viper.SetDefault("metric_source.prometheus.workspace_label", "workspace")
	viper.SetDefault("metric_source.prometheus.breaker_failures", 5)
	viper.SetDefault("metric_source.prometheus.breaker_reset", "30s")

	// Channel defaults
	viper.SetDefault("channels.email.enabled", false)
	viper.SetDefault("channels.email.port", 587)
	viper.SetDefault("channels.slack.enabled", false)
	viper.SetDefault("channels.slack.username", "alert-engine")
	viper.SetDefault("channels.webhook.enabled", true)
	viper.SetDefault("channels.sms.enabled", false)
	viper.SetDefault("channels.pager.enabled", false)
	viper.SetDefault("channels.pager.url", "https://events.pagerduty.com/v2/enqueue")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "alert-engine")

	viper.SetDefault("seed.file", "")
	viper.SetDefault("seed.watch", false)
	viper.SetDefault("seed.debounce", "500ms")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
