// Package config provides configuration management for the hostbot server.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the complete application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Panel        PanelConfig        `mapstructure:"panel"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Admin        AdminConfig        `mapstructure:"admin"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Reconciler   ReconcilerConfig   `mapstructure:"reconciler"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Backup       BackupConfig       `mapstructure:"backup"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIToken is the bearer token required on /v1 routes.
	APIToken string `mapstructure:"api_token"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection settings.
// Supports both SQLite and PostgreSQL backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	CacheSize       int    `mapstructure:"cache_size"`       // Page cache size (negative = KB)
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF

	// AutoMigrate applies pending migrations at server startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using an embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == DriverSQLite
}

// RedisConfig holds Redis connection settings.
// When disabled, locks and rate limits are kept in process memory.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PanelConfig holds hosting panel API settings.
type PanelConfig struct {
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	ClientAPIKey string        `mapstructure:"client_api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	NestID       int64         `mapstructure:"nest_id"`
	EggID        int64         `mapstructure:"egg_id"`
	NodeID       int64         `mapstructure:"node_id"`
}

// Configured reports whether the panel client can be built.
func (c PanelConfig) Configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// TelegramConfig holds chat platform settings used for subscription checks.
type TelegramConfig struct {
	APIURL   string `mapstructure:"api_url"`
	BotToken string `mapstructure:"bot_token"`

	// Channel is the handle users must subscribe to.
	Channel string `mapstructure:"channel"`

	// MinSubscription is the minimum subscription age.
	MinSubscription time.Duration `mapstructure:"min_subscription"`

	// RequireSubscription turns the subscription check on.
	RequireSubscription bool `mapstructure:"require_subscription"`

	// CacheTTL is how long a passed check is remembered; 0 disables caching.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// ProvisioningConfig holds provisioning workflow settings.
type ProvisioningConfig struct {
	// MaxAttempts bounds credential generation retries.
	MaxAttempts int `mapstructure:"max_attempts"`

	// EmailDomain is the mailbox domain of generated panel emails.
	EmailDomain string `mapstructure:"email_domain"`

	// LockTTL is the lease of a user's provisioning lock. Running provisions renew it.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// AdminConfig holds the admin allow-list.
type AdminConfig struct {
	// IDs is a comma-separated list of admin chat ids.
	IDs string `mapstructure:"ids"`
}

// ParseIDs returns the admin ids. Blank entries are skipped.
func (c AdminConfig) ParseIDs() ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(c.IDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RateLimitConfig holds anti-spam settings.
type RateLimitConfig struct {
	// Enabled determines if rate limiting is active.
	Enabled bool `mapstructure:"enabled"`

	// Requests is the number of requests allowed per window and user.
	Requests int `mapstructure:"requests"`

	// Window is the sliding window length.
	Window time.Duration `mapstructure:"window"`

	// MaxKeys bounds the users tracked by the in-memory limiter.
	MaxKeys int `mapstructure:"max_keys"`
}

// ReconcilerConfig holds settings of the background reconciliation job.
type ReconcilerConfig struct {
	// Enabled determines if reconciliation runs automatically.
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to reconcile.
	Interval time.Duration `mapstructure:"interval"`

	// DeleteOrphans removes remote servers without a local record.
	DeleteOrphans bool `mapstructure:"delete_orphans"`

	// DryRun logs what would change without changing anything.
	DryRun bool `mapstructure:"dry_run"`

	// GracePeriod is the minimum age of a panel server before it can be
	// treated as an orphan. It must exceed the longest provisioning run.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// BackupConfig holds S3 snapshot export settings.
type BackupConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with HOSTBOT_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HOSTBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hostbot")
	}

	// Config file is optional; environment variables can be used instead.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second) // provisioning is slow
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.api_token", "")

	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "hostbot")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "hostbot")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.path", "./data/hostbot.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.key_prefix", "hostbot")

	// Panel defaults
	v.SetDefault("panel.url", "")
	v.SetDefault("panel.api_key", "")
	v.SetDefault("panel.client_api_key", "")
	v.SetDefault("panel.timeout", 30*time.Second)
	v.SetDefault("panel.nest_id", 1)
	v.SetDefault("panel.egg_id", 3)
	v.SetDefault("panel.node_id", 1)

	// Telegram defaults
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.channel", "")
	v.SetDefault("telegram.min_subscription", 10*time.Minute)
	v.SetDefault("telegram.require_subscription", true)
	v.SetDefault("telegram.cache_ttl", 2*time.Minute)
	v.SetDefault("telegram.timeout", 10*time.Second)

	// Provisioning defaults
	v.SetDefault("provisioning.max_attempts", 3)
	v.SetDefault("provisioning.email_domain", "cloudspb.ru")
	v.SetDefault("provisioning.lock_ttl", 5*time.Minute)

	// Admin defaults
	v.SetDefault("admin.ids", "")

	// Rate limiting defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 5)
	v.SetDefault("rate_limit.window", 5*time.Second)
	v.SetDefault("rate_limit.max_keys", 100000)

	// Reconciler defaults
	v.SetDefault("reconciler.enabled", false)
	v.SetDefault("reconciler.interval", 1*time.Hour)
	v.SetDefault("reconciler.delete_orphans", false)
	v.SetDefault("reconciler.dry_run", true)
	v.SetDefault("reconciler.grace_period", 30*time.Minute)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Backup defaults
	v.SetDefault("backup.region", "us-east-1")
	v.SetDefault("backup.prefix", "hostbot")
	v.SetDefault("backup.use_path_style", true)
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite'")
	}

	if c.Provisioning.MaxAttempts < 1 {
		return fmt.Errorf("provisioning.max_attempts must be at least 1")
	}
	if c.Provisioning.EmailDomain == "" {
		return fmt.Errorf("provisioning.email_domain is required")
	}

	if (c.Panel.URL == "") != (c.Panel.APIKey == "") {
		return fmt.Errorf("panel.url and panel.api_key must be set together")
	}

	if c.Telegram.RequireSubscription {
		if c.Telegram.BotToken == "" || c.Telegram.Channel == "" {
			return fmt.Errorf("telegram.bot_token and telegram.channel are required when telegram.require_subscription is set")
		}
	}

	if _, err := c.Admin.ParseIDs(); err != nil {
		return fmt.Errorf("admin.ids: %w", err)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Requests < 1 {
			return fmt.Errorf("rate_limit.requests must be at least 1")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
	}

	if c.Reconciler.Enabled && c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler.interval must be positive")
	}
	if c.Reconciler.GracePeriod < 0 {
		return fmt.Errorf("reconciler.grace_period must not be negative")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
