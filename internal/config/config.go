package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. It is read once at
// startup and never reloaded.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Mail     MailConfig     `yaml:"mail"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL runs the
// services against in-memory repositories.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	AutoMigrate            bool   `yaml:"auto_migrate"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the session/lock backend. Empty URL disables Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MailConfig selects and configures the outbound transport.
type MailConfig struct {
	Transport     string     `yaml:"transport"` // smtp, ses or log
	DefaultSender string     `yaml:"default_sender"`
	SenderName    string     `yaml:"sender_name"`
	SubjectPrefix string     `yaml:"subject_prefix"`
	SMTP          SMTPConfig `yaml:"smtp"`
	SES           SESConfig  `yaml:"ses"`
}

// SMTPConfig holds relay settings for the SMTP transport.
type SMTPConfig struct {
	Server        string `yaml:"server"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	UseTLS        bool   `yaml:"use_tls"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// DeliveryConfig tunes the outbox delivery worker.
type DeliveryConfig struct {
	PollIntervalSeconds     int  `yaml:"poll_interval_seconds"`
	ErrorBackoffSeconds     int  `yaml:"error_backoff_seconds"`
	BatchSize               int  `yaml:"batch_size"`
	SendTimeoutSeconds      int  `yaml:"send_timeout_seconds"`
	MaxAttempts             int  `yaml:"max_attempts"`
	StaleAfterMinutes       int  `yaml:"stale_after_minutes"`
	RecoveryIntervalMinutes int  `yaml:"recovery_interval_minutes"`
	RecoveryMaxAttempts     int  `yaml:"recovery_max_attempts"`
	UseLock                 bool `yaml:"use_lock"`
	LockTTLSeconds          int  `yaml:"lock_ttl_seconds"`
}

// PollInterval returns the pause between delivery cycles.
func (c DeliveryConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ErrorBackoff returns the extra pause after a failed poll.
func (c DeliveryConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffSeconds) * time.Second
}

// SendTimeout bounds a single transport call.
func (c DeliveryConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// StaleAfter is how long a claim may sit in "sending" before recovery.
func (c DeliveryConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// RecoveryInterval is how often stale claims are scanned.
func (c DeliveryConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalMinutes) * time.Minute
}

// LockTTL bounds how long a crashed holder blocks other workers.
func (c DeliveryConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// AuthConfig holds magic-link and session settings.
type AuthConfig struct {
	BaseURL             string `yaml:"base_url"`
	LoginTTLMinutes     int    `yaml:"login_ttl_minutes"`
	BroadcastTTLHours   int    `yaml:"broadcast_ttl_hours"`
	SessionTTLHours     int    `yaml:"session_ttl_hours"`
	CookieName          string `yaml:"cookie_name"`
	CookieSecure        bool   `yaml:"cookie_secure"`
	TokenCleanupMinutes int    `yaml:"token_cleanup_minutes"`
}

// LoginTTL is the lifetime of an interactive login link.
func (c AuthConfig) LoginTTL() time.Duration {
	return time.Duration(c.LoginTTLMinutes) * time.Minute
}

// BroadcastTTL is the lifetime of links embedded in broadcasts.
func (c AuthConfig) BroadcastTTL() time.Duration {
	return time.Duration(c.BroadcastTTLHours) * time.Hour
}

// SessionTTL is how long an established session stays valid.
func (c AuthConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// TokenCleanupInterval is how often expired login tokens are purged.
func (c AuthConfig) TokenCleanupInterval() time.Duration {
	return time.Duration(c.TokenCleanupMinutes) * time.Minute
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Mail.Transport == "" {
		cfg.Mail.Transport = "log"
	}
	if cfg.Mail.SubjectPrefix == "" {
		cfg.Mail.SubjectPrefix = "[MECWS]"
	}
	if cfg.Mail.SMTP.Port == 0 {
		cfg.Mail.SMTP.Port = 587
	}
	if cfg.Mail.SES.Region == "" {
		cfg.Mail.SES.Region = "us-east-1"
	}
	if cfg.Delivery.PollIntervalSeconds == 0 {
		cfg.Delivery.PollIntervalSeconds = 15
	}
	if cfg.Delivery.ErrorBackoffSeconds == 0 {
		cfg.Delivery.ErrorBackoffSeconds = 5
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 50
	}
	if cfg.Delivery.SendTimeoutSeconds == 0 {
		cfg.Delivery.SendTimeoutSeconds = 30
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = 1
	}
	if cfg.Delivery.StaleAfterMinutes == 0 {
		cfg.Delivery.StaleAfterMinutes = 10
	}
	if cfg.Delivery.RecoveryIntervalMinutes == 0 {
		cfg.Delivery.RecoveryIntervalMinutes = 2
	}
	if cfg.Delivery.RecoveryMaxAttempts == 0 {
		cfg.Delivery.RecoveryMaxAttempts = 3
	}
	if cfg.Delivery.LockTTLSeconds == 0 {
		cfg.Delivery.LockTTLSeconds = 300
	}
	if cfg.Auth.BaseURL == "" {
		cfg.Auth.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Auth.LoginTTLMinutes == 0 {
		cfg.Auth.LoginTTLMinutes = 30
	}
	if cfg.Auth.BroadcastTTLHours == 0 {
		cfg.Auth.BroadcastTTLHours = 48
	}
	if cfg.Auth.SessionTTLHours == 0 {
		cfg.Auth.SessionTTLHours = 24 * 14
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "mecws_session"
	}
	if cfg.Auth.TokenCleanupMinutes == 0 {
		cfg.Auth.TokenCleanupMinutes = 60
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars. A missing
// config file is not an error: defaults plus environment are enough to run.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Auth.BaseURL = v
	}
	if v := os.Getenv("MAIL_TRANSPORT"); v != "" {
		cfg.Mail.Transport = v
	}
	if v := os.Getenv("MAIL_DEFAULT_SENDER"); v != "" {
		cfg.Mail.DefaultSender = v
	}
	if v := os.Getenv("MAIL_SERVER"); v != "" {
		cfg.Mail.SMTP.Server = v
		if os.Getenv("MAIL_TRANSPORT") == "" {
			cfg.Mail.Transport = "smtp"
		}
	}
	if v := os.Getenv("MAIL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MAIL_PORT: %w", err)
		}
		cfg.Mail.SMTP.Port = port
	}
	// Presence alone enables TLS, matching how the relay was configured
	// in existing deployments.
	if _, ok := os.LookupEnv("MAIL_USE_TLS"); ok {
		cfg.Mail.SMTP.UseTLS = true
	}
	if v := os.Getenv("MAIL_USERNAME"); v != "" {
		cfg.Mail.SMTP.Username = v
	}
	if v := os.Getenv("MAIL_PASSWORD"); v != "" {
		cfg.Mail.SMTP.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mail.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mail.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mail.SES.Region = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}

	return cfg, cfg.Validate()
}

// Validate reports settings that would make the worker misbehave.
func (cfg *Config) Validate() error {
	var problems []string
	switch cfg.Mail.Transport {
	case "smtp":
		if cfg.Mail.SMTP.Server == "" {
			problems = append(problems, "mail.smtp.server is required for the smtp transport")
		}
	case "ses", "log":
	default:
		problems = append(problems, fmt.Sprintf("unknown mail.transport %q", cfg.Mail.Transport))
	}
	if cfg.Mail.Transport != "log" && cfg.Mail.DefaultSender == "" {
		problems = append(problems, "mail.default_sender is required")
	}
	if cfg.Delivery.BatchSize < 1 {
		problems = append(problems, "delivery.batch_size must be positive")
	}
	if cfg.Delivery.MaxAttempts < 1 {
		problems = append(problems, "delivery.max_attempts must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
