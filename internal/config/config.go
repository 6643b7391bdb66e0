package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Bot          BotConfig          `yaml:"bot"`
	Security     SecurityConfig     `yaml:"security"`
	Log          LogConfig          `yaml:"log"`
	Verification VerificationConfig `yaml:"verification"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// BotConfig contains messaging platform settings
type BotConfig struct {
	Token         string `yaml:"token"`
	Username      string `yaml:"username"`
	APIBaseURL    string `yaml:"api_base_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// SecurityConfig contains secrets for session tokens and identifier encryption
type SecurityConfig struct {
	TokenSecret   string `yaml:"token_secret"`
	EncryptSecret string `yaml:"encrypt_secret"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// VerificationConfig tunes the saga and the notification coalescer
type VerificationConfig struct {
	MinNotifyIntervalSeconds int `yaml:"min_notify_interval_seconds"` // spacing between community prompt swaps
	SendRetrySeconds         int `yaml:"send_retry_seconds"`          // coalescer retry after a failed send
	NotifyRetryLimit         int `yaml:"notify_retry_limit"`          // applicant prompt delivery attempts
	NotifyRetryDelaySeconds  int `yaml:"notify_retry_delay_seconds"`
	ChatCacheTTLSeconds      int `yaml:"chat_cache_ttl_seconds"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	SweepPendingRequests  string `yaml:"sweep_pending_requests"`
	RefreshAdministrators string `yaml:"refresh_administrators"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	cfg.overrideWithEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Bot
	if val := os.Getenv("BOT_TOKEN"); val != "" {
		c.Bot.Token = val
	}
	if val := os.Getenv("BOT_USERNAME"); val != "" {
		c.Bot.Username = val
	}
	if val := os.Getenv("BOT_API_BASE_URL"); val != "" {
		c.Bot.APIBaseURL = val
	}
	if val := os.Getenv("WEBHOOK_SECRET"); val != "" {
		c.Bot.WebhookSecret = val
	}

	// Security
	if val := os.Getenv("TOKEN_SECRET"); val != "" {
		c.Security.TokenSecret = val
	}
	if val := os.Getenv("ENCRYPT_SECRET"); val != "" {
		c.Security.EncryptSecret = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Database validation
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	// Bot validation
	if c.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if c.Bot.Username == "" {
		return fmt.Errorf("bot username is required")
	}
	if c.Bot.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if c.Bot.APIBaseURL == "" {
		c.Bot.APIBaseURL = "https://api.telegram.org"
	}

	// Security validation
	if c.Security.TokenSecret == "" {
		return fmt.Errorf("token secret is required")
	}
	if len(c.Security.TokenSecret) < 32 {
		return fmt.Errorf("token secret must be at least 32 characters")
	}
	if c.Security.EncryptSecret == "" {
		c.Security.EncryptSecret = c.Bot.WebhookSecret
	}

	// Verification defaults
	if c.Verification.MinNotifyIntervalSeconds <= 0 {
		c.Verification.MinNotifyIntervalSeconds = 10
	}
	if c.Verification.SendRetrySeconds <= 0 {
		c.Verification.SendRetrySeconds = 5
	}
	if c.Verification.NotifyRetryLimit <= 0 {
		c.Verification.NotifyRetryLimit = 5
	}
	if c.Verification.NotifyRetryDelaySeconds <= 0 {
		c.Verification.NotifyRetryDelaySeconds = 1
	}
	if c.Verification.ChatCacheTTLSeconds <= 0 {
		c.Verification.ChatCacheTTLSeconds = 86400
	}

	// Scheduler defaults
	if c.Scheduler.SweepPendingRequests == "" {
		c.Scheduler.SweepPendingRequests = "0 */10 * * * *" // every 10 minutes
	}
	if c.Scheduler.RefreshAdministrators == "" {
		c.Scheduler.RefreshAdministrators = "0 0 4 * * *" // 4 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
