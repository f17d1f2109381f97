package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	DatabasePath string `json:"database_path"`
	APIPort      string `json:"api_port"`
	LogLevel     string `json:"log_level"`
	DataDir      string `json:"data_dir"`
	RawMailDir   string `json:"raw_mail_dir"` // raw message store directory (independent of data dir)

	// Webhook dispatch
	WebhookTimeoutSeconds int    `json:"webhook_timeout_seconds"`
	WebhookUserAgent      string `json:"webhook_user_agent"`

	// Outbound mail transport: "ses" or "smtp"
	MailTransport string `json:"mail_transport"`
	SESRegion     string `json:"ses_region"`
	SESAccessKey  string `json:"ses_access_key"`
	SESSecretKey  string `json:"ses_secret_key"`
	SMTPHost      string `json:"smtp_host"`
	SMTPPort      int    `json:"smtp_port"`
	SMTPUsername  string `json:"smtp_username"`
	SMTPPassword  string `json:"smtp_password"`

	// Payment provider for VIP checkout sessions
	PaymentBaseURL string `json:"payment_base_url"`
	PaymentAPIKey  string `json:"payment_api_key"`

	// Forward dispatch
	ForwardBanner      bool   `json:"forward_banner"`       // append the identification banner to forwards
	ForwardFromAddress string `json:"forward_from_address"` // overrides the original recipient as source when set
}

// Default configuration values
const (
	DefaultDatabasePath          = "data/mailroute.db"
	DefaultAPIPort               = "8080"
	DefaultLogLevel              = "INFO"
	DefaultDataDir               = "data"
	DefaultRawMailDir            = "" // empty means DataDir/raw
	DefaultWebhookTimeoutSeconds = 30
	DefaultWebhookUserAgent      = "MailRoute-Webhook/1.0"
	DefaultMailTransport         = "smtp"
	DefaultSMTPPort              = 587
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:          DefaultDatabasePath,
		APIPort:               DefaultAPIPort,
		LogLevel:              DefaultLogLevel,
		DataDir:               DefaultDataDir,
		RawMailDir:            DefaultRawMailDir,
		WebhookTimeoutSeconds: DefaultWebhookTimeoutSeconds,
		WebhookUserAgent:      DefaultWebhookUserAgent,
		MailTransport:         DefaultMailTransport,
		SMTPPort:              DefaultSMTPPort,
		ForwardBanner:         true,
	}

	// Try to load from config file; the file is optional
	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}

	// Override with environment variables
	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromFile loads configuration from config.json file
func (c *Config) loadFromFile() error {
	configPaths := []string{
		"config.json",
		filepath.Join(c.DataDir, "config.json"),
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		if err := json.Unmarshal(data, c); err != nil {
			return err
		}
		return nil
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if val := os.Getenv("MAILROUTE_DATABASE_PATH"); val != "" {
		c.DatabasePath = val
	}
	if val := os.Getenv("MAILROUTE_API_PORT"); val != "" {
		c.APIPort = val
	}
	if val := os.Getenv("MAILROUTE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("MAILROUTE_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("MAILROUTE_RAW_MAIL_DIR"); val != "" {
		c.RawMailDir = val
	}
	if val := os.Getenv("MAILROUTE_WEBHOOK_TIMEOUT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.WebhookTimeoutSeconds = n
		}
	}
	if val := os.Getenv("MAILROUTE_MAIL_TRANSPORT"); val != "" {
		c.MailTransport = val
	}
	if val := os.Getenv("MAILROUTE_SES_REGION"); val != "" {
		c.SESRegion = val
	}
	if val := os.Getenv("MAILROUTE_SES_ACCESS_KEY"); val != "" {
		c.SESAccessKey = val
	}
	if val := os.Getenv("MAILROUTE_SES_SECRET_KEY"); val != "" {
		c.SESSecretKey = val
	}
	if val := os.Getenv("MAILROUTE_SMTP_HOST"); val != "" {
		c.SMTPHost = val
	}
	if val := os.Getenv("MAILROUTE_SMTP_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.SMTPPort = n
		}
	}
	if val := os.Getenv("MAILROUTE_SMTP_USERNAME"); val != "" {
		c.SMTPUsername = val
	}
	if val := os.Getenv("MAILROUTE_SMTP_PASSWORD"); val != "" {
		c.SMTPPassword = val
	}
	if val := os.Getenv("MAILROUTE_PAYMENT_BASE_URL"); val != "" {
		c.PaymentBaseURL = val
	}
	if val := os.Getenv("MAILROUTE_PAYMENT_API_KEY"); val != "" {
		c.PaymentAPIKey = val
	}
	if val := os.Getenv("MAILROUTE_FORWARD_FROM"); val != "" {
		c.ForwardFromAddress = val
	}
}

// GetRawMailBaseDir returns the base directory for raw message storage
// If RawMailDir is set, use it; otherwise use DataDir/raw
func (c *Config) GetRawMailBaseDir() string {
	if c.RawMailDir != "" {
		return c.RawMailDir
	}
	return filepath.Join(c.DataDir, "raw")
}

// Save saves the current configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
