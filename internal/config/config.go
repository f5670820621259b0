package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/clicktrail/internal/dnscheck"
)

// MinSecretLength is the minimum length of tracking.secret
const MinSecretLength = 32

// Config represents the main configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Tracking TrackingConfig `yaml:"tracking"`
	API      APIConfig      `yaml:"api"`
	Mail     MailConfig     `yaml:"mail"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	ListenAddr string    `yaml:"listen_addr"`
	TLS        TLSConfig `yaml:"tls"`
	// TrustProxy reads the client IP from X-Forwarded-For/X-Real-IP
	TrustProxy bool `yaml:"trust_proxy"`
}

// TLSConfig contains TLS certificate settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TrackingConfig contains link signing and gateway settings
type TrackingConfig struct {
	BaseURL          string `yaml:"base_url"` // public scheme://host of the gateway
	Secret           string `yaml:"secret"`
	ClickPath        string `yaml:"click_path"`
	UnsubscribePath  string `yaml:"unsubscribe_path"`
	UnsubscribeLabel string `yaml:"unsubscribe_label"`
}

// APIConfig contains owner API credentials
type APIConfig struct {
	Tokens []APIToken `yaml:"tokens"`
}

// APIToken maps a bcrypt token hash to the owner it authenticates
type APIToken struct {
	OwnerID   string `yaml:"owner_id"`
	TokenHash string `yaml:"token_hash"`
}

// MailConfig contains outbound mail settings
type MailConfig struct {
	DefaultFrom string        `yaml:"default_from"`
	Mode        string        `yaml:"mode"` // smtp, sandbox
	SMTP        SMTPConfig    `yaml:"smtp"`
	DKIM        DKIMConfig    `yaml:"dkim"`
	Sandbox     SandboxConfig `yaml:"sandbox"`
}

// SMTPConfig describes the relay used in smtp mode
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	TLS      string        `yaml:"tls"` // none, starttls, tls
	Hello    string        `yaml:"hello"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// SandboxConfig contains capture storage settings
type SandboxConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig contains Prometheus listener settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"`
	Path       string   `yaml:"path"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Mail modes
const (
	ModeSMTP    = "smtp"
	ModeSandbox = "sandbox"
)

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8090"
	}
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/clicktrail/clicktrail.db"
	}

	if c.Tracking.ClickPath == "" {
		c.Tracking.ClickPath = "/t/c"
	}
	if c.Tracking.UnsubscribePath == "" {
		c.Tracking.UnsubscribePath = "/t/u"
	}
	if c.Tracking.UnsubscribeLabel == "" {
		c.Tracking.UnsubscribeLabel = "Unsubscribe"
	}
	c.Tracking.BaseURL = strings.TrimRight(c.Tracking.BaseURL, "/")

	if c.Mail.Mode == "" {
		c.Mail.Mode = ModeSMTP
	}
	if c.Mail.SMTP.Port == 0 {
		c.Mail.SMTP.Port = 587
	}
	if c.Mail.SMTP.TLS == "" {
		c.Mail.SMTP.TLS = "starttls"
	}
	if c.Mail.SMTP.Timeout == 0 {
		c.Mail.SMTP.Timeout = 30 * time.Second
	}
	if c.Mail.Sandbox.Path == "" {
		c.Mail.Sandbox.Path = "/var/lib/clicktrail/sandbox.db"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "127.0.0.1:9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateTracking(); err != nil {
		return err
	}
	if err := c.validateMail(); err != nil {
		return err
	}

	for i, tok := range c.API.Tokens {
		if tok.OwnerID == "" {
			return fmt.Errorf("api.tokens[%d].owner_id is required", i)
		}
		if !strings.HasPrefix(tok.TokenHash, "$2") {
			return fmt.Errorf("api.tokens[%d].token_hash must be a bcrypt hash", i)
		}
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateTracking() error {
	t := c.Tracking
	if t.Secret == "" {
		return fmt.Errorf("tracking.secret is required")
	}
	if len(t.Secret) < MinSecretLength {
		return fmt.Errorf("tracking.secret must be at least %d characters", MinSecretLength)
	}

	u, err := url.Parse(t.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("tracking.base_url must be an absolute http(s) URL")
	}
	if u.Path != "" || u.RawQuery != "" {
		return fmt.Errorf("tracking.base_url must not contain a path or query")
	}

	if !strings.HasPrefix(t.ClickPath, "/") || !strings.HasPrefix(t.UnsubscribePath, "/") {
		return fmt.Errorf("tracking.click_path and tracking.unsubscribe_path must start with /")
	}
	if t.ClickPath == t.UnsubscribePath {
		return fmt.Errorf("tracking.click_path and tracking.unsubscribe_path must differ")
	}
	return nil
}

func (c *Config) validateMail() error {
	m := c.Mail
	switch m.Mode {
	case ModeSMTP:
		if m.SMTP.Host == "" {
			return fmt.Errorf("mail.smtp.host is required in smtp mode")
		}
	case ModeSandbox:
	default:
		return fmt.Errorf("invalid mail.mode: %s (must be smtp or sandbox)", m.Mode)
	}

	switch m.SMTP.TLS {
	case "none", "starttls", "tls":
	default:
		return fmt.Errorf("invalid mail.smtp.tls: %s (must be none, starttls, or tls)", m.SMTP.TLS)
	}
	if m.SMTP.Port < 1 || m.SMTP.Port > 65535 {
		return fmt.Errorf("invalid mail.smtp.port: %d", m.SMTP.Port)
	}

	if m.DKIM.Enabled {
		if m.DKIM.Domain == "" {
			return fmt.Errorf("mail.dkim.domain is required when DKIM is enabled")
		}
		if m.DKIM.Selector == "" {
			return fmt.Errorf("mail.dkim.selector is required when DKIM is enabled")
		}
		if m.DKIM.KeyFile == "" {
			return fmt.Errorf("mail.dkim.key_file is required when DKIM is enabled")
		}
		if err := dnscheck.ValidateDomain(m.DKIM.Domain); err != nil {
			return fmt.Errorf("mail.dkim.domain: %w", err)
		}
		if err := dnscheck.ValidateSelector(m.DKIM.Selector); err != nil {
			return fmt.Errorf("mail.dkim.selector: %w", err)
		}
	}
	return nil
}
