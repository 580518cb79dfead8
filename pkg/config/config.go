package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"
)

const (
	DefaultConfigPath = "./config.yaml"

	DefaultDispatchInterval  = 5 * time.Minute
	DefaultDispatchBatchSize = 10

	DefaultListenAddress = ":8080"
	DefaultSenderName    = "Your App Name"
	DefaultSMTPPort      = 587
)

// Supported store drivers.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"`
	// AllowedOrigins enables CORS for the listed front end origins.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Frontend struct {
	// BaseURL is used to build the links embedded in verification and reset mails.
	BaseURL      string `yaml:"baseURL"`
	BrandingName string `yaml:"brandingName"`
	// StaticDir, when set, is served as the single page application root.
	StaticDir string `yaml:"staticDir"`
}

// SMTP configures the delivery transport. Credentials are normally supplied
// through the environment (see ApplyEnv) rather than the config file.
type SMTP struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Secure             bool   `yaml:"secure"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	SenderAddress      string `yaml:"senderAddress"`
	SenderName         string `yaml:"senderName"`
	// RetryCount is the number of immediate resend attempts within one send call.
	// Zero leaves retries to the next dispatch cycle.
	RetryCount     int `yaml:"retryCount"`
	RetryBackoffMs int `yaml:"retryBackoffMs"`
}

type Dispatch struct {
	// Interval is the schedule cadence, e.g. "5m".
	Interval string `yaml:"interval"`
	// BatchSize caps the number of unsent records picked up per cycle.
	BatchSize int `yaml:"batchSize"`
	// Concurrency > 1 fans out sends within one cycle.
	Concurrency int  `yaml:"concurrency"`
	Disabled    bool `yaml:"disabled"`
}

type Store struct {
	Driver          string `yaml:"driver"`
	DatabaseURL     string `yaml:"databaseURL"`
	MaxConns        int32  `yaml:"maxConns"`
	MinConns        int32  `yaml:"minConns"`
	MaxConnLifetime string `yaml:"maxConnLifetime"`
}

type Auth struct {
	TokenSecret       string `yaml:"tokenSecret"`
	Issuer            string `yaml:"issuer"`
	SessionTTL        string `yaml:"sessionTTL"`
	VerificationTTL   string `yaml:"verificationTTL"`
	PasswordResetTTL  string `yaml:"passwordResetTTL"`
	GoogleClientID    string `yaml:"googleClientID"`
	GoogleIssuer      string `yaml:"googleIssuer"`
	MinPasswordLength int    `yaml:"minPasswordLength"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Audit struct {
	Enabled bool   `yaml:"enabled"`
	Kafka   *Kafka `yaml:"kafka"`
}

type RateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Telemetry configures OpenTelemetry tracing of dispatch cycles.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is one of otlp, stdout or none.
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Frontend  Frontend  `yaml:"frontend"`
	SMTP      SMTP      `yaml:"smtp"`
	Dispatch  Dispatch  `yaml:"dispatch"`
	Store     Store     `yaml:"store"`
	Auth      Auth      `yaml:"auth"`
	Audit     Audit     `yaml:"audit"`
	RateLimit RateLimit `yaml:"rateLimit"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Load loads the configuration from a file path.
// If configPath is empty, defaults to "./config.yaml". A missing default file is
// not an error: the service can run from environment variables alone.
func Load(configPath ...string) (Config, error) {
	var config Config

	path := DefaultConfigPath
	explicit := false
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
		explicit = true
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return config, nil
		}
		return config, fmt.Errorf("trying to open config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	return config, nil
}

// LoadDotEnv loads .env files into the process environment when present.
// Existing variables are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// ApplyEnv overrides values with the environment. SMTP credentials, the
// database URL and the token secret are expected to arrive this way.
func (c *Config) ApplyEnv() {
	c.SMTP.Host = getEnvString("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.User = getEnvString("SMTP_USER", c.SMTP.User)
	c.SMTP.Password = getEnvString("SMTP_PASS", c.SMTP.Password)
	c.SMTP.Secure = getEnvBool("SMTP_SECURE", c.SMTP.Secure)
	c.SMTP.SenderAddress = getEnvString("SMTP_SENDER_ADDRESS", c.SMTP.SenderAddress)
	c.SMTP.SenderName = getEnvString("SMTP_SENDER_NAME", c.SMTP.SenderName)

	c.Store.DatabaseURL = getEnvString("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.Driver = getEnvString("ACCOUNTDESK_STORE_DRIVER", c.Store.Driver)

	c.Auth.TokenSecret = getEnvString("ACCOUNTDESK_TOKEN_SECRET", c.Auth.TokenSecret)
	c.Auth.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", c.Auth.GoogleClientID)

	c.Dispatch.Interval = getEnvString("DISPATCH_INTERVAL", c.Dispatch.Interval)
	c.Dispatch.BatchSize = getEnvInt("DISPATCH_BATCH_SIZE", c.Dispatch.BatchSize)

	c.Frontend.BaseURL = getEnvString("FRONTEND_BASE_URL", c.Frontend.BaseURL)

	c.Telemetry.Enabled = getEnvBool("OTEL_TRACING_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.Endpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
}

// Defaults fills in every value left empty.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if c.Frontend.BaseURL == "" {
		c.Frontend.BaseURL = "http://localhost:8080"
	}
	if c.Frontend.BrandingName == "" {
		c.Frontend.BrandingName = DefaultSenderName
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = DefaultSMTPPort
	}
	if c.SMTP.SenderAddress == "" {
		c.SMTP.SenderAddress = c.SMTP.User
	}
	if c.SMTP.SenderName == "" {
		c.SMTP.SenderName = c.Frontend.BrandingName
	}
	if c.Dispatch.Interval == "" {
		c.Dispatch.Interval = DefaultDispatchInterval.String()
	}
	if c.Dispatch.BatchSize <= 0 {
		c.Dispatch.BatchSize = DefaultDispatchBatchSize
	}
	if c.Dispatch.Concurrency <= 0 {
		c.Dispatch.Concurrency = 1
	}
	if c.Store.Driver == "" {
		if c.Store.DatabaseURL != "" {
			c.Store.Driver = StoreDriverPostgres
		} else {
			c.Store.Driver = StoreDriverMemory
		}
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "accountdesk"
	}
	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = "24h"
	}
	if c.Auth.VerificationTTL == "" {
		c.Auth.VerificationTTL = "48h"
	}
	if c.Auth.PasswordResetTTL == "" {
		c.Auth.PasswordResetTTL = "1h"
	}
	if c.Auth.GoogleIssuer == "" {
		c.Auth.GoogleIssuer = "https://accounts.google.com"
	}
	if c.Auth.MinPasswordLength <= 0 {
		c.Auth.MinPasswordLength = 6
	}
	if c.RateLimit.Rate <= 0 {
		c.RateLimit.Rate = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "otlp"
	}
	if c.Telemetry.SamplingRate == 0 {
		c.Telemetry.SamplingRate = 1.0
	}
}

// Validate reports configuration that cannot work at runtime.
func (c Config) Validate() error {
	if !slices.Contains([]string{StoreDriverMemory, StoreDriverPostgres}, c.Store.Driver) {
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == StoreDriverPostgres && c.Store.DatabaseURL == "" {
		return fmt.Errorf("store driver %q requires a database URL", c.Store.Driver)
	}
	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch batch size must be positive, got %d", c.Dispatch.BatchSize)
	}
	if _, err := c.DispatchInterval(); err != nil {
		return err
	}
	if c.Audit.Kafka != nil && len(c.Audit.Kafka.Brokers) > 0 && c.Audit.Kafka.Topic == "" {
		return fmt.Errorf("audit kafka sink requires a topic")
	}
	if c.Telemetry.Enabled && !slices.Contains([]string{"otlp", "stdout", "none"}, c.Telemetry.Exporter) {
		return fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter)
	}
	return nil
}

// DispatchInterval parses the configured dispatch cadence.
func (c Config) DispatchInterval() (time.Duration, error) {
	return ParseDuration("dispatch.interval", c.Dispatch.Interval, DefaultDispatchInterval)
}

// ParseDuration returns def for an empty value and an error for an unparsable one.
func ParseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
		if d <= 0 {
			return duration, fmt.Errorf("invalid %s %q; must be positive", name, value)
		}
		duration = d
	}
	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
