// Package config loads the processor's immutable configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Secrets backends
const (
	SecretsEnv   = "env"
	SecretsLocal = "local"
	SecretsAWS   = "aws"
	SecretsVault = "vault"
	SecretsGCP   = "gcp"
)

// Config holds all application configuration
type Config struct {
	Environment string
	// CronSecret authenticates the /cron endpoints
	CronSecret string

	Server      ServerConfig
	Database    DatabaseConfig
	Logger      LoggerConfig
	EPay        EPayConfig
	TwoCheckout TwoCheckoutConfig
	Gateway     GatewayConfig
	Capture     CaptureConfig
	Checkout    CheckoutConfig
	Secrets     SecretsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	MetricsPort     int
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	// Storage selects postgres or the in-process memory adapters
	Storage  string
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// EPayConfig holds the ePay merchant settings
type EPayConfig struct {
	Enabled        bool
	MerchantNumber string
	APIPassword    string
	Currency       string
	APIURL         string
	WindowURL      string
	AcceptURL      string
	CancelURL      string
	CallbackURL    string
	Language       int
	WindowState    int
	InstantCapture bool
	MD5Key         string
	// AcceptedCards limits the payment window to these brands; empty keeps the adapter default
	AcceptedCards []string
}

// TwoCheckoutConfig holds the 2Checkout account settings
type TwoCheckoutConfig struct {
	Enabled     bool
	AccountID   string
	APIUsername string
	APIPassword string
	SecretWord  string
	Currency    string
	Demo        bool
	PurchaseURL string
	APIURL      string
}

// GatewayConfig holds transport settings shared by both gateways
type GatewayConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

// CaptureConfig holds capture and sweep settings
type CaptureConfig struct {
	// SweepInterval of zero disables the in-process scheduler
	SweepInterval  time.Duration
	SweepWindow    time.Duration
	ClaimLease     time.Duration
	PersistRetries int
}

// CheckoutConfig holds settings of the buyer-facing endpoints
type CheckoutConfig struct {
	Tenant         string
	ReturnURL      string
	SuccessURL     string
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool
}

// SecretsConfig selects where gateway credentials come from. A secret name
// left empty keeps the value read from the environment.
type SecretsConfig struct {
	Backend  string
	CacheTTL time.Duration

	LocalPath string

	AWSRegion   string
	AWSProfile  string
	AWSEndpoint string

	VaultAddress  string
	VaultToken    string
	VaultRoleID   string
	VaultSecretID string
	VaultMount    string

	GCPProjectID string

	EPayAPIPasswordName        string
	TwoCheckoutSecretWordName  string
	TwoCheckoutAPIPasswordName string
	CronSecretName             string
}

// Load reads .env files when present, then the environment
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		CronSecret:  getEnv("CRON_SECRET", ""),
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Storage:  strings.ToLower(getEnv("STORAGE_BACKEND", StoragePostgres)),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "epay_processor"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		EPay: EPayConfig{
			MerchantNumber: getEnv("EPAY_MERCHANT_NUMBER", ""),
			APIPassword:    getEnv("EPAY_API_PASSWORD", ""),
			Currency:       getEnv("EPAY_CURRENCY", "DKK"),
			APIURL:         getEnv("EPAY_API_URL", "https://ssl.ditonlinebetalingssystem.dk/remote/payment.asmx"),
			WindowURL:      getEnv("EPAY_WINDOW_URL", "https://ssl.ditonlinebetalingssystem.dk/integration/ewindow/paymentwindow.js"),
			AcceptURL:      getEnv("EPAY_ACCEPT_URL", ""),
			CancelURL:      getEnv("EPAY_CANCEL_URL", ""),
			CallbackURL:    getEnv("EPAY_CALLBACK_URL", ""),
			Language:       getEnvAsInt("EPAY_LANGUAGE", 1),
			WindowState:    getEnvAsInt("EPAY_WINDOW_STATE", 3),
			InstantCapture: getEnvAsBool("EPAY_INSTANT_CAPTURE", false),
			MD5Key:         getEnv("EPAY_MD5_KEY", ""),
			AcceptedCards:  getEnvAsList("EPAY_ACCEPTED_CARDS", nil),
		},
		TwoCheckout: TwoCheckoutConfig{
			AccountID:   getEnv("TWOCHECKOUT_ACCOUNT_ID", ""),
			APIUsername: getEnv("TWOCHECKOUT_API_USERNAME", ""),
			APIPassword: getEnv("TWOCHECKOUT_API_PASSWORD", ""),
			SecretWord:  getEnv("TWOCHECKOUT_SECRET_WORD", "tango"),
			Currency:    getEnv("TWOCHECKOUT_CURRENCY", "USD"),
			Demo:        getEnvAsBool("TWOCHECKOUT_DEMO", true),
			PurchaseURL: getEnv("TWOCHECKOUT_PURCHASE_URL", "https://www.2checkout.com/checkout/purchase"),
			APIURL:      getEnv("TWOCHECKOUT_API_URL", "https://www.2checkout.com/api"),
		},
		Gateway: GatewayConfig{
			Timeout:    getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("GATEWAY_MAX_RETRIES", 2),
		},
		Capture: CaptureConfig{
			SweepInterval:  getEnvAsDuration("CAPTURE_SWEEP_INTERVAL", time.Hour),
			SweepWindow:    time.Duration(getEnvAsInt("CAPTURE_SWEEP_WINDOW_DAYS", 90)) * 24 * time.Hour,
			ClaimLease:     getEnvAsDuration("CAPTURE_CLAIM_LEASE", 5*time.Minute),
			PersistRetries: getEnvAsInt("CAPTURE_PERSIST_RETRIES", 3),
		},
		Checkout: CheckoutConfig{
			Tenant:         getEnv("CHECKOUT_TENANT", "1"),
			ReturnURL:      getEnv("CHECKOUT_RETURN_URL", ""),
			SuccessURL:     getEnv("CHECKOUT_SUCCESS_URL", ""),
			RateLimitRPS:   getEnvAsFloat("CHECKOUT_RATE_LIMIT_RPS", 5),
			RateLimitBurst: getEnvAsInt("CHECKOUT_RATE_LIMIT_BURST", 10),
			TrustProxy:     getEnvAsBool("CHECKOUT_TRUST_PROXY", false),
		},
		Secrets: SecretsConfig{
			Backend:                    strings.ToLower(getEnv("SECRETS_BACKEND", SecretsEnv)),
			CacheTTL:                   getEnvAsDuration("SECRETS_CACHE_TTL", 5*time.Minute),
			LocalPath:                  getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			AWSRegion:                  getEnv("AWS_REGION", "us-east-1"),
			AWSProfile:                 getEnv("AWS_PROFILE", ""),
			AWSEndpoint:                getEnv("AWS_SECRETS_ENDPOINT", ""),
			VaultAddress:               getEnv("VAULT_ADDR", ""),
			VaultToken:                 getEnv("VAULT_TOKEN", ""),
			VaultRoleID:                getEnv("VAULT_ROLE_ID", ""),
			VaultSecretID:              getEnv("VAULT_SECRET_ID", ""),
			VaultMount:                 getEnv("VAULT_MOUNT", "secret"),
			GCPProjectID:               getEnv("GCP_PROJECT_ID", ""),
			EPayAPIPasswordName:        getEnv("EPAY_API_PASSWORD_SECRET", ""),
			TwoCheckoutSecretWordName:  getEnv("TWOCHECKOUT_SECRET_WORD_SECRET", ""),
			TwoCheckoutAPIPasswordName: getEnv("TWOCHECKOUT_API_PASSWORD_SECRET", ""),
			CronSecretName:             getEnv("CRON_SECRET_SECRET", ""),
		},
	}
	cfg.EPay.Enabled = getEnvAsBool("EPAY_ENABLED", cfg.EPay.MerchantNumber != "")
	cfg.TwoCheckout.Enabled = getEnvAsBool("TWOCHECKOUT_ENABLED", cfg.TwoCheckout.AccountID != "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	switch c.Database.Storage {
	case StoragePostgres:
		if c.Database.URL == "" && c.Database.Password == "" {
			return fmt.Errorf("DATABASE_URL or DB_PASSWORD is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Database.Storage)
	}

	switch c.Secrets.Backend {
	case SecretsEnv, SecretsLocal, SecretsAWS:
	case SecretsVault:
		if c.Secrets.VaultAddress == "" {
			return fmt.Errorf("VAULT_ADDR is required when SECRETS_BACKEND=vault")
		}
	case SecretsGCP:
		if c.Secrets.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when SECRETS_BACKEND=gcp")
		}
	default:
		return fmt.Errorf("unsupported SECRETS_BACKEND %q", c.Secrets.Backend)
	}

	if !c.EPay.Enabled && !c.TwoCheckout.Enabled {
		return fmt.Errorf("at least one gateway must be enabled (EPAY_MERCHANT_NUMBER or TWOCHECKOUT_ACCOUNT_ID)")
	}
	if c.EPay.Enabled && c.EPay.MerchantNumber == "" {
		return fmt.Errorf("EPAY_MERCHANT_NUMBER is required")
	}
	if c.TwoCheckout.Enabled && c.TwoCheckout.AccountID == "" {
		return fmt.Errorf("TWOCHECKOUT_ACCOUNT_ID is required")
	}

	if c.Capture.SweepWindow <= 0 {
		return fmt.Errorf("CAPTURE_SWEEP_WINDOW_DAYS must be positive")
	}
	if c.Capture.ClaimLease < c.Gateway.Timeout {
		return fmt.Errorf("CAPTURE_CLAIM_LEASE (%s) must be at least GATEWAY_TIMEOUT (%s)", c.Capture.ClaimLease, c.Gateway.Timeout)
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	var values []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
