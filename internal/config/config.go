package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Verification VerificationConfig `yaml:"verification"`
	Checkout     CheckoutConfig     `yaml:"checkout"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// RedisConfig holds Redis connection settings for the credit ledger and
// session progress tracking
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LedgerConfig holds credit ledger settings
type LedgerConfig struct {
	Backend        string `yaml:"backend"`      // "redis" or "postgres"
	DatabaseURL    string `yaml:"database_url"` // used by the postgres backend
	AccountCredits int    `yaml:"account_credits"`
	IPCredits      int    `yaml:"ip_credits"`
}

// VerificationConfig holds verification oracle client settings
type VerificationConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryDelayMS   int    `yaml:"retry_delay_ms"`
	BatchSize      int    `yaml:"batch_size"`
	BatchDelayMS   int    `yaml:"batch_delay_ms"`
	GatePolicy     string `yaml:"gate_policy"` // "per_address" or "preflight"
}

// CheckoutConfig holds payment processor settings for credit top-ups
type CheckoutConfig struct {
	BaseURL        string  `yaml:"base_url"`
	SecretKey      string  `yaml:"secret_key"`
	WebhookSecret  string  `yaml:"webhook_secret"`
	PricePerCredit float64 `yaml:"price_per_credit"`
	SuccessURL     string  `yaml:"success_url"`
	CancelURL      string  `yaml:"cancel_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
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

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "redis"
	}
	if cfg.Ledger.AccountCredits == 0 {
		cfg.Ledger.AccountCredits = 3
	}
	if cfg.Ledger.IPCredits == 0 {
		cfg.Ledger.IPCredits = 1
	}
	if cfg.Verification.TimeoutSeconds == 0 {
		cfg.Verification.TimeoutSeconds = 10
	}
	if cfg.Verification.MaxRetries == 0 {
		cfg.Verification.MaxRetries = 3
	}
	if cfg.Verification.RetryDelayMS == 0 {
		cfg.Verification.RetryDelayMS = 2000
	}
	if cfg.Verification.BatchSize == 0 {
		cfg.Verification.BatchSize = 10
	}
	if cfg.Verification.BatchDelayMS == 0 {
		cfg.Verification.BatchDelayMS = 500
	}
	if cfg.Verification.GatePolicy == "" {
		cfg.Verification.GatePolicy = "per_address"
	}
	if cfg.Checkout.PricePerCredit == 0 {
		cfg.Checkout.PricePerCredit = 0.001
	}
	if cfg.Checkout.TimeoutSeconds == 0 {
		cfg.Checkout.TimeoutSeconds = 30
	}

	return &cfg, nil
}

// LoadFromEnv loads the config file and applies environment overrides.
// A .env file is honored when present so local development matches the
// deployed environment-variable surface.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Ledger.DatabaseURL = dsn
	}
	if backend := os.Getenv("LEDGER_BACKEND"); backend != "" {
		cfg.Ledger.Backend = backend
	}
	if url := os.Getenv("VERIFY_API_URL"); url != "" {
		cfg.Verification.BaseURL = url
	}
	if key := os.Getenv("CHECKOUT_SECRET_KEY"); key != "" {
		cfg.Checkout.SecretKey = key
	}
	if secret := os.Getenv("CHECKOUT_WEBHOOK_SECRET"); secret != "" {
		cfg.Checkout.WebhookSecret = secret
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg, nil
}
