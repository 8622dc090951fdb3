package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

redis:
  addr: "redis.internal:6380"
  db: 2

ledger:
  backend: "postgres"
  database_url: "postgres://app@db/credits"
  account_credits: 5
  ip_credits: 2

verification:
  base_url: "https://verify.example.com/api"
  timeout_seconds: 20
  max_retries: 5
  retry_delay_ms: 1000
  batch_size: 25
  batch_delay_ms: 250
  gate_policy: "preflight"

checkout:
  base_url: "https://pay.example.com"
  price_per_credit: 0.002
  success_url: "https://app.example.com/ok"
  cancel_url: "https://app.example.com/cancel"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)

	assert.Equal(t, "postgres", cfg.Ledger.Backend)
	assert.Equal(t, "postgres://app@db/credits", cfg.Ledger.DatabaseURL)
	assert.Equal(t, 5, cfg.Ledger.AccountCredits)
	assert.Equal(t, 2, cfg.Ledger.IPCredits)

	assert.Equal(t, "https://verify.example.com/api", cfg.Verification.BaseURL)
	assert.Equal(t, 20, cfg.Verification.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Verification.MaxRetries)
	assert.Equal(t, 1000, cfg.Verification.RetryDelayMS)
	assert.Equal(t, 25, cfg.Verification.BatchSize)
	assert.Equal(t, 250, cfg.Verification.BatchDelayMS)
	assert.Equal(t, "preflight", cfg.Verification.GatePolicy)

	assert.Equal(t, "https://pay.example.com", cfg.Checkout.BaseURL)
	assert.Equal(t, 0.002, cfg.Checkout.PricePerCredit)
	assert.Equal(t, "https://app.example.com/ok", cfg.Checkout.SuccessURL)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "redis", cfg.Ledger.Backend)
	assert.Equal(t, 3, cfg.Ledger.AccountCredits)
	assert.Equal(t, 1, cfg.Ledger.IPCredits)
	assert.Equal(t, 10, cfg.Verification.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Verification.MaxRetries)
	assert.Equal(t, 2000, cfg.Verification.RetryDelayMS)
	assert.Equal(t, 10, cfg.Verification.BatchSize)
	assert.Equal(t, 500, cfg.Verification.BatchDelayMS)
	assert.Equal(t, "per_address", cfg.Verification.GatePolicy)
	assert.Equal(t, 0.001, cfg.Checkout.PricePerCredit)
	assert.Equal(t, 30, cfg.Checkout.TimeoutSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644))

	t.Setenv("REDIS_ADDR", "override:6379")
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://env@db/credits")
	t.Setenv("VERIFY_API_URL", "https://env.example.com")
	t.Setenv("SERVER_PORT", "9999")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "override:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres", cfg.Ledger.Backend)
	assert.Equal(t, "postgres://env@db/credits", cfg.Ledger.DatabaseURL)
	assert.Equal(t, "https://env.example.com", cfg.Verification.BaseURL)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestGetHostContainerDetection(t *testing.T) {
	cfg := ServerConfig{Host: "localhost"}

	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	assert.Equal(t, "localhost", cfg.GetHost())

	t.Setenv("AWS_EXECUTION_ENV", "AWS_ECS_FARGATE")
	assert.Equal(t, "0.0.0.0", cfg.GetHost())
}
