package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "FIELD_REPORTS", cfg.NATS.Stream)
	assert.Equal(t, "fieldrelay.messages", cfg.NATS.Subject)
	assert.Equal(t, 4, cfg.NATS.PoolSize)
	assert.Equal(t, 10, cfg.NATS.PublishTimeoutSecs)
	assert.Equal(t, 64, cfg.NATS.MaxAckPending)
	assert.Equal(t, 120, cfg.Debounce.QuietSecs)
	assert.Equal(t, "Europe/Moscow", cfg.Delivery.Timezone)
	assert.Equal(t, "SlovarikDB", cfg.Delivery.ReportName)
	assert.Equal(t, "anthropic", cfg.Extract.Provider)
	assert.InDelta(t, 1.0, cfg.Extract.RequestsPerSec, 0.001)
	assert.InDelta(t, 10000.0, cfg.Units.YieldThreshold, 0.001)
	assert.InDelta(t, 100.0, cfg.Units.YieldScale, 0.001)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.BaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.InDelta(t, 0.2, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: file:relay.db
debounce:
  quiet_secs: 30
units:
  yield_threshold: 5000
server:
  cors_origins:
    - https://ops.example.com
monitoring:
  webhook_url: https://hooks.example.com/alerts
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:relay.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 30, cfg.Debounce.QuietSecs)
	assert.InDelta(t, 5000.0, cfg.Units.YieldThreshold, 0.001)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "https://hooks.example.com/alerts", cfg.Monitoring.WebhookURL)
	// Defaults still apply for unset values
	assert.InDelta(t, 100.0, cfg.Units.YieldScale, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
debounce:
  quiet_secs: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("FIELDRELAY_DEBOUNCE_QUIET_SECS", "45")
	t.Setenv("FIELDRELAY_NATS_URL", "nats://queue:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.Debounce.QuietSecs)
	assert.Equal(t, "nats://queue:4222", cfg.NATS.URL)
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/relay"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.Debounce.QuietSecs = 120
	cfg.Delivery.Timezone = "Europe/Moscow"
	cfg.Units.YieldScale = 100
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateBot(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("bot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token is required")

	cfg.Telegram.Token = "123:abc"
	assert.NoError(t, cfg.Validate("bot"))
}

func TestValidateWorker_Provider(t *testing.T) {
	cfg := validDefaults()
	cfg.Extract.Provider = "mistral"
	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract.mistral_key is required")

	cfg.Extract.MistralKey = "key"
	assert.NoError(t, cfg.Validate("worker"))

	cfg.Extract.Provider = "openai"
	err = cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract.provider")
}

func TestValidate_MissingStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_BadTimezone(t *testing.T) {
	cfg := validDefaults()
	cfg.Telegram.Token = "123:abc"
	cfg.Delivery.Timezone = "Mars/Olympus"
	err := cfg.Validate("bot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery.timezone")
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestValidate_UnknownMode(t *testing.T) {
	assert.Error(t, validDefaults().Validate("serve"))
}
