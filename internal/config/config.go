package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	NATS       NATSConfig       `yaml:"nats" mapstructure:"nats"`
	Telegram   TelegramConfig   `yaml:"telegram" mapstructure:"telegram"`
	Debounce   DebounceConfig   `yaml:"debounce" mapstructure:"debounce"`
	Delivery   DeliveryConfig   `yaml:"delivery" mapstructure:"delivery"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Units      UnitsConfig      `yaml:"units" mapstructure:"units"`
	Drive      DriveConfig      `yaml:"drive" mapstructure:"drive"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// NATSConfig configures the relay between the bot and the worker.
type NATSConfig struct {
	URL                string `yaml:"url" mapstructure:"url"`
	Stream             string `yaml:"stream" mapstructure:"stream"`
	Subject            string `yaml:"subject" mapstructure:"subject"`
	Durable            string `yaml:"durable" mapstructure:"durable"`
	PoolSize           int    `yaml:"pool_size" mapstructure:"pool_size"`
	FetchWaitSecs      int    `yaml:"fetch_wait_secs" mapstructure:"fetch_wait_secs"`
	DedupWindowSecs    int    `yaml:"dedup_window_secs" mapstructure:"dedup_window_secs"`
	AckWaitSecs        int    `yaml:"ack_wait_secs" mapstructure:"ack_wait_secs"`
	PublishTimeoutSecs int    `yaml:"publish_timeout_secs" mapstructure:"publish_timeout_secs"`
	MaxAckPending      int    `yaml:"max_ack_pending" mapstructure:"max_ack_pending"`
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	Token           string `yaml:"token" mapstructure:"token"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	PollTimeoutSecs int    `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// DebounceConfig configures the per-conversation quiet timer.
type DebounceConfig struct {
	QuietSecs           int `yaml:"quiet_secs" mapstructure:"quiet_secs"`
	ShutdownGraceSecs   int `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
	CallbackTimeoutSecs int `yaml:"callback_timeout_secs" mapstructure:"callback_timeout_secs"`
}

// DeliveryConfig configures how daily reports are named and dated.
type DeliveryConfig struct {
	Timezone   string `yaml:"timezone" mapstructure:"timezone"`
	ReportName string `yaml:"report_name" mapstructure:"report_name"`
}

// ExtractConfig configures the extraction service.
type ExtractConfig struct {
	Provider       string  `yaml:"provider" mapstructure:"provider"`
	AnthropicKey   string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	AnthropicModel string  `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	MistralKey     string  `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel   string  `yaml:"mistral_model" mapstructure:"mistral_model"`
	MistralBaseURL string  `yaml:"mistral_base_url" mapstructure:"mistral_base_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	VocabPath      string  `yaml:"vocab_path" mapstructure:"vocab_path"`
}

// UnitsConfig holds the yield unit heuristic.
type UnitsConfig struct {
	YieldThreshold float64 `yaml:"yield_threshold" mapstructure:"yield_threshold"`
	YieldScale     float64 `yaml:"yield_scale" mapstructure:"yield_scale"`
}

// DriveConfig configures optional Google Drive export. Export is disabled
// when CredentialsPath is empty.
type DriveConfig struct {
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	UploadURL       string `yaml:"upload_url" mapstructure:"upload_url"`
	FolderID        string `yaml:"folder_id" mapstructure:"folder_id"`
	TeamName        string `yaml:"team_name" mapstructure:"team_name"`
	ArchiveMessages bool   `yaml:"archive_messages" mapstructure:"archive_messages"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures webhook alerts on failure rates. Alerts are
// disabled when WebhookURL is empty.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RejectRateThreshold  float64 `yaml:"reject_rate_threshold" mapstructure:"reject_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FIELDRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "FIELD_REPORTS")
	v.SetDefault("nats.subject", "fieldrelay.messages")
	v.SetDefault("nats.durable", "fieldrelay-worker")
	v.SetDefault("nats.pool_size", 4)
	v.SetDefault("nats.fetch_wait_secs", 5)
	v.SetDefault("nats.dedup_window_secs", 120)
	v.SetDefault("nats.ack_wait_secs", 300)
	v.SetDefault("nats.publish_timeout_secs", 10)
	v.SetDefault("nats.max_ack_pending", 64)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout_secs", 30)
	v.SetDefault("debounce.quiet_secs", 120)
	v.SetDefault("debounce.shutdown_grace_secs", 5)
	v.SetDefault("debounce.callback_timeout_secs", 60)
	v.SetDefault("delivery.timezone", "Europe/Moscow")
	v.SetDefault("delivery.report_name", "SlovarikDB")
	v.SetDefault("extract.provider", "anthropic")
	v.SetDefault("extract.anthropic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("extract.mistral_model", "mistral-large-latest")
	v.SetDefault("extract.mistral_base_url", "https://api.mistral.ai/v1")
	v.SetDefault("extract.requests_per_sec", 1.0)
	v.SetDefault("extract.timeout_secs", 90)
	v.SetDefault("extract.max_tokens", 4096)
	v.SetDefault("units.yield_threshold", 10000.0)
	v.SetDefault("units.yield_scale", 100.0)
	v.SetDefault("drive.base_url", "https://www.googleapis.com/drive/v3")
	v.SetDefault("drive.upload_url", "https://www.googleapis.com/upload/drive/v3")
	v.SetDefault("drive.team_name", "SlovarikDB")
	v.SetDefault("drive.archive_messages", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.reject_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the given process mode
// ("bot", "worker", "migrate") are present.
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	require(c.Store.DatabaseURL != "", "store.database_url is required")
	require(c.Store.Driver == "postgres" || c.Store.Driver == "sqlite", "store.driver must be postgres or sqlite")

	switch mode {
	case "bot":
		require(c.Telegram.Token != "", "telegram.token is required")
		require(c.NATS.URL != "", "nats.url is required")
		require(c.Debounce.QuietSecs > 0, "debounce.quiet_secs must be positive")
		_, err := time.LoadLocation(c.Delivery.Timezone)
		require(err == nil, "delivery.timezone is not a valid IANA zone")
	case "worker":
		require(c.NATS.URL != "", "nats.url is required")
		switch c.Extract.Provider {
		case "anthropic":
			require(c.Extract.AnthropicKey != "", "extract.anthropic_key is required")
		case "mistral":
			require(c.Extract.MistralKey != "", "extract.mistral_key is required")
		default:
			problems = append(problems, "extract.provider must be anthropic or mistral")
		}
		require(c.Units.YieldScale > 0, "units.yield_scale must be positive")
		_, err := time.LoadLocation(c.Delivery.Timezone)
		require(err == nil, "delivery.timezone is not a valid IANA zone")
	case "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 0 and 65535")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location loads the delivery time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Delivery.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
