package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultThresholdPercent is used when no valid threshold is configured.
const DefaultThresholdPercent = 20.0

// Config represents the complete application configuration
type Config struct {
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// Warnings collects non-fatal problems found while loading, logged once at startup.
	Warnings []string `mapstructure:"-"`
}

// MonitorConfig holds drawdown detection configuration
type MonitorConfig struct {
	// ThresholdPercent is parsed separately so that a bad value degrades to the default.
	ThresholdPercent    float64       `mapstructure:"-" validate:"gte=0"`
	Symbols             []string      `mapstructure:"symbols"`
	DiscoverPairs       bool          `mapstructure:"discover_pairs"`
	QuoteCurrency       string        `mapstructure:"quote_currency"`
	CanonicalDelimiter  string        `mapstructure:"canonical_delimiter" validate:"required"`
	AlternateDelimiters []string      `mapstructure:"alternate_delimiters"`
	PriceFields         []string      `mapstructure:"price_fields"`
	ReportInterval      time.Duration `mapstructure:"report_interval" validate:"gte=1s"`
}

// FeedConfig holds market data connection configuration
type FeedConfig struct {
	Exchange       string        `mapstructure:"exchange" validate:"required"`
	WSURL          string        `mapstructure:"ws_url" validate:"required,url"`
	RESTURL        string        `mapstructure:"rest_url" validate:"required,url"`
	Channel        string        `mapstructure:"channel" validate:"required"`
	PingInterval   time.Duration `mapstructure:"ping_interval" validate:"gte=1s"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gte=100ms"`
	SubscribeBatch int           `mapstructure:"subscribe_batch" validate:"gte=1,lte=1000"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gte=1s"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
}

// NotifyConfig holds alert dispatch configuration
type NotifyConfig struct {
	QueueSize    int           `mapstructure:"queue_size" validate:"gte=1"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"gte=0"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	ChatID         string        `mapstructure:"chat_id" validate:"required_if=Enabled true"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base" validate:"gte=0"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst          int           `mapstructure:"burst" validate:"gte=1"`
}

// KafkaConfig holds the Kafka alert sink configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
}

// RedisConfig holds the Redis pub/sub alert sink configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel" validate:"required_if=Enabled true"`
}

// StorageConfig holds the alert journal configuration
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	DBPath    string `mapstructure:"db_path" validate:"required_if=Enabled true"`
	MaxAlerts int    `mapstructure:"max_alerts" validate:"gte=0"`
}

// HTTPConfig holds the HTTP API configuration
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Load reads configuration from an optional file, a .env file in the working
// directory and DIPWATCH_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DIPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetThreshold(v.GetString("monitor.threshold_percent"))
	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Monitor defaults
	v.SetDefault("monitor.threshold_percent", "20")
	v.SetDefault("monitor.symbols", []string{})
	v.SetDefault("monitor.discover_pairs", true)
	v.SetDefault("monitor.quote_currency", "USDT")
	v.SetDefault("monitor.canonical_delimiter", "_")
	v.SetDefault("monitor.alternate_delimiters", []string{"-", "/"})
	v.SetDefault("monitor.price_fields", []string{})
	v.SetDefault("monitor.report_interval", "5m")

	// Feed defaults
	v.SetDefault("feed.exchange", "gateio")
	v.SetDefault("feed.ws_url", "wss://api.gateio.ws/ws/v4/")
	v.SetDefault("feed.rest_url", "https://api.gateio.ws/api/v4")
	v.SetDefault("feed.channel", "spot.tickers")
	v.SetDefault("feed.ping_interval", "20s")
	v.SetDefault("feed.reconnect_delay", "5s")
	v.SetDefault("feed.subscribe_batch", 100)
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.max_retries", 3)

	// Notify defaults
	v.SetDefault("notify.queue_size", 1024)
	v.SetDefault("notify.drain_timeout", "5s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.rate_per_second", 1.0)
	v.SetDefault("telegram.burst", 20)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "dipwatch.alerts")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "dipwatch:alerts")

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", ":memory:")
	v.SetDefault("storage.max_alerts", 10000)

	// HTTP defaults
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// ParseThreshold parses a non-negative, finite drawdown percentage.
// A trailing percent sign is accepted.
func ParseThreshold(raw string) (float64, error) {
	s := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("threshold %q is not a number", raw)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("threshold %q is not finite", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("threshold %q must not be negative", raw)
	}
	return value, nil
}

// SetThreshold applies a raw threshold value. Invalid input keeps the
// default and records a warning instead of failing startup. A later call
// replaces the warning of an earlier one.
func (c *Config) SetThreshold(raw string) {
	kept := c.Warnings[:0]
	for _, w := range c.Warnings {
		if !strings.HasPrefix(w, "threshold ") {
			kept = append(kept, w)
		}
	}
	c.Warnings = kept

	value, err := ParseThreshold(raw)
	if err != nil {
		c.Monitor.ThresholdPercent = DefaultThresholdPercent
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("%v, using default %.1f%%", err, DefaultThresholdPercent))
		return
	}
	c.Monitor.ThresholdPercent = value
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return errors.New(describe(fieldErrs[0]))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Storage.Enabled && c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1 when storage is enabled")
	}
	return nil
}

// describe renders a field error using the config key, e.g. "feed.ws_url is required".
func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", key)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", key)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", key, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", key, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", key, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", key, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", key, fe.Tag())
	}
}
