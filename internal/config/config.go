package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // alert timestamps are rendered in a configured zone

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"floorwatch/internal/domain"
	"floorwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Rate        RateConfig        `mapstructure:"rate"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. Without a DSN state is kept in StateFile;
// with neither it lives in memory only.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	StateFile       string        `mapstructure:"state_file"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the poll and floor refresh cadences.
type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MarketplaceConfig covers the listing source.
type MarketplaceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Collection        string        `mapstructure:"collection"`
	SearchPages       int           `mapstructure:"search_pages"`
	PageSize          int           `mapstructure:"page_size"`
	RefreshSampleSize int           `mapstructure:"refresh_sample_size"`
	PollSampleSize    int           `mapstructure:"poll_sample_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MetadataTimeout   time.Duration `mapstructure:"metadata_timeout"`
	Origin            string        `mapstructure:"origin"`
	RaribleItemBase   string        `mapstructure:"rarible_item_base"`
	OpenSeaBase       string        `mapstructure:"opensea_base"`
	IPFSGateway       string        `mapstructure:"ipfs_gateway"`
}

// RateConfig selects the native-to-USD rate source.
type RateConfig struct {
	Source         string        `mapstructure:"source"`
	BinanceBase    string        `mapstructure:"binance_base"`
	Symbol         string        `mapstructure:"symbol"`
	RPCURL         string        `mapstructure:"rpc_url"`
	Aggregator     string        `mapstructure:"aggregator"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled           bool           `mapstructure:"enabled"`
	DiscountPct       float64        `mapstructure:"discount_pct"`
	LowerFloorOnAlert bool           `mapstructure:"lower_floor_on_alert"`
	Retention         time.Duration  `mapstructure:"retention"`
	NotifyTimeout     time.Duration  `mapstructure:"notify_timeout"`
	ImageTimeout      time.Duration  `mapstructure:"image_timeout"`
	Timezone          string         `mapstructure:"timezone"`
	Commands          bool           `mapstructure:"commands"`
	Telegram          TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for delivery and commands.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen    string `mapstructure:"listen"`
	Namespace string `mapstructure:"namespace"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FLOORWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps BOT_TOKEN/CHANNEL_ID deployments working next to the prefixed names.
func bindLegacyEnv(v *viper.Viper) error {
	if err := v.BindEnv("alerting.telegram.bot_token", "FLOORWATCH_ALERTING_TELEGRAM_BOT_TOKEN", "BOT_TOKEN"); err != nil {
		return fmt.Errorf("bind bot token env: %w", err)
	}
	if err := v.BindEnv("alerting.telegram.chat_id", "FLOORWATCH_ALERTING_TELEGRAM_CHAT_ID", "CHANNEL_ID"); err != nil {
		return fmt.Errorf("bind channel id env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "floorwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.state_file", "floorwatch-state.json")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.poll_interval", "10s")
	v.SetDefault("scheduler.refresh_interval", "30s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x666c6f6f))

	v.SetDefault("marketplace.base_url", "https://og.rarible.com/marketplace/api/v4")
	v.SetDefault("marketplace.collection", "POLYGON-0xd8156606d2bf60c12d55f561395d29ba3c5ccc63")
	v.SetDefault("marketplace.search_pages", 1)
	v.SetDefault("marketplace.page_size", 100)
	v.SetDefault("marketplace.refresh_sample_size", 1)
	v.SetDefault("marketplace.poll_sample_size", 10)
	v.SetDefault("marketplace.request_timeout", "30s")
	v.SetDefault("marketplace.metadata_timeout", "5s")
	v.SetDefault("marketplace.origin", "https://og.rarible.com")
	v.SetDefault("marketplace.rarible_item_base", "https://og.rarible.com/token")
	v.SetDefault("marketplace.opensea_base", "https://opensea.io/item/polygon")
	v.SetDefault("marketplace.ipfs_gateway", "https://ipfs.io/ipfs/")

	v.SetDefault("rate.source", "binance")
	v.SetDefault("rate.binance_base", "https://api.binance.com")
	v.SetDefault("rate.symbol", "ETHUSDT")
	v.SetDefault("rate.max_age", "0s")
	v.SetDefault("rate.request_timeout", "5s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.discount_pct", 50.0)
	v.SetDefault("alerting.lower_floor_on_alert", false)
	v.SetDefault("alerting.retention", "0s")
	v.SetDefault("alerting.notify_timeout", "20s")
	v.SetDefault("alerting.image_timeout", "8s")
	v.SetDefault("alerting.timezone", "Europe/Warsaw")
	v.SetDefault("alerting.commands", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.namespace", "floorwatch")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be greater than zero")
	}
	if c.Scheduler.RefreshInterval < c.Scheduler.PollInterval {
		return fmt.Errorf("scheduler.refresh_interval must not be shorter than scheduler.poll_interval")
	}
	if _, err := domain.ParseCollection(c.Marketplace.Collection); err != nil {
		return fmt.Errorf("marketplace.collection: %w", err)
	}
	if c.Marketplace.SearchPages <= 0 {
		return fmt.Errorf("marketplace.search_pages must be greater than zero")
	}
	if c.Marketplace.PageSize <= 0 {
		return fmt.Errorf("marketplace.page_size must be greater than zero")
	}
	if c.Marketplace.RefreshSampleSize <= 0 {
		return fmt.Errorf("marketplace.refresh_sample_size must be greater than zero")
	}
	if c.Marketplace.PollSampleSize <= 0 {
		return fmt.Errorf("marketplace.poll_sample_size must be greater than zero")
	}
	switch strings.ToLower(c.Rate.Source) {
	case "binance", "none":
	case "chainlink":
		if c.Rate.RPCURL == "" || c.Rate.Aggregator == "" {
			return fmt.Errorf("rate.rpc_url and rate.aggregator are required for the chainlink source")
		}
	default:
		return fmt.Errorf("rate.source %q is not supported", c.Rate.Source)
	}
	if c.Alerting.DiscountPct <= 0 || c.Alerting.DiscountPct > 100 {
		return fmt.Errorf("alerting.discount_pct must be within (0, 100]")
	}
	if c.Alerting.Retention < 0 {
		return fmt.Errorf("alerting.retention cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Location resolves the alert timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Alerting.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Alerting.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
