package config

import (
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"rangewatch/internal/logging"
	"rangewatch/internal/registry"
)

// Notification channel names accepted in alerting.channels.
const (
	ChannelConsole  = "console"
	ChannelTelegram = "telegram"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sui       SuiConfig       `mapstructure:"sui"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Bot       BotConfig       `mapstructure:"bot"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Pools     []PoolEntry     `mapstructure:"pools"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates the optional PostgreSQL alert log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	AlertRetention  time.Duration `mapstructure:"alert_retention"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SuiConfig covers on-chain data access.
type SuiConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert policy and routing.
type AlertingConfig struct {
	Enabled            bool           `mapstructure:"enabled"`
	Channels           []string       `mapstructure:"channels"`
	NotifyTimeout      time.Duration  `mapstructure:"notify_timeout"`
	EscalationInterval time.Duration  `mapstructure:"escalation_interval"`
	OneHourWarning     bool           `mapstructure:"one_hour_warning"`
	BackInRangeAlert   bool           `mapstructure:"back_in_range_alert"`
	Telegram           TelegramConfig `mapstructure:"telegram"`
}

// HasChannel reports whether name is a configured channel.
func (a AlertingConfig) HasChannel(name string) bool {
	for _, ch := range a.Channels {
		if strings.EqualFold(strings.TrimSpace(ch), name) {
			return true
		}
	}
	return false
}

// TelegramConfig 描述 Telegram 告警与机器人共用的凭据。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// BotConfig controls the chat command surface.
type BotConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	UpdateTimeout int  `mapstructure:"update_timeout"`
	Debug         bool `mapstructure:"debug"`
}

// HTTPConfig controls the health endpoint listener.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// PoolEntry is a pool seeded at start.
type PoolEntry struct {
	ID        string          `mapstructure:"id"`
	Name      string          `mapstructure:"name"`
	Min       decimal.Decimal `mapstructure:"min"`
	Max       decimal.Decimal `mapstructure:"max"`
	Decimals0 *int32          `mapstructure:"decimals0"`
	Decimals1 *int32          `mapstructure:"decimals1"`
	Invert    bool            `mapstructure:"invert"`
}

// PoolConfig converts the entry into a registry config added at addedAt.
func (p PoolEntry) PoolConfig(addedAt time.Time) registry.PoolConfig {
	name := p.Name
	if strings.TrimSpace(name) == "" {
		name = p.ID
	}
	cfg := registry.NewPoolConfig(p.ID, name, p.Min, p.Max, p.Invert)
	if p.Decimals0 != nil {
		cfg.Decimals0 = *p.Decimals0
	}
	if p.Decimals1 != nil {
		cfg.Decimals1 = *p.Decimals1
	}
	cfg.AddedAt = addedAt
	return cfg
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rangewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72616e67))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("sui.rpc_url", "https://fullnode.mainnet.sui.io:443")
	v.SetDefault("sui.request_timeout", "10s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{ChannelConsole, ChannelTelegram})
	v.SetDefault("alerting.notify_timeout", "10s")
	v.SetDefault("alerting.escalation_interval", "1h")
	v.SetDefault("alerting.one_hour_warning", true)
	v.SetDefault("alerting.back_in_range_alert", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("bot.enabled", false)
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.debug", false)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "")
	v.SetDefault("http.port", 3000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.alert_retention", "720h")
}

// bindAliases accepts the bare variable names common in bot deployments.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"alerting.telegram.bot_token": {"RANGEWATCH_ALERTING_TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN"},
		"alerting.telegram.chat_id":   {"RANGEWATCH_ALERTING_TELEGRAM_CHAT_ID", "CHAT_ID"},
		"http.port":                   {"RANGEWATCH_HTTP_PORT", "PORT"},
		"database.dsn":                {"RANGEWATCH_DATABASE_DSN", "DATABASE_URL"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc decodes YAML numbers and strings into decimals
// without passing through a lossy float formatting.
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
		case float32:
			return decimal.NewFromString(strconv.FormatFloat(float64(v), 'f', -1, 32))
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case uint64:
			return decimal.NewFromUint64(v), nil
		default:
			return data, nil
		}
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Sui.RPCURL == "" {
		return fmt.Errorf("sui.rpc_url is required")
	}
	if c.Sui.RequestTimeout <= 0 {
		return fmt.Errorf("sui.request_timeout must be greater than zero")
	}
	if c.Alerting.EscalationInterval <= 0 {
		return fmt.Errorf("alerting.escalation_interval must be greater than zero")
	}
	if c.Database.AlertRetention < 0 {
		return fmt.Errorf("database.alert_retention cannot be negative")
	}
	for _, ch := range c.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case ChannelConsole, ChannelTelegram:
		default:
			return fmt.Errorf("alerting.channels: unknown channel %q", ch)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Bot.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("bot.enabled requires alerting.telegram.bot_token")
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}

	seen := make(map[string]struct{}, len(c.Pools))
	for i, entry := range c.Pools {
		pool := entry.PoolConfig(time.Time{})
		if err := registry.ValidatePool(pool); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		if _, dup := seen[pool.ID]; dup {
			return fmt.Errorf("pools[%d]: %w: %s", i, registry.ErrDuplicatePool, pool.ID)
		}
		seen[pool.ID] = struct{}{}
	}
	return nil
}
