package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/perchlabs-io/balance-bot/internal/logging"
)

// ErrConfig marks a missing or invalid setting. It is fatal at startup.
var ErrConfig = errors.New("config error")

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Matrix     MatrixConfig     `mapstructure:"matrix"`
	Operator   OperatorConfig   `mapstructure:"operator"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig locates the PostgreSQL data store. DSN wins over the
// individual fields when both are set.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConnString returns the DSN, building a URL from the individual fields when
// no DSN is configured.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Host == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String()
}

// MatrixConfig holds chat session credentials and the notification room.
type MatrixConfig struct {
	Homeserver  string        `mapstructure:"homeserver"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	AccessToken string        `mapstructure:"access_token"`
	DeviceID    string        `mapstructure:"device_id"`
	Room        string        `mapstructure:"room"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// OperatorConfig carries pool operator figures used only for rendering.
type OperatorConfig struct {
	SlotsAssigned int `mapstructure:"slots_assigned"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	FeedTimeout     time.Duration `mapstructure:"feed_timeout"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// ThresholdsConfig bounds the live stake noise buffer, in ADA.
type ThresholdsConfig struct {
	StakeLow  string `mapstructure:"stake_low"`
	StakeHigh string `mapstructure:"stake_high"`
}

// Stake parses the configured bounds.
func (t ThresholdsConfig) Stake() (low, high decimal.Decimal, err error) {
	low, err = decimal.NewFromString(t.StakeLow)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: thresholds.stake_low: %w", ErrConfig, err)
	}
	high, err = decimal.NewFromString(t.StakeHigh)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: thresholds.stake_high: %w", ErrConfig, err)
	}
	return low, high, nil
}

// AlertingConfig selects extra notification channels besides the Matrix room.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes an optional Telegram mirror of every notification.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Load builds configuration from an optional .env file, the config file,
// environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("BALANCEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
		return nil, fmt.Errorf("%w: unmarshal config: %w", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: load .env: %w", ErrConfig, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("%w: read config: %w", ErrConfig, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "balancebot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("matrix.homeserver", "")
	v.SetDefault("matrix.user", "")
	v.SetDefault("matrix.password", "")
	v.SetDefault("matrix.access_token", "")
	v.SetDefault("matrix.device_id", "balance_bot_service")
	v.SetDefault("matrix.room", "")
	v.SetDefault("matrix.timeout", "10s")

	v.SetDefault("operator.slots_assigned", 0)

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.feed_timeout", "30s")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0))

	v.SetDefault("thresholds.stake_low", "-100000")
	v.SetDefault("thresholds.stake_high", "100000")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.listen", "")
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

// Validate checks settings every command needs.
func (c *Config) Validate() error {
	if c.Database.ConnString() == "" {
		return fmt.Errorf("%w: database.dsn or database.host must be set", ErrConfig)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("%w: scheduler.interval must be greater than zero", ErrConfig)
	}
	if c.Scheduler.FeedTimeout <= 0 {
		return fmt.Errorf("%w: scheduler.feed_timeout must be greater than zero", ErrConfig)
	}
	if c.Operator.SlotsAssigned < 0 {
		return fmt.Errorf("%w: operator.slots_assigned cannot be negative", ErrConfig)
	}
	low, high, err := c.Thresholds.Stake()
	if err != nil {
		return err
	}
	if low.IsPositive() || high.IsNegative() {
		return fmt.Errorf("%w: thresholds must satisfy stake_low <= 0 <= stake_high", ErrConfig)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("%w: alerting.telegram.bot_token is required", ErrConfig)
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("%w: alerting.telegram.chat_id is required", ErrConfig)
		}
	}
	return nil
}

// ValidateChat checks the settings the chat session and notifier need.
func (c *Config) ValidateChat() error {
	m := c.Matrix
	if m.Homeserver == "" {
		return fmt.Errorf("%w: matrix.homeserver is required", ErrConfig)
	}
	if m.Room == "" {
		return fmt.Errorf("%w: matrix.room is required", ErrConfig)
	}
	if m.AccessToken == "" && (m.User == "" || m.Password == "") {
		return fmt.Errorf("%w: matrix.access_token or matrix.user and matrix.password are required", ErrConfig)
	}
	return nil
}
