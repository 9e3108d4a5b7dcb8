package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"meter-determinants/internal/logging"
	"meter-determinants/internal/tou"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Demand    DemandConfig    `mapstructure:"demand"`
	Tou       TouConfig       `mapstructure:"tou"`
	LoadModel LoadModelConfig `mapstructure:"load_model"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// EngineConfig carries the determinant and reconciliation thresholds.
type EngineConfig struct {
	BaseConfidence      float64 `mapstructure:"base_confidence"`
	CrossCheckTolerance float64 `mapstructure:"cross_check_tolerance"`
	CoverageMinimum     float64 `mapstructure:"coverage_minimum"`
	MismatchThreshold   float64 `mapstructure:"mismatch_threshold"`
	ReconcileWindow     int     `mapstructure:"reconcile_window"`
}

// DemandConfig tunes the demand rule engine.
type DemandConfig struct {
	RatchetFloorPct float64 `mapstructure:"ratchet_floor_pct"`
}

// TouConfig supplies the TOU schedule catalog. The engine only consumes the
// resolver contract; the catalog itself lives in configuration.
type TouConfig struct {
	Schedules []tou.Schedule `mapstructure:"schedules"`
}

// LoadModelConfig bounds the change-point regression.
type LoadModelConfig struct {
	MinPoints    int     `mapstructure:"min_points"`
	BalanceLowF  float64 `mapstructure:"balance_low_f"`
	BalanceHighF float64 `mapstructure:"balance_high_f"`
	BalanceStepF float64 `mapstructure:"balance_step_f"`
}

// WatchConfig governs the periodic re-analysis loop.
type WatchConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	InputPath     string        `mapstructure:"input_path"`
}

// AlertingConfig defines mismatch alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METERDET")
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
	v.SetDefault("app.name", "meterdet")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.base_confidence", 0.8)
	v.SetDefault("engine.cross_check_tolerance", 0.02)
	v.SetDefault("engine.coverage_minimum", 0.9)
	v.SetDefault("engine.mismatch_threshold", 0.12)
	v.SetDefault("engine.reconcile_window", 12)

	v.SetDefault("demand.ratchet_floor_pct", 0.5)

	v.SetDefault("load_model.min_points", 1000)
	v.SetDefault("load_model.balance_low_f", 45.0)
	v.SetDefault("load_model.balance_high_f", 85.0)
	v.SetDefault("load_model.balance_step_f", 1.0)

	v.SetDefault("watch.interval", "6h")
	v.SetDefault("watch.align_to_bucket", true)
	v.SetDefault("watch.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 0.12)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if c.Engine.CoverageMinimum <= 0 || c.Engine.CoverageMinimum > 1 {
		return fmt.Errorf("engine.coverage_minimum must be within (0, 1]")
	}
	if c.Engine.MismatchThreshold < 0 {
		return fmt.Errorf("engine.mismatch_threshold cannot be negative")
	}
	if c.Engine.ReconcileWindow <= 0 {
		return fmt.Errorf("engine.reconcile_window must be greater than zero")
	}
	if c.Demand.RatchetFloorPct < 0 || c.Demand.RatchetFloorPct > 1 {
		return fmt.Errorf("demand.ratchet_floor_pct must be within [0, 1]")
	}
	if c.LoadModel.BalanceStepF <= 0 {
		return fmt.Errorf("load_model.balance_step_f must be greater than zero")
	}
	if c.LoadModel.BalanceHighF <= c.LoadModel.BalanceLowF {
		return fmt.Errorf("load_model.balance_high_f must exceed balance_low_f")
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
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

// ScheduleResolver builds the TOU resolver contract over the configured
// catalog. Lookup is by utility plus rate code, falling back to a
// utility-wide default entry with an empty rate code.
func (c *Config) ScheduleResolver() tou.Resolver {
	schedules := c.Tou.Schedules
	return func(utility, rateCode string) *tou.Schedule {
		var fallback *tou.Schedule
		for i := range schedules {
			s := &schedules[i]
			if !strings.EqualFold(s.Utility, utility) {
				continue
			}
			if strings.EqualFold(s.RateCode, rateCode) {
				return s
			}
			if s.RateCode == "" && fallback == nil {
				fallback = s
			}
		}
		return fallback
	}
}
