package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"vault-risk-backtest/internal/liquidation"
	"vault-risk-backtest/internal/logging"
	"vault-risk-backtest/internal/transition"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Data     DataConfig     `mapstructure:"data"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Output   OutputConfig   `mapstructure:"output"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DataConfig locates the input data sets.
type DataConfig struct {
	VaultSetDir      string `mapstructure:"vault_set_dir"`
	VaultHistoryPath string `mapstructure:"vault_history_path"`
}

// AnalysisConfig tunes pair enumeration and classification.
type AnalysisConfig struct {
	CollateralType   string `mapstructure:"collateral_type"`
	Window           uint64 `mapstructure:"window"`
	LiquidationTag   string `mapstructure:"liquidation_tag"`
	TieBreak         string `mapstructure:"tie_break"`
	MissingVault     string `mapstructure:"missing_vault"`
	AbortOnLoadError bool   `mapstructure:"abort_on_load_error"`
	LoadConcurrency  int    `mapstructure:"load_concurrency"`
	Workers          int    `mapstructure:"workers"`
	BatchSize        int    `mapstructure:"batch_size"`
}

// OutputConfig controls chunked transition files.
type OutputConfig struct {
	ResultDir string `mapstructure:"result_dir"`
	ChunkSize int    `mapstructure:"chunk_size"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VAULTRISK")
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
	v.SetDefault("app.name", "vaultrisk")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("data.vault_set_dir", "data/vaultSet")
	v.SetDefault("data.vault_history_path", "data/jsons/vaultHistory.json")

	v.SetDefault("analysis.collateral_type", transition.DefaultCollateralType)
	v.SetDefault("analysis.window", 40000)
	v.SetDefault("analysis.liquidation_tag", liquidation.DefaultStartTag)
	v.SetDefault("analysis.tie_break", string(liquidation.TieBreakEarliest))
	v.SetDefault("analysis.missing_vault", string(transition.MissingVaultFlag))
	v.SetDefault("analysis.abort_on_load_error", false)
	v.SetDefault("analysis.load_concurrency", 4)
	v.SetDefault("analysis.workers", 0)
	v.SetDefault("analysis.batch_size", 256)

	v.SetDefault("output.result_dir", "")
	v.SetDefault("output.chunk_size", 100)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 25.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

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
	if c.Analysis.Window == 0 {
		return fmt.Errorf("analysis.window must be greater than zero")
	}
	if c.Analysis.CollateralType == "" {
		return fmt.Errorf("analysis.collateral_type is required")
	}
	if c.Analysis.BatchSize <= 0 {
		return fmt.Errorf("analysis.batch_size must be greater than zero")
	}
	if c.Analysis.Workers < 0 {
		return fmt.Errorf("analysis.workers cannot be negative")
	}
	if _, err := liquidation.ParseTieBreak(c.Analysis.TieBreak); err != nil {
		return fmt.Errorf("analysis.tie_break: %w", err)
	}
	if _, err := transition.ParseMissingVaultPolicy(c.Analysis.MissingVault); err != nil {
		return fmt.Errorf("analysis.missing_vault: %w", err)
	}
	if c.Output.ChunkSize <= 0 {
		return fmt.Errorf("output.chunk_size must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
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
