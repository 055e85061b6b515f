package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for trendlab.
type Config struct {
	Storage    Storage                   `yaml:"storage"`
	Alpaca     Alpaca                    `yaml:"alpaca"`
	Logging    Logging                   `yaml:"logging"`
	Gather     GatherConfig              `yaml:"gather"`
	Backtest   BacktestConfig            `yaml:"backtest"`
	Strategies map[string]StrategyConfig `yaml:"strategies"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	ReportDir  string `yaml:"report_dir"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	BaseURL   string `yaml:"base_url"` // trading API, used for the market calendar
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls data gathering for the supported markets.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
	CNDaily GatherJobConfig `yaml:"cn_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string   `yaml:"start_date"`
	BaseURL         string   `yaml:"base_url"`
	Symbols         []string `yaml:"symbols"`
	BatchSize       int      `yaml:"batch_size"`
	MaxWorkers      int      `yaml:"max_workers"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
}

// BacktestConfig holds parameters shared by every strategy run.
type BacktestConfig struct {
	Market       string   `yaml:"market"`
	Period       string   `yaml:"period"` // "daily" or "weekly"
	HorizonYears int      `yaml:"horizon_years"`
	EndDate      string   `yaml:"end_date"` // empty means today
	MaxWorkers   int      `yaml:"max_workers"`
	TagThreshold float64  `yaml:"tag_threshold"`
	Epsilon      *float64 `yaml:"epsilon"` // nil means DefaultEpsilon; 0 requires an exact match
}

// StrategyConfig is the parameter set of one named strategy. Kind selects
// the variant; the variant-specific fields are ignored by other kinds.
type StrategyConfig struct {
	Kind           string   `yaml:"kind"`
	InitialCapital *float64 `yaml:"initial_capital"` // nil means DefaultInitialCapital
	MAWindow       int      `yaml:"ma_window"`
	LotSize        int64    `yaml:"lot_size"`

	// thresholds
	BuyLevels             []float64 `yaml:"buy_levels"`
	BuyRatios             []float64 `yaml:"buy_ratios"`
	SellThresholds        []float64 `yaml:"sell_thresholds"`
	SellRatios            []float64 `yaml:"sell_ratios"`
	LiquidateOnFinalLevel bool      `yaml:"liquidate_on_final_level"`

	// outbreak
	RisingPeriods int  `yaml:"rising_periods"`
	ExitBelowMA   bool `yaml:"exit_below_ma"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Defaults for optional numeric settings whose zero value is meaningful.
const (
	DefaultInitialCapital = 100000.0
	DefaultEpsilon        = 0.00001
)

// Float returns a pointer to v, for optional numeric settings.
func Float(v float64) *float64 { return &v }

// applyDefaults fills zero values with the standard backtest settings.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "results.db")
	}
	if cfg.Storage.ReportDir == "" {
		cfg.Storage.ReportDir = "results"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	bt := &cfg.Backtest
	if bt.Market == "" {
		bt.Market = "cn"
	}
	if bt.Period == "" {
		bt.Period = "weekly"
	}
	if bt.HorizonYears == 0 {
		bt.HorizonYears = 10
	}
	if bt.MaxWorkers == 0 {
		bt.MaxWorkers = 8
	}
	if bt.TagThreshold == 0 {
		bt.TagThreshold = 0.60
	}
	if bt.Epsilon == nil {
		bt.Epsilon = Float(DefaultEpsilon)
	}

	for name, sc := range cfg.Strategies {
		if sc.Kind == "" {
			sc.Kind = name
		}
		if sc.InitialCapital == nil {
			sc.InitialCapital = Float(DefaultInitialCapital)
		}
		if sc.MAWindow == 0 {
			sc.MAWindow = 20
		}
		if sc.Kind == "outbreak" && sc.RisingPeriods == 0 {
			sc.RisingPeriods = 4
		}
		cfg.Strategies[name] = sc
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("REPORT_DIR"); v != "" {
		cfg.Storage.ReportDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("BACKTEST_YEARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Backtest.HorizonYears = n
		}
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
