// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration that cannot be used to start the bot.
var ErrInvalid = errors.New("invalid config")

// App captures process-wide runtime settings such as name, environment, metrics, and logging.
type App struct {
	Name          string `yaml:"name"`
	Env           string `yaml:"env"`
	MetricsAddr   string `yaml:"metrics_addr"`
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
}

// Alpaca describes broker connectivity. Credentials are usually supplied through the environment.
type Alpaca struct {
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	BaseURL     string `yaml:"base_url"`
	DataURL     string `yaml:"data_url"`
	StreamURL   string `yaml:"stream_url"`
	Feed        string `yaml:"feed"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Model points at the exported sequence model and its scaler metadata.
type Model struct {
	Path           string `yaml:"path"`
	ScalerPath     string `yaml:"scaler_path"`
	LibraryPath    string `yaml:"library_path"`
	SequenceLength int    `yaml:"sequence_length"` // 0 defers to the scaler metadata
}

// Risk encodes guard-rails for how often and how much the executor may trade.
type Risk struct {
	MaxPositionSize     float64 `yaml:"max_position_size"`
	StopLoss            float64 `yaml:"stop_loss"`
	TakeProfit          float64 `yaml:"take_profit"`
	MaxDailyTrades      int     `yaml:"max_daily_trades"`
	MinAccountBalance   float64 `yaml:"min_account_balance"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// StrategyParams groups tunable knobs for a signal generator.
type StrategyParams struct {
	BuyThreshold   float64 `yaml:"buy_threshold"`
	SellThreshold  float64 `yaml:"sell_threshold"`
	TrendThreshold float64 `yaml:"trend_threshold"`
	TrendWindow    int     `yaml:"trend_window"`
}

// Strategy specifies which signal generator is active along with the parameter bundle.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Trading controls the polling loop.
type Trading struct {
	Provider         string   `yaml:"provider"`
	Symbols          []string `yaml:"symbols"`
	PollIntervalSecs int      `yaml:"poll_interval_secs"`
	Timeframe        string   `yaml:"timeframe"`
	BarLimit         int      `yaml:"bar_limit"`
	OpenBufferMins   int      `yaml:"open_buffer_mins"` // 0 trades from the first open tick
	Exits            string   `yaml:"exits"`
}

// State configures optional on-disk state.
type State struct {
	CounterPath   string `yaml:"counter_path"`
	JournalPath   string `yaml:"journal_path"`
	JournalFormat string `yaml:"journal_format"`
}

// Paper captures simulated account settings used when the provider is "paper".
type Paper struct {
	StartingCash         float64 `yaml:"starting_cash"`
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	StartPrice           float64 `yaml:"start_price"`
	Volatility           float64 `yaml:"volatility"`
	Seed                 int64   `yaml:"seed"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Model    Model    `yaml:"model"`
	Risk     Risk     `yaml:"risk"`
	Strategy Strategy `yaml:"strategy"`
	Trading  Trading  `yaml:"trading"`
	State    State    `yaml:"state"`
	Paper    Paper    `yaml:"paper"`
}

// Providers understood by the trading loop.
const (
	ProviderAlpaca = "alpaca"
	ProviderPaper  = "paper"
)

// Default returns the configuration used when a key is absent from the YAML file.
func Default() *Config {
	return &Config{
		App: App{
			Name:          "alpaca-trader",
			Env:           "paper",
			MetricsAddr:   ":9102",
			LogLevel:      "info",
			LogFile:       "trading_bot.log",
			LogMaxSizeMB:  50,
			LogMaxBackups: 5,
			LogMaxAgeDays: 14,
		},
		Alpaca: Alpaca{
			BaseURL:     "https://paper-api.alpaca.markets",
			DataURL:     "https://data.alpaca.markets",
			StreamURL:   "wss://paper-api.alpaca.markets/stream",
			Feed:        "iex",
			TimeoutSecs: 15,
		},
		Risk: Risk{
			MaxPositionSize:     0.1,
			StopLoss:            0.05,
			TakeProfit:          0.10,
			MaxDailyTrades:      10,
			MinAccountBalance:   1000,
			ConfidenceThreshold: 0.6,
		},
		Strategy: Strategy{
			Mode: "onnx",
			Params: StrategyParams{
				BuyThreshold:   0.5,
				SellThreshold:  -0.5,
				TrendThreshold: 0.01,
				TrendWindow:    30,
			},
		},
		Trading: Trading{
			Provider:         ProviderAlpaca,
			Symbols:          []string{"AAPL", "GOOGL", "MSFT", "TSLA"},
			PollIntervalSecs: 60,
			Timeframe:        "1Min",
			BarLimit:         100,
			Exits:            "off",
		},
		State: State{
			JournalFormat: "jsonl",
		},
		Paper: Paper{
			StartingCash: 100000,
			StartPrice:   100,
			Volatility:   0.002,
			Seed:         1,
		},
	}
}

// Load reads a YAML file from disk and hydrates a Config struct on top of Default.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv loads an optional .env file and lets APCA_* variables override broker settings.
func (c *Config) ApplyEnv(files ...string) {
	_ = godotenv.Load(files...) // best-effort
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Alpaca.APIKey, "APCA_API_KEY_ID")
	override(&c.Alpaca.APISecret, "APCA_API_SECRET_KEY")
	override(&c.Alpaca.BaseURL, "APCA_API_BASE_URL")
	override(&c.Alpaca.DataURL, "APCA_API_DATA_URL")
	override(&c.Alpaca.StreamURL, "APCA_API_STREAM_URL")
}

// Validate reports the first setting that would make the bot unsafe or unable to start.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}
	switch c.Trading.Provider {
	case ProviderAlpaca:
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fail("alpaca credentials missing (set APCA_API_KEY_ID and APCA_API_SECRET_KEY)")
		}
		if c.Alpaca.BaseURL == "" || c.Alpaca.DataURL == "" {
			return fail("alpaca base_url and data_url are required")
		}
	case ProviderPaper:
		if c.Paper.StartingCash <= 0 {
			return fail("paper.starting_cash must be positive")
		}
	default:
		return fail("unknown trading.provider %q", c.Trading.Provider)
	}
	if len(c.Trading.Symbols) == 0 {
		return fail("trading.symbols is empty")
	}
	if c.Trading.PollIntervalSecs <= 0 {
		return fail("trading.poll_interval_secs must be positive")
	}
	if c.Trading.BarLimit <= 0 {
		return fail("trading.bar_limit must be positive")
	}
	switch c.Trading.Exits {
	case "", "off", "independent", "bracket":
	default:
		return fail("unknown trading.exits %q", c.Trading.Exits)
	}
	r := c.Risk
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		return fail("risk.max_position_size must be in (0, 1]")
	}
	if r.StopLoss <= 0 || r.StopLoss >= 1 {
		return fail("risk.stop_loss must be in (0, 1)")
	}
	if r.TakeProfit <= 0 {
		return fail("risk.take_profit must be positive")
	}
	if r.MaxDailyTrades < 0 {
		return fail("risk.max_daily_trades must not be negative")
	}
	if r.ConfidenceThreshold < 0 {
		return fail("risk.confidence_threshold must not be negative")
	}
	p := c.Strategy.Params
	if p.SellThreshold > p.BuyThreshold {
		return fail("strategy sell_threshold %.2f above buy_threshold %.2f", p.SellThreshold, p.BuyThreshold)
	}
	if strings.EqualFold(c.Strategy.Mode, "onnx") || c.Strategy.Mode == "" {
		if c.Model.Path == "" || c.Model.ScalerPath == "" {
			return fail("model.path and model.scaler_path are required for the onnx strategy")
		}
	}
	switch c.State.JournalFormat {
	case "", "jsonl", "sqlite":
	default:
		return fail("unknown state.journal_format %q", c.State.JournalFormat)
	}
	return nil
}

// PollInterval returns the loop cadence as a duration.
func (t Trading) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSecs) * time.Second
}

// OpenBuffer returns how long to wait after the market opens before trading.
func (t Trading) OpenBuffer() time.Duration {
	return time.Duration(t.OpenBufferMins) * time.Minute
}

// Timeout returns the broker HTTP timeout.
func (a Alpaca) Timeout() time.Duration {
	if a.TimeoutSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(a.TimeoutSecs) * time.Second
}
