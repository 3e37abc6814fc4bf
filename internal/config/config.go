package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig    `yaml:"log"`
	State       StateConfig      `yaml:"state"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Feed        FeedConfig       `yaml:"feed"`
	Engine      EngineConfig     `yaml:"engine"`
	Instruments []string         `yaml:"instruments"`
	Exchanges   []ExchangeConfig `yaml:"exchanges"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Status  string `yaml:"status"`
	BaseURL string `yaml:"base_url"`
}

type FeedConfig struct {
	RESTBaseURL       string        `yaml:"rest_base_url"`
	WSURL             string        `yaml:"ws_url"`
	Timeout           time.Duration `yaml:"timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	MarketInterval    time.Duration `yaml:"market_interval"`
	OrderbookInterval time.Duration `yaml:"orderbook_interval"`
	WhaleInterval     time.Duration `yaml:"whale_interval"`
	AltPollInterval   time.Duration `yaml:"alt_poll_interval"`
	OrderbookDepth    int           `yaml:"orderbook_depth"`
}

type WeightsConfig struct {
	Flow      float64 `yaml:"flow"`
	Whale     float64 `yaml:"whale"`
	Orderbook float64 `yaml:"orderbook"`
	Funding   float64 `yaml:"funding"`
}

type EngineConfig struct {
	TimeframesMin     []int         `yaml:"timeframes_min"`
	WhaleThresholdUSD float64       `yaml:"whale_threshold_usd"`
	EvaluationWindow  time.Duration `yaml:"evaluation_window"`
	EvaluationGrace   time.Duration `yaml:"evaluation_grace"`
	MinSignalGap      time.Duration `yaml:"min_signal_gap"`
	WinThresholdPct   float64       `yaml:"win_threshold_pct"`
	RollingTTL        time.Duration `yaml:"rolling_ttl"`
	BiasHistoryTTL    time.Duration `yaml:"bias_history_ttl"`
	SampleInterval    time.Duration `yaml:"sample_interval"`
	EvaluateInterval  time.Duration `yaml:"evaluate_interval"`
	FlushDebounce     time.Duration `yaml:"flush_debounce"`
	Weights           WeightsConfig `yaml:"weights"`
}

// PrimaryExchange is the venue whose legacy blobs are migrated in place and
// whose whale consensus feed is trusted.
const PrimaryExchange = "hyperliquid"

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/market-fusion.db"
	}
	if cfg.Feed.RESTBaseURL == "" {
		cfg.Feed.RESTBaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Feed.WSURL == "" {
		cfg.Feed.WSURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 10 * time.Second
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.Feed.MarketInterval == 0 {
		cfg.Feed.MarketInterval = 60 * time.Second
	}
	if cfg.Feed.OrderbookInterval == 0 {
		cfg.Feed.OrderbookInterval = 30 * time.Second
	}
	if cfg.Feed.WhaleInterval == 0 {
		cfg.Feed.WhaleInterval = 15 * time.Second
	}
	if cfg.Feed.AltPollInterval == 0 {
		cfg.Feed.AltPollInterval = 5 * time.Second
	}
	if cfg.Feed.OrderbookDepth == 0 {
		cfg.Feed.OrderbookDepth = 10
	}
	if len(cfg.Instruments) == 0 {
		cfg.Instruments = []string{"BTC", "ETH", "SOL"}
	}
	if len(cfg.Exchanges) == 0 {
		cfg.Exchanges = []ExchangeConfig{{Name: PrimaryExchange, Status: "active"}}
	}
	if len(cfg.Engine.TimeframesMin) == 0 {
		cfg.Engine.TimeframesMin = []int{5, 15, 30, 60}
	}
	if cfg.Engine.WhaleThresholdUSD == 0 {
		cfg.Engine.WhaleThresholdUSD = 1e7
	}
	if cfg.Engine.EvaluationWindow == 0 {
		cfg.Engine.EvaluationWindow = 15 * time.Minute
	}
	if cfg.Engine.EvaluationGrace == 0 {
		cfg.Engine.EvaluationGrace = 2 * time.Minute
	}
	if cfg.Engine.MinSignalGap == 0 {
		cfg.Engine.MinSignalGap = 60 * time.Second
	}
	if cfg.Engine.WinThresholdPct == 0 {
		cfg.Engine.WinThresholdPct = 0.3
	}
	if cfg.Engine.RollingTTL == 0 {
		cfg.Engine.RollingTTL = 4 * time.Hour
	}
	if cfg.Engine.BiasHistoryTTL == 0 {
		cfg.Engine.BiasHistoryTTL = 15 * time.Minute
	}
	if cfg.Engine.SampleInterval == 0 {
		cfg.Engine.SampleInterval = 60 * time.Second
	}
	if cfg.Engine.EvaluateInterval == 0 {
		cfg.Engine.EvaluateInterval = 60 * time.Second
	}
	if cfg.Engine.FlushDebounce == 0 {
		cfg.Engine.FlushDebounce = 2 * time.Second
	}
	if cfg.Engine.Weights == (WeightsConfig{}) {
		cfg.Engine.Weights = WeightsConfig{Flow: 5, Whale: 3, Orderbook: 1, Funding: 1}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Instruments) == 0 {
		return errors.New("instruments must not be empty")
	}
	for _, tf := range cfg.Engine.TimeframesMin {
		switch tf {
		case 5, 15, 30, 60:
		default:
			return fmt.Errorf("unsupported timeframe %dm", tf)
		}
	}
	hasActive := false
	for _, ex := range cfg.Exchanges {
		switch ex.Status {
		case "active", "api_required", "coming_soon":
		default:
			return fmt.Errorf("exchange %s has invalid status %q", ex.Name, ex.Status)
		}
		if ex.Status == "active" {
			hasActive = true
		}
	}
	if !hasActive {
		return errors.New("at least one exchange must be active")
	}
	if cfg.Engine.WinThresholdPct <= 0 {
		return errors.New("engine.win_threshold_pct must be > 0")
	}
	if cfg.Engine.EvaluationWindow <= 0 || cfg.Engine.EvaluationGrace < 0 {
		return errors.New("engine evaluation window and grace must be positive")
	}
	if cfg.Engine.Weights.Flow <= 0 {
		return errors.New("engine.weights.flow must be > 0")
	}
	return nil
}

// ActiveExchanges returns the names of exchanges that participate in fusion.
func (c *Config) ActiveExchanges() []string {
	var out []string
	for _, ex := range c.Exchanges {
		if ex.Status == "active" {
			out = append(out, ex.Name)
		}
	}
	return out
}

// ExchangeNames returns every configured exchange regardless of status.
func (c *Config) ExchangeNames() []string {
	out := make([]string, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		out = append(out, ex.Name)
	}
	return out
}
