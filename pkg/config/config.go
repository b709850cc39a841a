package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"trading-assistant/pkg/secrets"
)

// EnvPrefix is prepended to every environment override, e.g. TA_API_ADDR.
const EnvPrefix = "TA"

// Config holds every recognised option of the trading assistant core.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Transport  TransportConfig  `yaml:"transport"`
	Connection ConnectionConfig `yaml:"connection"`
	Chart      ChartConfig      `yaml:"chart"`
	Trading    TradingConfig    `yaml:"trading"`
	Indicators []IndicatorSpec  `yaml:"indicators" ignored:"true"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Sim        SimConfig        `yaml:"sim"`
}

type LogConfig struct {
	Level   string `yaml:"level" envconfig:"LEVEL"`
	Console bool   `yaml:"console" envconfig:"CONSOLE"`
}

// TransportConfig selects the host binding. Kind is "ws" or "sim".
type TransportConfig struct {
	Kind        string `yaml:"kind" envconfig:"KIND"`
	URL         string `yaml:"url" envconfig:"URL"`
	ClientName  string `yaml:"client_name" envconfig:"CLIENT_NAME"`
	TokenSecret string `yaml:"token_secret" envconfig:"TOKEN_SECRET"`
}

type ConnectionConfig struct {
	ConnectTimeoutMs     int `yaml:"connect_timeout_ms" envconfig:"CONNECT_TIMEOUT_MS"`
	ReconnectIntervalMs  int `yaml:"reconnect_interval_ms" envconfig:"RECONNECT_INTERVAL_MS"`
	MaxReconnectDelayMs  int `yaml:"max_reconnect_delay_ms" envconfig:"MAX_RECONNECT_DELAY_MS"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" envconfig:"MAX_RECONNECT_ATTEMPTS"`
	HeartbeatIntervalMs  int `yaml:"heartbeat_interval_ms" envconfig:"HEARTBEAT_INTERVAL_MS"`
	RefreshTimeoutMs     int `yaml:"refresh_timeout_ms" envconfig:"REFRESH_TIMEOUT_MS"`
}

type ChartConfig struct {
	MaxPoints        int    `yaml:"max_points" envconfig:"MAX_POINTS"`
	RedrawIntervalMs int    `yaml:"redraw_interval_ms" envconfig:"REDRAW_INTERVAL_MS"`
	DefaultSymbol    string `yaml:"default_symbol" envconfig:"DEFAULT_SYMBOL"`
	DefaultTimeframe string `yaml:"default_timeframe" envconfig:"DEFAULT_TIMEFRAME"`
}

type TradingConfig struct {
	DefaultVolume          float64 `yaml:"default_volume" envconfig:"DEFAULT_VOLUME"`
	MinVolume              float64 `yaml:"min_volume" envconfig:"MIN_VOLUME"`
	MaxVolume              float64 `yaml:"max_volume" envconfig:"MAX_VOLUME"`
	VolumeStep             float64 `yaml:"volume_step" envconfig:"VOLUME_STEP"`
	DefaultRiskPercent     float64 `yaml:"default_risk_percent" envconfig:"DEFAULT_RISK_PERCENT"`
	MaxRiskPercent         float64 `yaml:"max_risk_percent" envconfig:"MAX_RISK_PERCENT"`
	MaxPositions           int     `yaml:"max_positions" envconfig:"MAX_POSITIONS"`
	ConfirmVolumeThreshold float64 `yaml:"confirm_volume_threshold" envconfig:"CONFIRM_VOLUME_THRESHOLD"`
	ConfirmTimeoutMs       int     `yaml:"confirm_timeout_ms" envconfig:"CONFIRM_TIMEOUT_MS"`
	AutoConfirm            bool    `yaml:"auto_confirm" envconfig:"AUTO_CONFIRM"`
	ContractSize           float64 `yaml:"contract_size" envconfig:"CONTRACT_SIZE"`
	Leverage               float64 `yaml:"leverage" envconfig:"LEVERAGE"`
	OrdersPerSecond        float64 `yaml:"orders_per_second" envconfig:"ORDERS_PER_SECOND"`
}

// IndicatorSpec configures one chart overlay. Kind is sma, ema or bollinger.
type IndicatorSpec struct {
	Name   string  `yaml:"name"`
	Kind   string  `yaml:"kind"`
	Period int     `yaml:"period"`
	K      float64 `yaml:"k"`
}

type APIConfig struct {
	Addr      string `yaml:"addr" envconfig:"ADDR"`
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path" envconfig:"DB_PATH"`
}

// SimConfig drives the in-process simulated host.
type SimConfig struct {
	TickIntervalMs int     `yaml:"tick_interval_ms" envconfig:"TICK_INTERVAL_MS"`
	InitialBalance float64 `yaml:"initial_balance" envconfig:"INITIAL_BALANCE"`
	SlippageBps    float64 `yaml:"slippage_bps" envconfig:"SLIPPAGE_BPS"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:       LogConfig{Level: "info"},
		Transport: TransportConfig{Kind: "sim", URL: "ws://127.0.0.1:9001/ws", ClientName: "trading-assistant"},
		Connection: ConnectionConfig{
			ConnectTimeoutMs:     10000,
			ReconnectIntervalMs:  1000,
			MaxReconnectDelayMs:  60000,
			MaxReconnectAttempts: 5,
			HeartbeatIntervalMs:  30000,
			RefreshTimeoutMs:     5000,
		},
		Chart: ChartConfig{
			MaxPoints:        500,
			RedrawIntervalMs: 250,
			DefaultSymbol:    "EURUSD",
			DefaultTimeframe: "M1",
		},
		Trading: TradingConfig{
			DefaultVolume:          0.1,
			MinVolume:              0.01,
			MaxVolume:              10,
			VolumeStep:             0.01,
			DefaultRiskPercent:     1,
			MaxRiskPercent:         5,
			MaxPositions:           5,
			ConfirmVolumeThreshold: 1,
			ConfirmTimeoutMs:       30000,
			ContractSize:           100000,
			Leverage:               100,
			OrdersPerSecond:        5,
		},
		Indicators: []IndicatorSpec{
			{Name: "sma20", Kind: "sma", Period: 20},
			{Name: "ema50", Kind: "ema", Period: 50},
			{Name: "bb20", Kind: "bollinger", Period: 20, K: 2},
		},
		API:     APIConfig{Addr: ":8080"},
		Storage: StorageConfig{DBPath: "./data/assistant.db"},
		Sim:     SimConfig{TickIntervalMs: 500, InitialBalance: 10000, SlippageBps: 1},
	}
}

// Load merges defaults, the optional YAML file at path, .env and TA_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(cfg.Transport.Kind))
	if err := unseal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// unseal opens ENC[vN]: values of the secret fields with the master key ring.
// The ring is only required when a sealed value is present.
func unseal(cfg *Config) error {
	fields := map[string]*string{
		"transport.token_secret": &cfg.Transport.TokenSecret,
		"api.jwt_secret":         &cfg.API.JWTSecret,
	}
	var ring *secrets.Keyring
	for name, v := range fields {
		if !secrets.IsSealed(*v) {
			continue
		}
		if ring == nil {
			var err error
			if ring, err = secrets.FromEnv(); err != nil {
				return fmt.Errorf("%s is sealed: %w", name, err)
			}
		}
		plain, err := ring.Open(*v)
		if err != nil {
			return fmt.Errorf("unseal %s: %w", name, err)
		}
		*v = plain
	}
	return nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Validate reports every inconsistent option, joined.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport.Kind {
	case "ws", "sim":
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q: want ws or sim", c.Transport.Kind))
	}
	if c.Transport.Kind == "ws" && c.Transport.URL == "" {
		errs = append(errs, errors.New("transport.url is required for ws transport"))
	}
	cc := c.Connection
	if cc.ConnectTimeoutMs <= 0 || cc.ReconnectIntervalMs <= 0 || cc.HeartbeatIntervalMs <= 0 {
		errs = append(errs, errors.New("connection intervals must be positive"))
	}
	if cc.MaxReconnectAttempts < 1 {
		errs = append(errs, errors.New("connection.max_reconnect_attempts must be at least 1"))
	}
	if c.Chart.MaxPoints < 2 {
		errs = append(errs, errors.New("chart.max_points must be at least 2"))
	}
	if c.Chart.RedrawIntervalMs <= 0 {
		errs = append(errs, errors.New("chart.redraw_interval_ms must be positive"))
	}
	t := c.Trading
	if t.MinVolume <= 0 || t.MinVolume > t.MaxVolume {
		errs = append(errs, fmt.Errorf("trading volume range [%g, %g] is invalid", t.MinVolume, t.MaxVolume))
	}
	if t.DefaultVolume < t.MinVolume || t.DefaultVolume > t.MaxVolume {
		errs = append(errs, fmt.Errorf("trading.default_volume %g outside [%g, %g]", t.DefaultVolume, t.MinVolume, t.MaxVolume))
	}
	if t.MaxRiskPercent <= 0 || t.DefaultRiskPercent > t.MaxRiskPercent {
		errs = append(errs, errors.New("trading risk percents are invalid"))
	}
	if t.MaxPositions < 1 {
		errs = append(errs, errors.New("trading.max_positions must be at least 1"))
	}
	if t.ContractSize <= 0 || t.Leverage <= 0 {
		errs = append(errs, errors.New("trading.contract_size and trading.leverage must be positive"))
	}
	for _, ind := range c.Indicators {
		if ind.Period < 1 {
			errs = append(errs, fmt.Errorf("indicator %q: period must be positive", ind.Name))
		}
	}
	return errors.Join(errs...)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c ConnectionConfig) ConnectTimeout() time.Duration    { return ms(c.ConnectTimeoutMs) }
func (c ConnectionConfig) ReconnectInterval() time.Duration { return ms(c.ReconnectIntervalMs) }
func (c ConnectionConfig) MaxReconnectDelay() time.Duration { return ms(c.MaxReconnectDelayMs) }
func (c ConnectionConfig) HeartbeatInterval() time.Duration { return ms(c.HeartbeatIntervalMs) }
func (c ConnectionConfig) RefreshTimeout() time.Duration    { return ms(c.RefreshTimeoutMs) }
func (c ChartConfig) RedrawInterval() time.Duration         { return ms(c.RedrawIntervalMs) }
func (t TradingConfig) ConfirmTimeout() time.Duration       { return ms(t.ConfirmTimeoutMs) }
func (s SimConfig) TickInterval() time.Duration             { return ms(s.TickIntervalMs) }
