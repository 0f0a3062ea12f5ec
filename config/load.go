package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"position-engine/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string          `yaml:"env"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Symbol    SymbolConfig    `yaml:"symbol"`
	Engine    EngineConfig    `yaml:"engine"`
	Position  PositionConfig  `yaml:"position"`
	Fees      FeeConfig       `yaml:"fees"`
	Risk      RiskConfig      `yaml:"risk"`
	Exit      ExitConfig      `yaml:"exit"`
	Execution ExecutionConfig `yaml:"execution"`
	Signal    SignalConfig    `yaml:"signal"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Alert     AlertConfig     `yaml:"alert"`
}

type ExchangeConfig struct {
	ID           string  `yaml:"id"`
	BaseURL      string  `yaml:"baseURL"`
	WSURL        string  `yaml:"wsURL"`
	APIKey       string  `yaml:"apiKey"`
	APISecret    string  `yaml:"apiSecret"`
	Paper        bool    `yaml:"paper"`
	RecvWindowMs int     `yaml:"recvWindowMs"`
	RESTRate     float64 `yaml:"restRate"`  // 每秒请求数
	RESTBurst    int     `yaml:"restBurst"` // 令牌桶容量
}

// SymbolConfig 交易对；精度字段只在 paper 模式使用，实盘从 exchangeInfo 拉取。
type SymbolConfig struct {
	Name        string  `yaml:"name"`
	Base        string  `yaml:"base"`
	Quote       string  `yaml:"quote"`
	TickSize    float64 `yaml:"tickSize"`
	StepSize    float64 `yaml:"stepSize"`
	MinQty      float64 `yaml:"minQty"`
	MinNotional float64 `yaml:"minNotional"`
}

type EngineConfig struct {
	PollIntervalMs int `yaml:"pollIntervalMs"`
	// StartEquity 仅 paper 模式使用，作为初始报价币余额
	StartEquity float64 `yaml:"startEquity"`
}

type PositionConfig struct {
	TakeProfitPct float64   `yaml:"takeProfitPct"` // 4.9 表示 4.9%
	StopLossPct   float64   `yaml:"stopLossPct"`
	Ladder        []float64 `yaml:"ladder"`
	AlwaysStage   bool      `yaml:"alwaysStage"`
	AllowShort    bool      `yaml:"allowShort"`
}

type FeeConfig struct {
	MakerRate  float64 `yaml:"makerRate"`
	TakerRate  float64 `yaml:"takerRate"`
	EdgeBuffer float64 `yaml:"edgeBuffer"`
	EntryRole  string  `yaml:"entryRole"` // maker / taker
	ExitRole   string  `yaml:"exitRole"`
}

type RiskConfig struct {
	DailyLossLimit       float64 `yaml:"dailyLossLimit"`
	MaxSpreadBps         float64 `yaml:"maxSpreadBps"`
	MaxConsecutiveLosses int     `yaml:"maxConsecutiveLosses"`
}

type ExitConfig struct {
	TPToleranceBps  float64 `yaml:"tpToleranceBps"`
	SLToleranceBps  float64 `yaml:"slToleranceBps"`
	MaxExitAttempts int     `yaml:"maxExitAttempts"`
}

type ExecutionConfig struct {
	PriceImprovePct float64 `yaml:"priceImprovePct"`
	ChaseMs         int     `yaml:"chaseMs"`
	MakerTimeoutMs  int     `yaml:"makerTimeoutMs"`
	StatusPollMs    int     `yaml:"statusPollMs"`
	MakerRetries    int     `yaml:"makerRetries"`
	RetryAttempts   int     `yaml:"retryAttempts"`
	RetryBackoffMs  int     `yaml:"retryBackoffMs"`
}

// SignalConfig 入场信号文件；为空表示不开新仓。
type SignalConfig struct {
	File    string `yaml:"file"`
	OneShot bool   `yaml:"oneShot"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type AlertConfig struct {
	ThrottleSec int `yaml:"throttleSec"`
}

// Default 返回带默认值的配置，YAML 中出现的字段覆盖默认值。
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Exchange: ExchangeConfig{
			ID:           "binance",
			RecvWindowMs: 5000,
			RESTRate:     10,
			RESTBurst:    20,
		},
		Engine: EngineConfig{PollIntervalMs: 5000},
		Position: PositionConfig{
			TakeProfitPct: 4.9,
			StopLossPct:   13.44,
			Ladder:        []float64{0.70, 0.75, 0.80},
			AlwaysStage:   true,
		},
		Fees: FeeConfig{
			MakerRate:  0.001,
			TakerRate:  0.001,
			EdgeBuffer: 1.5,
			EntryRole:  "maker",
			ExitRole:   "maker",
		},
		Risk: RiskConfig{DailyLossLimit: 0.06},
		Exit: ExitConfig{TPToleranceBps: 5, SLToleranceBps: 5, MaxExitAttempts: 3},
		Execution: ExecutionConfig{
			PriceImprovePct: 0.0002,
			ChaseMs:         10000,
			MakerTimeoutMs:  20000,
			StatusPollMs:    1000,
			MakerRetries:    3,
			RetryAttempts:   3,
			RetryBackoffMs:  500,
		},
		Log:   logger.DefaultConfig(),
		Alert: AlertConfig{ThrottleSec: 300},
	}
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parse(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("PE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("PE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	return cfg, Validate(cfg)
}
