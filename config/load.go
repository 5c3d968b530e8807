package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env        string           `yaml:"env"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Dex        DexConfig        `yaml:"dex"`
	Cache      CacheConfig      `yaml:"cache"`
	Decimals   DecimalsConfig   `yaml:"decimals"`
	Oracle     OracleConfig     `yaml:"oracle"`
	HotReload  HotReloadConfig  `yaml:"hotReload"`
	Alert      AlertConfig      `yaml:"alert"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

type LogConfig struct {
	Level      string   `yaml:"level"`
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"outputFile"`
	ErrorFile  string   `yaml:"errorFile"`
	Format     string   `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// LedgerConfig 链上访问。rpcEndpoint / wsEndpoint / keypairPath 可由环境变量覆盖。
type LedgerConfig struct {
	RPCEndpoint       string  `yaml:"rpcEndpoint"`
	WSEndpoint        string  `yaml:"wsEndpoint"`
	KeypairPath       string  `yaml:"keypairPath"`
	Commitment        string  `yaml:"commitment"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
	SkipPreflight     bool    `yaml:"skipPreflight"`
	MaxRetries        uint    `yaml:"maxRetries"`
	Confirm           bool    `yaml:"confirm"`
	ConfirmIntervalMs int     `yaml:"confirmIntervalMs"`
	CallTimeoutMs     int     `yaml:"callTimeoutMs"`
	DryRun            bool    `yaml:"dryRun"`
}

type DexConfig struct {
	ProgramID string `yaml:"programId"`
}

// CacheConfig 订单簿缓存。depth 为 0 时保留全部订单。
type CacheConfig struct {
	TTLMs  int  `yaml:"ttlMs"`
	Depth  int  `yaml:"depth"`
	Stream bool `yaml:"stream"` // 通过 wsEndpoint 订阅账户推送
}

type DecimalsConfig struct {
	LookupIntervalMs int              `yaml:"lookupIntervalMs"`
	Seed             map[string]uint8 `yaml:"seed"` // mint -> decimals
}

// OracleConfig kind: none | static | pyth
type OracleConfig struct {
	Kind         string             `yaml:"kind"`
	StaticPrices map[string]float64 `yaml:"staticPrices"`
	PythFeeds    map[string]string  `yaml:"pythFeeds"` // symbol -> price account
}

type HotReloadConfig struct {
	Enabled    bool `yaml:"enabled"`
	CooldownMs int  `yaml:"cooldownMs"`
}

// AlertConfig 策略状态告警，写入日志
type AlertConfig struct {
	ThrottleMs      int `yaml:"throttleMs"`
	CheckIntervalMs int `yaml:"checkIntervalMs"`
}

// StrategyConfig 单个做市实例
type StrategyConfig struct {
	Name        string       `yaml:"name"`
	Market      string       `yaml:"market"`
	Pricing     string       `yaml:"pricing"` // book | oracle
	Symbol      string       `yaml:"symbol"`
	Notional    float64      `yaml:"notional"`
	UseBand     bool         `yaml:"useBand"`
	OpenOrders  string       `yaml:"openOrders"`
	BaseWallet  string       `yaml:"baseWallet"`
	QuoteWallet string       `yaml:"quoteWallet"`
	Referrer    string       `yaml:"referrer"`
	IntervalMs  int          `yaml:"intervalMs"`
	WarmupMs    int          `yaml:"warmupMs"` // 负数关闭预热
	Params      ParamsConfig `yaml:"params"`
	Bundle      BundleConfig `yaml:"bundle"`
}

// ParamsConfig 可热更新的报价参数
type ParamsConfig struct {
	BidMultiplier float64 `yaml:"bidMultiplier"`
	AskMultiplier float64 `yaml:"askMultiplier"`
	BidSize       float64 `yaml:"bidSize"`
	AskSize       float64 `yaml:"askSize"`
	MinChange     float64 `yaml:"minChange"`
}

type BundleConfig struct {
	ComputeUnitPrice   uint64 `yaml:"computeUnitPrice"`
	ComputeUnitLimit   uint32 `yaml:"computeUnitLimit"`
	ConsumeEventsLimit uint16 `yaml:"consumeEventsLimit"`
	OrderLimit         uint16 `yaml:"orderLimit"`
	MaxQuoteMarginLots uint64 `yaml:"maxQuoteMarginLots"`
	Memo               string `yaml:"memo"`
}

// Interval 报价周期
func (s StrategyConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

// Warmup 首个 tick 前的预热时间
func (s StrategyConfig) Warmup() time.Duration {
	if s.WarmupMs < 0 {
		return 0
	}
	return time.Duration(s.WarmupMs) * time.Millisecond
}

func (l LedgerConfig) CallTimeout() time.Duration {
	return time.Duration(l.CallTimeoutMs) * time.Millisecond
}

// Load reads YAML config from path, applies defaults and validates it.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// LoadWithEnvOverrides loads config then overrides endpoints and the keypair path from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MM_RPC_ENDPOINT"); v != "" {
		cfg.Ledger.RPCEndpoint = v
	}
	if v := os.Getenv("MM_WS_ENDPOINT"); v != "" {
		cfg.Ledger.WSEndpoint = v
	}
	if v := os.Getenv("MM_KEYPAIR_PATH"); v != "" {
		cfg.Ledger.KeypairPath = v
	}
	return cfg, Validate(cfg)
}

func parse(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

// ApplyDefaults fills zero values with the defaults.
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if len(cfg.Log.Outputs) == 0 {
		cfg.Log.Outputs = []string{"stdout"}
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9101"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "mm"
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = "openbook"
	}

	l := &cfg.Ledger
	if l.Commitment == "" {
		l.Commitment = "confirmed"
	}
	if l.RequestsPerSecond <= 0 {
		l.RequestsPerSecond = 10
	}
	if l.Burst <= 0 {
		l.Burst = 5
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = 3
	}
	if l.ConfirmIntervalMs <= 0 {
		l.ConfirmIntervalMs = 500
	}
	if l.CallTimeoutMs <= 0 {
		l.CallTimeoutMs = 15000
	}

	if cfg.Cache.TTLMs <= 0 {
		cfg.Cache.TTLMs = 1000
	}
	if cfg.Decimals.LookupIntervalMs <= 0 {
		cfg.Decimals.LookupIntervalMs = 100
	}
	if cfg.Oracle.Kind == "" {
		cfg.Oracle.Kind = "none"
	}
	if cfg.HotReload.CooldownMs <= 0 {
		cfg.HotReload.CooldownMs = 5000
	}
	if cfg.Alert.ThrottleMs <= 0 {
		cfg.Alert.ThrottleMs = 300_000
	}
	if cfg.Alert.CheckIntervalMs <= 0 {
		cfg.Alert.CheckIntervalMs = 10_000
	}

	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		if s.Pricing == "" {
			s.Pricing = "book"
		}
		if s.Notional <= 0 {
			s.Notional = 1000
		}
		if s.IntervalMs <= 0 {
			s.IntervalMs = 5000
		}
		if s.WarmupMs == 0 {
			s.WarmupMs = 2000
		}
		applyParamDefaults(&s.Params)
		applyBundleDefaults(&s.Bundle)
	}
}

func applyParamDefaults(p *ParamsConfig) {
	if p.BidMultiplier == 0 {
		p.BidMultiplier = 0.9987
	}
	if p.AskMultiplier == 0 {
		p.AskMultiplier = 1.0012
	}
	if p.BidSize == 0 {
		p.BidSize = 0.1
	}
	if p.AskSize == 0 {
		p.AskSize = 0.1
	}
	if p.MinChange == 0 {
		p.MinChange = 0.0010
	}
}

func applyBundleDefaults(b *BundleConfig) {
	if b.ComputeUnitPrice == 0 {
		b.ComputeUnitPrice = 151_420
	}
	if b.ComputeUnitLimit == 0 {
		b.ComputeUnitLimit = 54_800
	}
	if b.ConsumeEventsLimit == 0 {
		b.ConsumeEventsLimit = 5
	}
	if b.OrderLimit == 0 {
		b.OrderLimit = 5
	}
	if b.MaxQuoteMarginLots == 0 {
		b.MaxQuoteMarginLots = 1
	}
	if b.Memo == "" {
		b.Memo = "Liquidity by Arcana"
	}
}
