package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"openbook-mm/oracle"
)

// PricingMode 参考价来源
type PricingMode string

const (
	PricingBook   PricingMode = "book"
	PricingOracle PricingMode = "oracle"
)

// ParsePricingMode 解析配置中的模式名，空值为 book
func ParsePricingMode(s string) (PricingMode, error) {
	switch PricingMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PricingBook:
		return PricingBook, nil
	case PricingOracle:
		return PricingOracle, nil
	default:
		return "", fmt.Errorf("unknown pricing mode %q: %w", s, ErrInvalidParams)
	}
}

// BookStrategy 以订单簿最优价报价
type BookStrategy struct {
	*Maker
}

func NewBookStrategy(cfg Config, deps Deps) (*BookStrategy, error) {
	m, err := newMaker(cfg, BookPricing{}, deps)
	if err != nil {
		return nil, err
	}
	return &BookStrategy{Maker: m}, nil
}

// OracleConfig 预言机报价参数
type OracleConfig struct {
	Symbol   string
	Notional float64
	UseBand  bool
	Timeout  time.Duration
}

// OracleStrategy 以预言机价格报价，预言机失败的 tick 回退到订单簿
type OracleStrategy struct {
	*Maker
	pricing *OraclePricing
}

func NewOracleStrategy(cfg Config, oc OracleConfig, source oracle.PriceOracle, deps Deps) (*OracleStrategy, error) {
	if source == nil {
		return nil, errors.New("strategy: oracle required")
	}
	if oc.Symbol == "" {
		return nil, fmt.Errorf("%s: oracle symbol required: %w", cfg.Name, ErrInvalidParams)
	}
	if oc.Notional <= 0 {
		oc.Notional = 1000
	}
	pricing := &OraclePricing{
		Oracle:   source,
		Symbol:   oc.Symbol,
		Notional: oc.Notional,
		UseBand:  oc.UseBand,
		Timeout:  oc.Timeout,
		Fallback: BookPricing{},
		Logger:   deps.Logger,
	}
	m, err := newMaker(cfg, pricing, deps)
	if err != nil {
		return nil, err
	}
	pricing.Logger = m.log
	return &OracleStrategy{Maker: m, pricing: pricing}, nil
}

// Symbol 返回预言机查询的交易对
func (s *OracleStrategy) Symbol() string { return s.pricing.Symbol }

// Factory 按定价模式创建策略实例，共享同一组依赖
type Factory struct {
	deps   Deps
	oracle oracle.PriceOracle
}

func NewFactory(deps Deps, source oracle.PriceOracle) *Factory {
	deps.IDs = nil
	return &Factory{deps: deps, oracle: source}
}

// Create 创建策略。每个实例拥有自己的 client id 生成器。
func (f *Factory) Create(mode PricingMode, cfg Config, oc OracleConfig) (Strategy, error) {
	deps := f.deps
	if deps.Logger != nil {
		deps.Logger = deps.Logger.Component("strategy")
	}
	switch mode {
	case PricingBook, "":
		return NewBookStrategy(cfg, deps)
	case PricingOracle:
		if f.oracle == nil {
			return nil, fmt.Errorf("%s: oracle pricing without an oracle configured: %w", cfg.Name, ErrInvalidParams)
		}
		return NewOracleStrategy(cfg, oc, f.oracle, deps)
	default:
		return nil, fmt.Errorf("unknown pricing mode %q: %w", mode, ErrInvalidParams)
	}
}
