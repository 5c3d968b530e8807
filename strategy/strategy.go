package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrSubmission 交易被拒绝或超时。该侧状态保持不变，下一个 tick 重新计算后重试。
var ErrSubmission = errors.New("strategy: submission failed")

// ErrMarketDisabled 市场已禁用或关闭，不再报价
var ErrMarketDisabled = errors.New("strategy: market disabled")

// ErrInvalidParams 参数校验失败
var ErrInvalidParams = errors.New("strategy: invalid params")

// Strategy 由 engine.Manager 管理的做市实例
type Strategy interface {
	ID() uuid.UUID
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Status() Status
	ApplyParams(p Params) error
}

// LoopState 循环状态
type LoopState int

const (
	StateIdle LoopState = iota
	StateReloading
	StatePricingDecision
	StateRequoting
	StateHolding
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReloading:
		return "RELOADING"
	case StatePricingDecision:
		return "PRICING_DECISION"
	case StateRequoting:
		return "REQUOTING"
	case StateHolding:
		return "HOLDING"
	default:
		return "UNKNOWN"
	}
}

// Params 可热更新的报价参数
type Params struct {
	BidMultiplier float64 `yaml:"bidMultiplier"` // 低于 1.0
	AskMultiplier float64 `yaml:"askMultiplier"` // 高于 1.0
	BidSize       float64 `yaml:"bidSize"`
	AskSize       float64 `yaml:"askSize"`
	MinChange     float64 `yaml:"minChange"` // 触发重新报价的最小漂移
}

// DefaultParams 返回默认参数
func DefaultParams() Params {
	return Params{
		BidMultiplier: 0.9987,
		AskMultiplier: 1.0012,
		BidSize:       0.1,
		AskSize:       0.1,
		MinChange:     0.0010,
	}
}

// Validate 校验参数
func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"bidMultiplier": p.BidMultiplier,
		"askMultiplier": p.AskMultiplier,
		"bidSize":       p.BidSize,
		"askSize":       p.AskSize,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%s %v: %w", name, v, ErrInvalidParams)
		}
	}
	if p.BidMultiplier >= p.AskMultiplier {
		return fmt.Errorf("bidMultiplier %v >= askMultiplier %v: %w", p.BidMultiplier, p.AskMultiplier, ErrInvalidParams)
	}
	if math.IsNaN(p.MinChange) || p.MinChange < 0 || p.MinChange >= 1 {
		return fmt.Errorf("minChange %v: %w", p.MinChange, ErrInvalidParams)
	}
	return nil
}

// Status 只读快照，供 engine 与 HTTP 层展示
type Status struct {
	ID          uuid.UUID
	Name        string
	Pricing     string
	Running     bool
	State       LoopState
	BestBid     float64
	BestAsk     float64
	LastBid     float64
	LastAsk     float64
	BidOrderID  uint64
	AskOrderID  uint64
	Ticks       int64
	TickErrors  int64
	Requotes    int64
	LastTickAt  time.Time
	LastTickErr string
	Params      Params
}
