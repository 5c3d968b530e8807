package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"openbook-mm/dex"
	"openbook-mm/infrastructure/logger"
	"openbook-mm/ledger"
	"openbook-mm/market"
	"openbook-mm/order"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultWarmup      = 2 * time.Second
	DefaultCallTimeout = 15 * time.Second
)

// Loader 重新加载市场快照（market.Loader）
type Loader interface {
	Load(ctx context.Context, address solana.PublicKey) (*market.Snapshot, error)
}

// Submitter 提交交易（ledger.Provider）
type Submitter interface {
	SubmitTransaction(ctx context.Context, bundle ledger.Bundle) (solana.Signature, error)
}

// Metrics 由 monitor.Monitor 实现
type Metrics interface {
	RecordTick(strategy string, took time.Duration, err error)
	RecordTickOverrun(strategy string)
	RecordRequote(strategy, side string, price float64)
	RecordHold(strategy, side string)
	RecordSubmitFailure(strategy, side string)
	UpdateBestPrice(strategy, side string, price float64)
}

// Config 单个做市实例的配置
type Config struct {
	Name        string
	Market      solana.PublicKey
	Accounts    order.Accounts
	Bundle      order.BundleConfig
	Params      Params
	Interval    time.Duration
	Warmup      time.Duration
	CallTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Warmup < 0 {
		c.Warmup = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Bundle == (order.BundleConfig{}) {
		c.Bundle = order.DefaultBundleConfig()
	}
	if c.Params == (Params{}) {
		c.Params = DefaultParams()
	}
	if c.Accounts.ProgramID.IsZero() {
		c.Accounts.ProgramID = dex.DefaultProgramID
	}
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidParams)
	}
	if c.Market.IsZero() {
		return fmt.Errorf("%s: market address required: %w", c.Name, ErrInvalidParams)
	}
	if c.Accounts.OpenOrders.IsZero() || c.Accounts.Owner.IsZero() ||
		c.Accounts.BaseWallet.IsZero() || c.Accounts.QuoteWallet.IsZero() {
		return fmt.Errorf("%s: open orders, owner and wallets required: %w", c.Name, ErrInvalidParams)
	}
	return c.Params.Validate()
}

// Deps 外部依赖
type Deps struct {
	Loader    Loader
	Submitter Submitter
	Logger    *logger.Logger
	Metrics   Metrics
	// IDs 为空时按实例 uuid 新建
	IDs *order.ClientIDGenerator
}

// Maker 报价循环：Idle → Reloading → PricingDecision → (Requoting | Holding) → Idle。
// 每个实例一个 goroutine，tick 严格串行。
type Maker struct {
	id        uuid.UUID
	cfg       Config
	pricing   PriceSource
	loader    Loader
	submitter Submitter
	log       *logger.Logger
	metrics   Metrics
	ids       *order.ClientIDGenerator

	// 只在 tick 内读写
	state    State
	warmedUp bool

	mu     sync.RWMutex
	status Status
	staged *Params

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newMaker(cfg Config, pricing PriceSource, deps Deps) (*Maker, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Loader == nil || deps.Submitter == nil {
		return nil, errors.New("strategy: loader and submitter required")
	}
	id := uuid.New()
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	ids := deps.IDs
	if ids == nil {
		ids = order.NewClientIDGenerator(id, 0)
	}
	m := &Maker{
		id:        id,
		cfg:       cfg,
		pricing:   pricing,
		loader:    deps.Loader,
		submitter: deps.Submitter,
		log: log.WithFields(map[string]interface{}{
			"strategy": cfg.Name,
			"pricing":  pricing.Name(),
		}),
		metrics: metrics,
		ids:     ids,
		state:   newState(cfg.Params),
	}
	m.status = Status{ID: id, Name: cfg.Name, Pricing: pricing.Name(), State: StateIdle, Params: cfg.Params}
	return m, nil
}

func (m *Maker) ID() uuid.UUID { return m.id }

func (m *Maker) Name() string { return m.cfg.Name }

// Start 启动循环 goroutine。ctx 取消或调用 Stop 后循环退出，进行中的 tick 会执行完。
func (m *Maker) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done != nil {
		return fmt.Errorf("strategy %s already running", m.cfg.Name)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.mu.Lock()
	m.status.Running = true
	m.mu.Unlock()

	m.log.Info("strategy starting",
		zap.Stringer("market", m.cfg.Market),
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("warmup", m.cfg.Warmup))
	go m.run(loopCtx, m.done)
	return nil
}

// Stop 等待当前 tick 结束后返回，可重复调用
func (m *Maker) Stop() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.done == nil {
		return nil
	}
	m.cancel()
	<-m.done
	m.done, m.cancel = nil, nil

	m.mu.Lock()
	m.status.Running = false
	m.status.State = StateIdle
	m.mu.Unlock()
	m.log.Info("strategy stopped")
	return nil
}

// Status 返回只读快照
func (m *Maker) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// ApplyParams 暂存新参数，下一个 tick 开始时生效
func (m *Maker) ApplyParams(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.cfg.Name, err)
	}
	m.mu.Lock()
	m.staged = &p
	m.mu.Unlock()
	return nil
}

func (m *Maker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		_ = m.tick(ctx)

		wait := m.cfg.Interval - time.Since(start)
		if wait <= 0 {
			m.log.Warn("tick overran interval, starting next tick now",
				zap.Duration("took", time.Since(start)),
				zap.Duration("interval", m.cfg.Interval))
			m.metrics.RecordTickOverrun(m.cfg.Name)
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick 执行一轮决策。tick 的上下文与 loopCtx 的取消解绑，只受单次调用超时约束。
// 第一次成功加载后先预热，预热结束重新加载再做首个决策；加载失败的 tick 不算预热。
func (m *Maker) tick(loopCtx context.Context) (err error) {
	start := time.Now()
	ctx := context.WithoutCancel(loopCtx)
	defer func() { m.finishTick(start, err) }()

	m.applyStaged()

	m.setState(StateReloading)
	snap, err := m.reload(ctx)
	if err != nil {
		m.log.Error("reload failed", zap.Error(err))
		return err
	}

	if !m.warmedUp {
		if m.cfg.Warmup > 0 {
			m.log.Info("warming up before first decision", zap.Duration("warmup", m.cfg.Warmup))
			timer := time.NewTimer(m.cfg.Warmup)
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			m.warmedUp = true
			if snap, err = m.reload(ctx); err != nil {
				m.log.Error("reload after warmup failed", zap.Error(err))
				return err
			}
		}
		m.warmedUp = true
	}

	if snap.Market.Disabled() {
		m.log.Warn("market disabled, not quoting", zap.Stringer("flags", snap.Market.Flags))
		return fmt.Errorf("%s: %w", m.cfg.Market, ErrMarketDisabled)
	}

	m.setState(StatePricingDecision)
	m.publishBest(snap)
	refCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	ref := m.pricing.Reference(refCtx, snap)
	cancel()

	for _, side := range []dex.Side{dex.SideBid, dex.SideAsk} {
		err = multierr.Append(err, m.decide(ctx, snap, ref, side))
	}
	return err
}

func (m *Maker) reload(ctx context.Context) (*market.Snapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	return m.loader.Load(callCtx, m.cfg.Market)
}

func (m *Maker) decide(ctx context.Context, snap *market.Snapshot, ref Reference, side dex.Side) error {
	st := m.state.side(side)
	refPrice, err := ref.Side(side)
	if err != nil {
		m.log.Warn("no reference price", zap.Stringer("side", side), zap.Error(err))
		return fmt.Errorf("%s reference: %w", side, err)
	}
	target := refPrice * st.Multiplier
	st.Resting = m.resting(snap, side, st.ClientOrderID)

	if !NeedsRequote(st.LastPrice, target, m.currentMinChange()) {
		m.setState(StateHolding)
		m.metrics.RecordHold(m.cfg.Name, side.String())
		m.log.LogQuote("hold", m.cfg.Name, map[string]interface{}{
			"side":   side.String(),
			"last":   st.LastPrice,
			"target": target,
			"drift":  Drift(st.LastPrice, target),
			"source": ref.Source,
		})
		return nil
	}

	m.setState(StateRequoting)
	return m.requote(ctx, snap, side, target, st)
}

func (m *Maker) requote(ctx context.Context, snap *market.Snapshot, side dex.Side, target float64, st *SideState) error {
	req := order.Requote{
		Side:          side,
		Price:         target,
		Size:          st.Size,
		ClientOrderID: m.ids.Next(),
	}
	if st.Resting {
		req.CancelClientOrderID = st.ClientOrderID
	}
	bundle, err := order.BuildRequote(snap, m.cfg.Accounts, m.cfg.Bundle, req)
	if err != nil {
		m.log.Error("build requote failed", zap.Stringer("side", side), zap.Float64("target", target), zap.Error(err))
		return fmt.Errorf("%s requote: %w", side, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	sig, err := m.submitter.SubmitTransaction(callCtx, bundle)
	if err != nil {
		m.metrics.RecordSubmitFailure(m.cfg.Name, side.String())
		m.log.Error("submit requote failed",
			zap.Stringer("side", side),
			zap.Float64("target", target),
			zap.Uint64("client_order_id", req.ClientOrderID),
			zap.Error(err))
		return fmt.Errorf("%s: %w: %w", side, ErrSubmission, err)
	}

	st.LastPrice = target
	st.ClientOrderID = req.ClientOrderID
	st.Resting = true
	m.metrics.RecordRequote(m.cfg.Name, side.String(), target)
	m.log.LogQuote("requote", m.cfg.Name, map[string]interface{}{
		"side":            side.String(),
		"price":           target,
		"size":            st.Size,
		"client_order_id": req.ClientOrderID,
		"cancelled":       req.CancelClientOrderID,
		"signature":       sig.String(),
	})

	m.mu.Lock()
	m.status.Requotes++
	if side == dex.SideBid {
		m.status.LastBid, m.status.BidOrderID = target, req.ClientOrderID
	} else {
		m.status.LastAsk, m.status.AskOrderID = target, req.ClientOrderID
	}
	m.mu.Unlock()
	return nil
}

// resting 判断上一笔订单是否仍在簿上。簿不可用或投影不完整且未找到时按仍在处理。
func (m *Maker) resting(snap *market.Snapshot, side dex.Side, clientOrderID uint64) bool {
	if clientOrderID == 0 {
		return false
	}
	book, err := snap.Book(side)
	if err != nil || book == nil {
		return true
	}
	if _, ok := book.FindByClientID(m.cfg.Accounts.OpenOrders, clientOrderID); ok {
		return true
	}
	return uint64(len(book.Orders)) < book.LeafCount
}

func (m *Maker) publishBest(snap *market.Snapshot) {
	bid, bidErr := snap.BestBidPrice()
	ask, askErr := snap.BestAskPrice()
	m.mu.Lock()
	if bidErr == nil {
		m.status.BestBid = bid
	}
	if askErr == nil {
		m.status.BestAsk = ask
	}
	m.mu.Unlock()
	if bidErr == nil {
		m.metrics.UpdateBestPrice(m.cfg.Name, dex.SideBid.String(), bid)
	}
	if askErr == nil {
		m.metrics.UpdateBestPrice(m.cfg.Name, dex.SideAsk.String(), ask)
	}
}

func (m *Maker) applyStaged() {
	m.mu.Lock()
	staged := m.staged
	m.staged = nil
	if staged != nil {
		m.status.Params = *staged
	}
	m.mu.Unlock()
	if staged == nil {
		return
	}
	m.state.applyParams(*staged)
	m.log.Info("params applied",
		zap.Float64("bid_multiplier", staged.BidMultiplier),
		zap.Float64("ask_multiplier", staged.AskMultiplier),
		zap.Float64("bid_size", staged.BidSize),
		zap.Float64("ask_size", staged.AskSize),
		zap.Float64("min_change", staged.MinChange))
}

func (m *Maker) currentMinChange() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Params.MinChange
}

func (m *Maker) setState(s LoopState) {
	m.mu.Lock()
	m.status.State = s
	m.mu.Unlock()
}

func (m *Maker) finishTick(start time.Time, err error) {
	took := time.Since(start)
	m.metrics.RecordTick(m.cfg.Name, took, err)
	m.mu.Lock()
	m.status.Ticks++
	m.status.LastTickAt = start
	m.status.LastTickErr = ""
	if err != nil {
		m.status.TickErrors++
		m.status.LastTickErr = err.Error()
	}
	m.status.State = StateIdle
	m.mu.Unlock()
	m.log.LogTick(m.cfg.Name, map[string]interface{}{
		"took_ms": took.Milliseconds(),
		"ok":      err == nil,
	})
}

type nopMetrics struct{}

func (nopMetrics) RecordTick(string, time.Duration, error) {}
func (nopMetrics) RecordTickOverrun(string) {}
func (nopMetrics) RecordRequote(string, string, float64) {}
func (nopMetrics) RecordHold(string, string) {}
func (nopMetrics) RecordSubmitFailure(string, string) {}
func (nopMetrics) UpdateBestPrice(string, string, float64) {}
