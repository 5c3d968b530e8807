package strategy

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"openbook-mm/decimals"
	"openbook-mm/dex"
	"openbook-mm/dex/dextest"
	"openbook-mm/infrastructure/logger"
	"openbook-mm/ledger"
	"openbook-mm/market"
	"openbook-mm/oracle"
	"openbook-mm/order"
)

type makerFixture struct {
	provider *ledger.MemoryProvider
	cache    *market.OrderBookCache
	loader   *market.Loader
	fields   dextest.MarketFields
	accounts order.Accounts
}

func newMakerFixture(t *testing.T) *makerFixture {
	t.Helper()
	p := ledger.NewMemoryProvider()
	own := solana.NewWallet().PublicKey()
	f := dextest.MarketFields{
		OwnAddress:       own,
		VaultSignerNonce: dextest.VaultNonce(own, dex.DefaultProgramID),
		BaseMint:         decimals.WrappedSOLMint,
		QuoteMint:        decimals.USDCMint,
		BaseVault:        solana.NewWallet().PublicKey(),
		QuoteVault:       solana.NewWallet().PublicKey(),
		RequestQueue:     solana.NewWallet().PublicKey(),
		EventQueue:       solana.NewWallet().PublicKey(),
		Bids:             solana.NewWallet().PublicKey(),
		Asks:             solana.NewWallet().PublicKey(),
		BaseLotSize:      1_000_000,
		QuoteLotSize:     100,
	}
	p.SetAccount(own, dextest.MarketAccount(f))
	cache := market.NewOrderBookCache(p, market.CacheConfig{Depth: -1})
	fx := &makerFixture{
		provider: p,
		cache:    cache,
		loader:   market.NewLoader(p, cache, decimals.New(p)),
		fields:   f,
		accounts: order.Accounts{
			ProgramID:   dex.DefaultProgramID,
			OpenOrders:  solana.NewWallet().PublicKey(),
			Owner:       solana.NewWallet().PublicKey(),
			BaseWallet:  solana.NewWallet().PublicKey(),
			QuoteWallet: solana.NewWallet().PublicKey(),
		},
	}
	fx.setBooks(250_000, 250_300)
	return fx
}

// setBooks 写入新的最优价；extra 中的订单追加到对应一侧
func (fx *makerFixture) setBooks(bestBid, bestAsk uint64, extra ...dextest.Leaf) {
	bids := []dextest.Leaf{{PriceLots: bestBid, Seq: 1, Quantity: 5}}
	asks := []dextest.Leaf{{PriceLots: bestAsk, Seq: 2, Quantity: 5}}
	for _, l := range extra {
		if l.PriceLots <= bestBid {
			bids = append(bids, l)
		} else {
			asks = append(asks, l)
		}
	}
	fx.provider.SetAccount(fx.fields.Bids, dextest.BookAccount(dex.SideBid, bids, 0))
	fx.provider.SetAccount(fx.fields.Asks, dextest.BookAccount(dex.SideAsk, asks, 0))
	fx.cache.Invalidate(fx.fields.Bids)
	fx.cache.Invalidate(fx.fields.Asks)
}

func (fx *makerFixture) config() Config {
	return Config{
		Name:        "sol-usdc",
		Market:      fx.fields.OwnAddress,
		Accounts:    fx.accounts,
		Params:      DefaultParams(),
		Interval:    20 * time.Millisecond,
		CallTimeout: time.Second,
	}
}

func (fx *makerFixture) deps() Deps {
	return Deps{Loader: fx.loader, Submitter: fx.provider}
}

func newOrderData(t *testing.T, b ledger.Bundle) []byte {
	t.Helper()
	for _, ix := range b.Instructions {
		data, err := ix.Data()
		require.NoError(t, err)
		if ix.ProgramID() == dex.DefaultProgramID && len(data) > 5 && binary.LittleEndian.Uint32(data[1:]) == 10 {
			return data
		}
	}
	t.Fatalf("bundle %s has no new order", b.Label)
	return nil
}

func hasCancel(t *testing.T, b ledger.Bundle) bool {
	t.Helper()
	for _, ix := range b.Instructions {
		data, err := ix.Data()
		require.NoError(t, err)
		if ix.ProgramID() == dex.DefaultProgramID && len(data) > 5 && binary.LittleEndian.Uint32(data[1:]) == 12 {
			return true
		}
	}
	return false
}

func TestFirstTickQuotesBothSides(t *testing.T) {
	fx := newMakerFixture(t)
	s, err := NewBookStrategy(fx.config(), fx.deps())
	require.NoError(t, err)

	require.NoError(t, s.tick(context.Background()))

	sub := fx.provider.Submitted()
	require.Len(t, sub, 2)
	assert.Equal(t, "requote-bid", sub[0].Label)
	assert.Equal(t, "requote-ask", sub[1].Label)
	assert.False(t, hasCancel(t, sub[0]))

	assert.InDelta(t, 25000*0.9987, s.state.Bid.LastPrice, 1e-9)
	assert.InDelta(t, 25030*1.0012, s.state.Ask.LastPrice, 1e-9)
	assert.NotZero(t, s.state.Bid.ClientOrderID)
	assert.NotEqual(t, s.state.Bid.ClientOrderID, s.state.Ask.ClientOrderID)

	bid := newOrderData(t, sub[0])
	assert.Equal(t, uint32(dex.SideBid), binary.LittleEndian.Uint32(bid[5:]))
	assert.Equal(t, s.state.Bid.ClientOrderID, binary.LittleEndian.Uint64(bid[41:]))

	st := s.Status()
	assert.Equal(t, int64(1), st.Ticks)
	assert.Equal(t, int64(2), st.Requotes)
	assert.Equal(t, 25000.0, st.BestBid)
	assert.Equal(t, 25030.0, st.BestAsk)
	assert.Equal(t, StateIdle, st.State)
}

func TestHoldsWithinMinChange(t *testing.T) {
	fx := newMakerFixture(t)
	s, err := NewBookStrategy(fx.config(), fx.deps())
	require.NoError(t, err)
	require.NoError(t, s.tick(context.Background()))
	bidID := s.state.Bid.ClientOrderID

	// 0.04% 的移动低于 0.1% 阈值
	fx.setBooks(250_100, 250_400)
	require.NoError(t, s.tick(context.Background()))

	assert.Len(t, fx.provider.Submitted(), 2)
	assert.Equal(t, bidID, s.state.Bid.ClientOrderID)
}

func TestRequoteCancelsRestingOrder(t *testing.T) {
	fx := newMakerFixture(t)
	s, err := NewBookStrategy(fx.config(), fx.deps())
	require.NoError(t, err)
	require.NoError(t, s.tick(context.Background()))
	bidID := s.state.Bid.ClientOrderID
	askID := s.state.Ask.ClientOrderID

	// 买单仍在簿上，卖单已成交；价格移动 0.2%
	fx.setBooks(250_500, 250_800, dextest.Leaf{
		PriceLots:     249_700,
		Seq:           9,
		Quantity:      100,
		Owner:         fx.accounts.OpenOrders,
		ClientOrderID: bidID,
	})
	require.NoError(t, s.tick(context.Background()))

	sub := fx.provider.Submitted()
	require.Len(t, sub, 4)
	assert.True(t, hasCancel(t, sub[2]))
	assert.False(t, hasCancel(t, sub[3]))
	assert.NotEqual(t, bidID, s.state.Bid.ClientOrderID)
	assert.NotEqual(t, askID, s.state.Ask.ClientOrderID)
}

func TestSubmissionFailureLeavesStateUnchanged(t *testing.T) {
	fx := newMakerFixture(t)
	s, err := NewBookStrategy(fx.config(), fx.deps())
	require.NoError(t, err)

	fx.provider.SetSubmitError(ledger.ErrSubmissionRejected)
	err = s.tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.ErrorIs(t, err, ledger.ErrSubmissionRejected)
	assert.Zero(t, s.state.Bid.LastPrice)
	assert.Zero(t, s.state.Ask.ClientOrderID)
	assert.Equal(t, int64(1), s.Status().TickErrors)

	fx.provider.SetSubmitError(nil)
	require.NoError(t, s.tick(context.Background()))
	assert.Len(t, fx.provider.Submitted(), 2)
}

func TestOneSideFailureKeepsOtherSide(t *testing.T) {
	fx := newMakerFixture(t)
	fx.provider.SetFetchError(fx.fields.Asks, errors.New("rpc down"))
	fx.cache.Invalidate(fx.fields.Asks)
	s, err := NewBookStrategy(fx.config(), fx.deps())
	require.NoError(t, err)

	err = s.tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrNoData)

	sub := fx.provider.Submitted()
	require.Len(t, sub, 1)
	assert.Equal(t, "requote-bid", sub[0].Label)
	assert.NotZero(t, s.state.Bid.LastPrice)
	assert.Zero(t, s.state.Ask.LastPrice)
}

func TestReloadFailureSkipsDecision(t *testing.T) {
	fx := newMakerFixture(t)
	fx.provider.SetFetchError(fx.fields.OwnAddress, errors.New("timeout"))
	s, err := NewBookStrategy(fx.config(), fx.deps())
	require.NoError(t, err)

	require.Error(t, s.tick(context.Background()))
	assert.Empty(t, fx.provider.Submitted())
	assert.NotEmpty(t, s.Status().LastTickErr)
}

func TestDisabledMarketIsNotQuoted(t *testing.T) {
	fx := newMakerFixture(t)
	f := fx.fields
	f.Flags = dex.FlagInitialized | dex.FlagMarket | dex.FlagDisabled
	fx.provider.SetAccount(f.OwnAddress, dextest.MarketAccount(f))
	s, err := NewBookStrategy(fx.config(), fx.deps())
	require.NoError(t, err)

	assert.ErrorIs(t, s.tick(context.Background()), ErrMarketDisabled)
	assert.Empty(t, fx.provider.Submitted())
}

func TestOraclePricingAndFallback(t *testing.T) {
	fx := newMakerFixture(t)
	prices := oracle.NewCached(time.Minute)
	prices.Set("SOL", 26000)
	s, err := NewOracleStrategy(fx.config(), OracleConfig{Symbol: "SOL"}, prices, fx.deps())
	require.NoError(t, err)

	require.NoError(t, s.tick(context.Background()))
	assert.InDelta(t, 26000*0.9987, s.state.Bid.LastPrice, 1e-9)
	assert.InDelta(t, 26000*1.0012, s.state.Ask.LastPrice, 1e-9)
	assert.Equal(t, "oracle", s.Status().Pricing)

	// 预言机没有价格时按订单簿报价
	fb, err := NewOracleStrategy(fx.config(), OracleConfig{Symbol: "BONK"}, prices, fx.deps())
	require.NoError(t, err)
	require.NoError(t, fb.tick(context.Background()))
	assert.InDelta(t, 25000*0.9987, fb.state.Bid.LastPrice, 1e-9)
}

type bandOracle struct{ band oracle.Band }

func (b bandOracle) PriceFor(context.Context, string, float64) (float64, error) {
	return b.band.Price, nil
}

func (b bandOracle) BandFor(context.Context, string) (oracle.Band, error) { return b.band, nil }

func TestOracleBand(t *testing.T) {
	fx := newMakerFixture(t)
	src := bandOracle{band: oracle.Band{Price: 100, Conf: 1}}
	s, err := NewOracleStrategy(fx.config(), OracleConfig{Symbol: "SOL", UseBand: true}, src, fx.deps())
	require.NoError(t, err)

	ref := s.pricing.Reference(context.Background(), nil)
	require.NoError(t, ref.BidErr)
	assert.Equal(t, 99.0, ref.Bid)
	assert.Equal(t, 101.0, ref.Ask)
	assert.Equal(t, "oracle-band", ref.Source)
}

func TestApplyParamsStagedUntilNextTick(t *testing.T) {
	fx := newMakerFixture(t)
	s, err := NewBookStrategy(fx.config(), fx.deps())
	require.NoError(t, err)

	p := DefaultParams()
	p.BidMultiplier = 0.99
	p.BidSize = 0.2
	require.NoError(t, s.ApplyParams(p))
	assert.Equal(t, 0.9987, s.state.Bid.Multiplier)

	require.NoError(t, s.tick(context.Background()))
	assert.Equal(t, 0.99, s.state.Bid.Multiplier)
	assert.Equal(t, 0.2, s.state.Bid.Size)
	assert.InDelta(t, 25000*0.99, s.state.Bid.LastPrice, 1e-9)
	assert.Equal(t, 0.99, s.Status().Params.BidMultiplier)

	bad := DefaultParams()
	bad.AskMultiplier = 0.5
	assert.ErrorIs(t, s.ApplyParams(bad), ErrInvalidParams)
}

func TestStartStopLoop(t *testing.T) {
	fx := newMakerFixture(t)
	core, logs := observer.New(zap.DebugLevel)
	deps := fx.deps()
	deps.Logger = logger.Wrap(zap.New(core))
	s, err := NewBookStrategy(fx.config(), deps)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Status().Ticks >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	st := s.Status()
	assert.False(t, st.Running)
	assert.Len(t, fx.provider.Submitted(), 2)
	assert.NotZero(t, logs.FilterMessage("quote_event").Len())
}

func TestOverrunStartsNextTickImmediately(t *testing.T) {
	fx := newMakerFixture(t)
	fx.provider.SetLatency(15 * time.Millisecond)
	cfg := fx.config()
	cfg.Interval = 5 * time.Millisecond
	core, logs := observer.New(zap.WarnLevel)
	deps := fx.deps()
	deps.Logger = logger.Wrap(zap.New(core))
	s, err := NewBookStrategy(cfg, deps)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.Status().Ticks >= 2 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.NotZero(t, logs.FilterMessage("tick overran interval, starting next tick now").Len())
}

func TestWarmupDelaysFirstDecision(t *testing.T) {
	fx := newMakerFixture(t)
	cfg := fx.config()
	cfg.Warmup = 80 * time.Millisecond
	s, err := NewBookStrategy(cfg, fx.deps())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, fx.provider.Submitted())
	assert.Eventually(t, func() bool { return len(fx.provider.Submitted()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

// signalLoader 每次成功加载后非阻塞地发一个信号
type signalLoader struct {
	next   Loader
	loaded chan struct{}
}

func (l *signalLoader) Load(ctx context.Context, address solana.PublicKey) (*market.Snapshot, error) {
	snap, err := l.next.Load(ctx, address)
	if err == nil {
		select {
		case l.loaded <- struct{}{}:
		default:
		}
	}
	return snap, err
}

func TestWarmupSurvivesFailedFirstReload(t *testing.T) {
	fx := newMakerFixture(t)
	fx.provider.SetFetchError(fx.fields.OwnAddress, errors.New("timeout"))
	cfg := fx.config()
	cfg.Warmup = 150 * time.Millisecond
	s, err := NewBookStrategy(cfg, fx.deps())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return s.Status().TickErrors >= 1 }, time.Second, 2*time.Millisecond)

	recovered := time.Now()
	fx.provider.SetFetchError(fx.fields.OwnAddress, nil)
	require.Eventually(t, func() bool { return len(fx.provider.Submitted()) > 0 }, 2*time.Second, 2*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(recovered), cfg.Warmup)
}

func TestWarmupDecidesOnFreshSnapshot(t *testing.T) {
	fx := newMakerFixture(t)
	cfg := fx.config()
	cfg.Warmup = 100 * time.Millisecond
	loader := &signalLoader{next: fx.loader, loaded: make(chan struct{}, 1)}
	deps := fx.deps()
	deps.Loader = loader
	s, err := NewBookStrategy(cfg, deps)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	select {
	case <-loader.loaded:
	case <-time.After(time.Second):
		t.Fatal("first reload did not complete")
	}
	// 预热期间盘口变化，首个决策应基于新盘口
	fx.setBooks(260_000, 260_300)

	require.Eventually(t, func() bool { return len(fx.provider.Submitted()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.InDelta(t, 26000*0.9987, s.state.Bid.LastPrice, 1e-9)
}

func TestNewStrategyValidates(t *testing.T) {
	fx := newMakerFixture(t)
	cfg := fx.config()
	cfg.Accounts.OpenOrders = solana.PublicKey{}
	_, err := NewBookStrategy(cfg, fx.deps())
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewBookStrategy(fx.config(), Deps{})
	assert.Error(t, err)

	_, err = NewOracleStrategy(fx.config(), OracleConfig{}, oracle.Static{}, fx.deps())
	assert.ErrorIs(t, err, ErrInvalidParams)
}
