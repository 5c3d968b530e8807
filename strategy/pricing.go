package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"openbook-mm/dex"
	"openbook-mm/infrastructure/logger"
	"openbook-mm/market"
	"openbook-mm/oracle"
)

// Reference 每侧的参考价。某侧失败只影响该侧本轮决策。
type Reference struct {
	Bid    float64
	Ask    float64
	BidErr error
	AskErr error
	Source string
}

// Side 返回某侧参考价或失败原因
func (r Reference) Side(side dex.Side) (float64, error) {
	if side == dex.SideBid {
		return r.Bid, r.BidErr
	}
	return r.Ask, r.AskErr
}

// PriceSource 计算参考价
type PriceSource interface {
	Name() string
	Reference(ctx context.Context, snap *market.Snapshot) Reference
}

// BookPricing 以订单簿最优买/卖价为参考
type BookPricing struct{}

func (BookPricing) Name() string { return "book" }

func (BookPricing) Reference(_ context.Context, snap *market.Snapshot) Reference {
	ref := Reference{Source: "book"}
	if snap == nil {
		ref.BidErr = errors.New("no snapshot")
		ref.AskErr = ref.BidErr
		return ref
	}
	ref.Bid, ref.BidErr = snap.BestBidPrice()
	ref.Ask, ref.AskErr = snap.BestAskPrice()
	return ref
}

// OraclePricing 以预言机价格为参考；预言机失败时本轮回退到订单簿。
type OraclePricing struct {
	Oracle   oracle.PriceOracle
	Symbol   string
	Notional float64
	// UseBand 为 true 且预言机提供置信区间时，买侧用 price-conf，卖侧用 price+conf
	UseBand  bool
	Timeout  time.Duration
	Fallback PriceSource
	Logger   *logger.Logger
}

func (o *OraclePricing) Name() string { return "oracle" }

func (o *OraclePricing) Reference(ctx context.Context, snap *market.Snapshot) Reference {
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}
	ref, err := o.fromOracle(ctx)
	if err == nil {
		return ref
	}
	if o.Logger != nil {
		o.Logger.Warn("oracle unavailable, falling back to book",
			zap.String("symbol", o.Symbol),
			zap.Error(err))
	}
	fallback := o.Fallback
	if fallback == nil {
		fallback = BookPricing{}
	}
	return fallback.Reference(ctx, snap)
}

func (o *OraclePricing) fromOracle(ctx context.Context) (Reference, error) {
	if o.Oracle == nil {
		return Reference{}, fmt.Errorf("%s: %w", o.Symbol, oracle.ErrNoPrice)
	}
	if bo, ok := o.Oracle.(oracle.BandOracle); ok && o.UseBand {
		band, err := bo.BandFor(ctx, o.Symbol)
		if err != nil {
			return Reference{}, err
		}
		if band.Price-band.Conf <= 0 {
			return Reference{}, fmt.Errorf("%s band %v±%v: %w", o.Symbol, band.Price, band.Conf, oracle.ErrNoPrice)
		}
		return Reference{Bid: band.Price - band.Conf, Ask: band.Price + band.Conf, Source: "oracle-band"}, nil
	}
	price, err := o.Oracle.PriceFor(ctx, o.Symbol, o.Notional)
	if err != nil {
		return Reference{}, err
	}
	if price <= 0 {
		return Reference{}, fmt.Errorf("%s price %v: %w", o.Symbol, price, oracle.ErrNoPrice)
	}
	return Reference{Bid: price, Ask: price, Source: "oracle"}, nil
}
