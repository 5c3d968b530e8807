package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"openbook-mm/dex"
	"openbook-mm/lots"
)

// ErrEmptyBook means the side has no resting orders.
var ErrEmptyBook = errors.New("market: book side is empty")

// Snapshot is one consistent reload of a market: the decoded market
// account, resolved decimals and both book sides. A failed side keeps its
// error instead of failing the whole snapshot.
type Snapshot struct {
	Address       solana.PublicKey
	Market        *dex.Market
	Slot          uint64
	BaseDecimals  uint8
	QuoteDecimals uint8
	Bids          *dex.OrderBookSummary
	Asks          *dex.OrderBookSummary
	BidErr        error
	AskErr        error
	LoadedAt      time.Time
}

// Params returns the lot conversion constants of the market.
func (s *Snapshot) Params() lots.Params {
	return lots.Params{
		BaseDecimals:  s.BaseDecimals,
		QuoteDecimals: s.QuoteDecimals,
		BaseLotSize:   s.Market.BaseLotSize,
		QuoteLotSize:  s.Market.QuoteLotSize,
	}
}

// Book returns the summary of one side or the error that side failed with.
func (s *Snapshot) Book(side dex.Side) (*dex.OrderBookSummary, error) {
	if side == dex.SideBid {
		return s.Bids, s.BidErr
	}
	return s.Asks, s.AskErr
}

// BestPrice converts the best price of side to a human price.
func (s *Snapshot) BestPrice(side dex.Side) (float64, error) {
	book, err := s.Book(side)
	if err != nil {
		return 0, err
	}
	if book == nil || !book.HasBest {
		return 0, fmt.Errorf("%s: %w", side, ErrEmptyBook)
	}
	return s.Params().LotsToPrice(book.Best.PriceLots)
}

func (s *Snapshot) BestBidPrice() (float64, error) { return s.BestPrice(dex.SideBid) }

func (s *Snapshot) BestAskPrice() (float64, error) { return s.BestPrice(dex.SideAsk) }
