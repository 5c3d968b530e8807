package oracle

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"openbook-mm/ledger"
)

// Pyth v2 price account layout.
const (
	pythMagic          = 0xa1b2c3d4
	pythAccountPrice   = 3
	pythStatusTrading  = 1
	pythExpoOffset     = 20
	pythAggPriceOffset = 208
	pythAggConfOffset  = 216
	pythStatusOffset   = 224
	pythMinSize        = 240
)

// Pyth reads on-chain Pyth price accounts through the ledger provider.
type Pyth struct {
	provider ledger.Provider
	feeds    map[string]solana.PublicKey
}

// NewPyth maps symbols (case-insensitive) to price account addresses.
func NewPyth(provider ledger.Provider, feeds map[string]solana.PublicKey) *Pyth {
	normalized := make(map[string]solana.PublicKey, len(feeds))
	for sym, addr := range feeds {
		normalized[normalize(sym)] = addr
	}
	return &Pyth{provider: provider, feeds: normalized}
}

func (p *Pyth) PriceFor(ctx context.Context, symbol string, _ float64) (float64, error) {
	b, err := p.BandFor(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return b.Price, nil
}

func (p *Pyth) BandFor(ctx context.Context, symbol string) (Band, error) {
	addr, ok := p.feeds[normalize(symbol)]
	if !ok {
		return Band{}, fmt.Errorf("%s: no feed configured: %w", symbol, ErrNoPrice)
	}
	acc, err := p.provider.FetchAccount(ctx, addr, rpc.CommitmentConfirmed)
	if err != nil {
		return Band{}, fmt.Errorf("%s: %w: %v", symbol, ErrNoPrice, err)
	}
	b, err := DecodePythPrice(acc.Data)
	if err != nil {
		return Band{}, fmt.Errorf("%s: %w", symbol, err)
	}
	return b, nil
}

// DecodePythPrice extracts the aggregate price and confidence, scaled by
// the account exponent. Only prices in trading status are accepted.
func DecodePythPrice(data []byte) (Band, error) {
	if len(data) < pythMinSize {
		return Band{}, fmt.Errorf("pyth account %d bytes: %w", len(data), ErrNoPrice)
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:]) != pythMagic || le.Uint32(data[8:]) != pythAccountPrice {
		return Band{}, fmt.Errorf("not a pyth price account: %w", ErrNoPrice)
	}
	if status := le.Uint32(data[pythStatusOffset:]); status != pythStatusTrading {
		return Band{}, fmt.Errorf("pyth status %d: %w", status, ErrNoPrice)
	}
	expo := int32(le.Uint32(data[pythExpoOffset:]))
	raw := int64(le.Uint64(data[pythAggPriceOffset:]))
	conf := le.Uint64(data[pythAggConfOffset:])
	if raw <= 0 {
		return Band{}, fmt.Errorf("pyth price %d: %w", raw, ErrNoPrice)
	}
	scale := math.Pow10(int(expo))
	return Band{Price: float64(raw) * scale, Conf: float64(conf) * scale}, nil
}
