// Package lots converts between human prices/sizes and the fixed-point lot
// units a market stores on chain.
package lots

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrInvalidArgument is returned for NaN, infinite, non-positive or
// out-of-range inputs and for results that round to zero.
var ErrInvalidArgument = errors.New("lots: invalid argument")

var maxU64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Params bundles the market constants every conversion needs.
type Params struct {
	BaseDecimals  uint8
	QuoteDecimals uint8
	BaseLotSize   uint64
	QuoteLotSize  uint64
}

func (p Params) validate() error {
	if p.BaseLotSize == 0 || p.QuoteLotSize == 0 {
		return fmt.Errorf("base lot %d quote lot %d: %w", p.BaseLotSize, p.QuoteLotSize, ErrInvalidArgument)
	}
	return nil
}

// PriceToLots is ceil(price * 10^quoteDecimals * baseLotSize / (10^baseDecimals * quoteLotSize)).
func PriceToLots(price float64, quoteDecimals uint8, baseLotSize uint64, baseDecimals uint8, quoteLotSize uint64) (uint64, error) {
	return Params{BaseDecimals: baseDecimals, QuoteDecimals: quoteDecimals, BaseLotSize: baseLotSize, QuoteLotSize: quoteLotSize}.PriceToLots(price)
}

// SizeToLots is ceil(round(size * 10^baseDecimals) / baseLotSize).
func SizeToLots(size float64, baseDecimals uint8, baseLotSize uint64) (uint64, error) {
	return Params{BaseDecimals: baseDecimals, BaseLotSize: baseLotSize}.SizeToLots(size)
}

// LotsToPrice is lots * quoteLotSize * 10^baseDecimals / (baseLotSize * 10^quoteDecimals).
func LotsToPrice(priceLots uint64, baseDecimals, quoteDecimals uint8, baseLotSize, quoteLotSize uint64) (float64, error) {
	return Params{BaseDecimals: baseDecimals, QuoteDecimals: quoteDecimals, BaseLotSize: baseLotSize, QuoteLotSize: quoteLotSize}.LotsToPrice(priceLots)
}

// MaxQuoteQuantity is quoteLotSize * SizeToLots(size) * PriceToLots(price),
// the native quote amount a bid of size at price may lock.
func MaxQuoteQuantity(price, size float64, p Params) (uint64, error) {
	return p.MaxQuoteQuantity(price, size)
}

func (p Params) PriceToLots(price float64) (uint64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	v, err := positive("price", price)
	if err != nil {
		return 0, err
	}
	top := v.Shift(int32(p.QuoteDecimals)).Mul(fromU64(p.BaseLotSize))
	bottom := fromU64(p.QuoteLotSize).Shift(int32(p.BaseDecimals))
	return toLots("price", ceilDiv(top, bottom))
}

func (p Params) SizeToLots(size float64) (uint64, error) {
	if p.BaseLotSize == 0 {
		return 0, fmt.Errorf("base lot 0: %w", ErrInvalidArgument)
	}
	v, err := positive("size", size)
	if err != nil {
		return 0, err
	}
	native := v.Shift(int32(p.BaseDecimals)).Round(0)
	return toLots("size", ceilDiv(native, fromU64(p.BaseLotSize)))
}

func (p Params) LotsToPrice(priceLots uint64) (float64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	if priceLots == 0 {
		return 0, fmt.Errorf("price lots 0: %w", ErrInvalidArgument)
	}
	top := fromU64(priceLots).Mul(fromU64(p.QuoteLotSize)).Shift(int32(p.BaseDecimals))
	bottom := fromU64(p.BaseLotSize).Shift(int32(p.QuoteDecimals))
	return top.DivRound(bottom, 16).InexactFloat64(), nil
}

// LotsToSize is sizeLots * baseLotSize / 10^baseDecimals.
func (p Params) LotsToSize(sizeLots uint64) float64 {
	return fromU64(sizeLots).Mul(fromU64(p.BaseLotSize)).Shift(-int32(p.BaseDecimals)).InexactFloat64()
}

func (p Params) MaxQuoteQuantity(price, size float64) (uint64, error) {
	sizeLots, err := p.SizeToLots(size)
	if err != nil {
		return 0, err
	}
	priceLots, err := p.PriceToLots(price)
	if err != nil {
		return 0, err
	}
	total := fromU64(p.QuoteLotSize).Mul(fromU64(sizeLots)).Mul(fromU64(priceLots))
	return toLots("max quote", total)
}

func positive(name string, v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return decimal.Zero, fmt.Errorf("%s %v: %w", name, v, ErrInvalidArgument)
	}
	return decimal.NewFromFloat(v), nil
}

func ceilDiv(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, 0)
	if r.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q
}

func toLots(name string, v decimal.Decimal) (uint64, error) {
	if v.Sign() <= 0 {
		return 0, fmt.Errorf("%s rounds to zero lots: %w", name, ErrInvalidArgument)
	}
	if v.GreaterThan(maxU64) {
		return 0, fmt.Errorf("%s %s overflows u64: %w", name, v, ErrInvalidArgument)
	}
	return v.BigInt().Uint64(), nil
}

func fromU64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
