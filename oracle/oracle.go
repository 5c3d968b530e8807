// Package oracle provides reference prices for quoting.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrNoPrice means the oracle has no usable price for the symbol.
var ErrNoPrice = errors.New("oracle: no price")

// PriceOracle returns a reference price for symbol. notional hints the
// trade size the price will be used for; oracles may ignore it.
type PriceOracle interface {
	PriceFor(ctx context.Context, symbol string, notional float64) (float64, error)
}

// Band is a price with a symmetric confidence interval.
type Band struct {
	Price float64
	Conf  float64
}

// BandOracle is implemented by oracles that publish a confidence interval.
type BandOracle interface {
	BandFor(ctx context.Context, symbol string) (Band, error)
}

// Static serves fixed prices, e.g. for pegged pairs or tests.
type Static map[string]float64

func (s Static) PriceFor(_ context.Context, symbol string, _ float64) (float64, error) {
	p, ok := s[normalize(symbol)]
	if !ok || p <= 0 {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	return p, nil
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// Cached holds pushed prices and refuses to serve them past maxAge.
type Cached struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
	maxAge time.Duration
	now    func() time.Time
}

func NewCached(maxAge time.Duration) *Cached {
	return &Cached{prices: make(map[string]cachedPrice), maxAge: maxAge, now: time.Now}
}

// Set records price for symbol as of now.
func (c *Cached) Set(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[normalize(symbol)] = cachedPrice{price: price, at: c.now()}
}

func (c *Cached) PriceFor(_ context.Context, symbol string, _ float64) (float64, error) {
	c.mu.RLock()
	p, ok := c.prices[normalize(symbol)]
	c.mu.RUnlock()
	if !ok || p.price <= 0 {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNoPrice)
	}
	if c.maxAge > 0 && c.now().Sub(p.at) > c.maxAge {
		return 0, fmt.Errorf("%s: price %s old: %w", symbol, c.now().Sub(p.at), ErrNoPrice)
	}
	return p.price, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
