package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"openbook-mm/dex"
	"openbook-mm/infrastructure/logger"
	"openbook-mm/ledger"
)

// ErrNoData is returned when a book cannot be fetched and nothing is cached.
var ErrNoData = errors.New("market: order book unavailable")

// DefaultTTL is how long a cached book is served without refetching.
const DefaultTTL = time.Second

// DefaultFetchTimeout bounds one shared refresh, independent of the callers.
const DefaultFetchTimeout = 10 * time.Second

// Entry is a cached value and when it was captured. Entries are replaced
// wholesale, never mutated.
type Entry[V any] struct {
	Value      V
	CapturedAt time.Time
}

// CacheMetrics is satisfied by *monitor.Monitor.
type CacheMetrics interface {
	RecordCacheLookup(result string)
	RecordCacheFetch(err error)
}

type CacheConfig struct {
	TTL          time.Duration
	Depth        int
	Commitment   rpc.CommitmentType
	FetchTimeout time.Duration
}

type CacheOption func(*OrderBookCache)

func WithClock(now func() time.Time) CacheOption {
	return func(c *OrderBookCache) { c.now = now }
}

func WithCacheMetrics(m CacheMetrics) CacheOption {
	return func(c *OrderBookCache) { c.metrics = m }
}

func WithCacheLogger(l *logger.Logger) CacheOption {
	return func(c *OrderBookCache) {
		if l != nil {
			c.logger = l.Component("orderbook_cache")
		}
	}
}

// OrderBookCache serves decoded books keyed by account address. Refreshes
// are single-flighted per key; different keys never wait on each other.
type OrderBookCache struct {
	provider ledger.Provider
	cfg      CacheConfig

	mu      sync.RWMutex
	entries map[solana.PublicKey]Entry[*dex.OrderBookSummary]
	group   singleflight.Group

	now     func() time.Time
	metrics CacheMetrics
	logger  *logger.Logger
}

func NewOrderBookCache(provider ledger.Provider, cfg CacheConfig, opts ...CacheOption) *OrderBookCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentProcessed
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	c := &OrderBookCache{
		provider: provider,
		cfg:      cfg,
		entries:  make(map[solana.PublicKey]Entry[*dex.OrderBookSummary]),
		now:      time.Now,
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the book at address, refreshing it when older than the TTL.
func (c *OrderBookCache) Get(ctx context.Context, address solana.PublicKey) (*dex.OrderBookSummary, error) {
	e, err := c.GetEntry(ctx, address)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// GetEntry is Get plus the capture time, so callers can tell a stale
// fallback from a fresh read.
func (c *OrderBookCache) GetEntry(ctx context.Context, address solana.PublicKey) (Entry[*dex.OrderBookSummary], error) {
	if e, ok := c.fresh(address); ok {
		c.record("hit")
		return e, nil
	}
	c.record("miss")

	// 刷新与发起它的调用方解绑：某个调用方取消不会把错误带给同 key 的其他等待者
	refreshCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(address.String(), func() (interface{}, error) {
		if e, ok := c.fresh(address); ok {
			return e, nil
		}
		fetchCtx, cancel := context.WithTimeout(refreshCtx, c.cfg.FetchTimeout)
		defer cancel()
		return c.refresh(fetchCtx, address)
	})
	select {
	case <-ctx.Done():
		return Entry[*dex.OrderBookSummary]{}, fmt.Errorf("%s: %w", address, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Entry[*dex.OrderBookSummary]{}, res.Err
		}
		return res.Val.(Entry[*dex.OrderBookSummary]), nil
	}
}

func (c *OrderBookCache) refresh(ctx context.Context, address solana.PublicKey) (Entry[*dex.OrderBookSummary], error) {
	acc, err := c.provider.FetchAccount(ctx, address, c.cfg.Commitment)
	if c.metrics != nil {
		c.metrics.RecordCacheFetch(err)
	}
	if err != nil {
		if prev, ok := c.lookup(address); ok {
			c.record("stale")
			c.logger.Warn("order book fetch failed, serving stale entry",
				zap.Stringer("address", address),
				zap.Duration("age", c.now().Sub(prev.CapturedAt)),
				zap.Error(err))
			return prev, nil
		}
		c.record("unavailable")
		return Entry[*dex.OrderBookSummary]{}, fmt.Errorf("%s: %w: %v", address, ErrNoData, err)
	}

	book, err := dex.DecodeOrderBook(acc.Data, c.cfg.Depth)
	if err != nil {
		return Entry[*dex.OrderBookSummary]{}, fmt.Errorf("decode book %s: %w", address, err)
	}
	book.Address = address
	book.Slot = acc.Slot
	return c.Put(book), nil
}

// Put stores a book decoded elsewhere (e.g. from a push stream). A book
// older than the cached one by slot is ignored and the cached entry returned.
func (c *OrderBookCache) Put(book *dex.OrderBookSummary) Entry[*dex.OrderBookSummary] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[book.Address]; ok && prev.Value.Slot > book.Slot {
		return prev
	}
	e := Entry[*dex.OrderBookSummary]{Value: book, CapturedAt: c.now()}
	c.entries[book.Address] = e
	return e
}

// Invalidate drops the entry so the next Get refetches.
func (c *OrderBookCache) Invalidate(address solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, address)
}

// Depth is the projection depth books are decoded with.
func (c *OrderBookCache) Depth() int { return c.cfg.Depth }

func (c *OrderBookCache) lookup(address solana.PublicKey) (Entry[*dex.OrderBookSummary], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[address]
	return e, ok
}

func (c *OrderBookCache) fresh(address solana.PublicKey) (Entry[*dex.OrderBookSummary], bool) {
	e, ok := c.lookup(address)
	if !ok || c.now().Sub(e.CapturedAt) > c.cfg.TTL {
		return e, false
	}
	return e, true
}

func (c *OrderBookCache) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(result)
	}
}
