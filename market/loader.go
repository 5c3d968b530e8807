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

	"openbook-mm/dex"
	"openbook-mm/infrastructure/logger"
	"openbook-mm/ledger"
)

// ErrStaleSlot is returned when the provider answers from a slot older
// than one already observed for the same market.
var ErrStaleSlot = errors.New("market: stale slot")

// DecimalsResolver is satisfied by *decimals.Resolver.
type DecimalsResolver interface {
	ResolvePair(ctx context.Context, base, quote solana.PublicKey) (uint8, uint8, error)
}

// Watcher receives book addresses that should be kept warm, typically an
// AccountStream pushing updates into the cache.
type Watcher interface {
	Watch(address solana.PublicKey)
}

type LoaderOption func(*Loader)

func WithWatcher(w Watcher) LoaderOption {
	return func(l *Loader) { l.watcher = w }
}

func WithLoaderLogger(lg *logger.Logger) LoaderOption {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg.Component("market_loader")
		}
	}
}

// Loader re-decodes a market and both book sides on demand.
type Loader struct {
	provider ledger.Provider
	books    *OrderBookCache
	decimals DecimalsResolver
	watcher  Watcher
	logger   *logger.Logger

	mu       sync.Mutex
	highSlot map[solana.PublicKey]uint64
}

func NewLoader(provider ledger.Provider, books *OrderBookCache, resolver DecimalsResolver, opts ...LoaderOption) *Loader {
	l := &Loader{
		provider: provider,
		books:    books,
		decimals: resolver,
		logger:   logger.NewNop(),
		highSlot: make(map[solana.PublicKey]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches the market account, resolves decimals and reads both book
// sides in parallel through the cache. Market or decimals failures fail
// the load; a failed book side is reported on the snapshot.
func (l *Loader) Load(ctx context.Context, address solana.PublicKey) (*Snapshot, error) {
	acc, err := l.provider.FetchAccount(ctx, address, rpc.CommitmentProcessed)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", address, err)
	}
	if err := l.advanceSlot(address, acc.Slot); err != nil {
		return nil, err
	}
	m, err := dex.DecodeMarket(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("decode market %s: %w", address, err)
	}
	bd, qd, err := l.decimals.ResolvePair(ctx, m.BaseMint, m.QuoteMint)
	if err != nil {
		return nil, fmt.Errorf("market %s decimals: %w", address, err)
	}
	if l.watcher != nil {
		l.watcher.Watch(m.Bids)
		l.watcher.Watch(m.Asks)
	}

	snap := &Snapshot{
		Address:       address,
		Market:        m,
		Slot:          acc.Slot,
		BaseDecimals:  bd,
		QuoteDecimals: qd,
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		snap.Bids, snap.BidErr = l.books.Get(ctx, m.Bids)
	}()
	go func() {
		defer wg.Done()
		snap.Asks, snap.AskErr = l.books.Get(ctx, m.Asks)
	}()
	wg.Wait()
	snap.LoadedAt = time.Now()

	if snap.BidErr != nil || snap.AskErr != nil {
		l.logger.Warn("book side unavailable",
			zap.Stringer("market", address),
			zap.NamedError("bids", snap.BidErr),
			zap.NamedError("asks", snap.AskErr))
	}
	return snap, nil
}

func (l *Loader) advanceSlot(address solana.PublicKey, slot uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if high := l.highSlot[address]; slot < high {
		return fmt.Errorf("market %s slot %d < %d: %w", address, slot, high, ErrStaleSlot)
	}
	l.highSlot[address] = slot
	return nil
}
