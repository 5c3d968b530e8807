// Package decimals resolves SPL mint decimals with a process-wide,
// write-once cache.
package decimals

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
	"golang.org/x/time/rate"

	"openbook-mm/dex"
	"openbook-mm/infrastructure/logger"
	"openbook-mm/ledger"
)

var (
	WrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	USDCMint       = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	USDTMint       = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")

	ErrLookupFailed = errors.New("decimals: lookup failed")
)

// wellKnown never touch the ledger.
var wellKnown = map[solana.PublicKey]uint8{
	WrappedSOLMint: 9,
	USDCMint:       6,
	USDTMint:       6,
}

// DefaultLookupInterval is the minimum spacing between two lookups of the
// same mint. Global request pacing is the provider's job.
const DefaultLookupInterval = 100 * time.Millisecond

// DefaultLookupTimeout bounds one shared lookup, independent of the callers.
const DefaultLookupTimeout = 10 * time.Second

// Metrics is satisfied by *monitor.Monitor.
type Metrics interface {
	RecordDecimalsLookup(result string)
}

type Option func(*Resolver)

func WithLookupInterval(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l.Component("decimals")
		}
	}
}

// Resolver maps mints to decimals. Entries are never evicted and failures
// are never cached. Each mint has its own pacer, so unrelated mints never
// wait on each other.
type Resolver struct {
	provider ledger.Provider
	cache    sync.Map // solana.PublicKey -> uint8
	group    singleflight.Group
	interval time.Duration
	timeout  time.Duration
	metrics  Metrics
	logger   *logger.Logger

	pacersMu sync.Mutex
	pacers   map[solana.PublicKey]*rate.Limiter
}

func New(provider ledger.Provider, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		interval: DefaultLookupInterval,
		timeout:  DefaultLookupTimeout,
		logger:   logger.NewNop(),
		pacers:   make(map[solana.PublicKey]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed stores a known value, e.g. from configuration.
func (r *Resolver) Seed(mint solana.PublicKey, decimals uint8) {
	r.cache.LoadOrStore(mint, decimals)
}

// Resolve returns the decimals of mint.
func (r *Resolver) Resolve(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if d, ok := wellKnown[mint]; ok {
		r.record("shortcut")
		return d, nil
	}
	if v, ok := r.cache.Load(mint); ok {
		r.record("cached")
		return v.(uint8), nil
	}

	// 共享的查询不受任一调用方取消影响；调用方各自可以放弃等待
	lookupCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(mint.String(), func() (interface{}, error) {
		if v, ok := r.cache.Load(mint); ok {
			return v, nil
		}
		fetchCtx, cancel := context.WithTimeout(lookupCtx, r.timeout)
		defer cancel()
		d, err := r.fetch(fetchCtx, mint)
		if err != nil {
			return nil, err
		}
		actual, _ := r.cache.LoadOrStore(mint, d)
		return actual, nil
	})
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("mint %s: %w: %v", mint, ErrLookupFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			r.record("failed")
			r.logger.Warn("mint decimals lookup failed", zap.Stringer("mint", mint), zap.Error(res.Err))
			return 0, res.Err
		}
		r.record("fetched")
		return res.Val.(uint8), nil
	}
}

// ResolvePair resolves base and quote decimals of a market.
func (r *Resolver) ResolvePair(ctx context.Context, base, quote solana.PublicKey) (uint8, uint8, error) {
	bd, err := r.Resolve(ctx, base)
	if err != nil {
		return 0, 0, err
	}
	qd, err := r.Resolve(ctx, quote)
	if err != nil {
		return 0, 0, err
	}
	return bd, qd, nil
}

func (r *Resolver) fetch(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if err := r.pacer(mint).Wait(ctx); err != nil {
		return 0, fmt.Errorf("mint %s: %w: %v", mint, ErrLookupFailed, err)
	}
	acc, err := r.provider.FetchAccount(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("mint %s: %w: %v", mint, ErrLookupFailed, err)
	}
	d, err := dex.DecodeMintDecimals(acc.Data)
	if err != nil {
		return 0, fmt.Errorf("mint %s: %w: %v", mint, ErrLookupFailed, err)
	}
	return d, nil
}

// pacer 返回 mint 专属的限速器；只在取用时短暂持锁
func (r *Resolver) pacer(mint solana.PublicKey) *rate.Limiter {
	r.pacersMu.Lock()
	defer r.pacersMu.Unlock()
	l, ok := r.pacers[mint]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.interval), 1)
		r.pacers[mint] = l
	}
	return l
}

func (r *Resolver) record(result string) {
	if r.metrics != nil {
		r.metrics.RecordDecimalsLookup(result)
	}
}
