package order

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"openbook-mm/dex"
	"openbook-mm/ledger"
	"openbook-mm/market"
)

var ErrInvalidRequote = errors.New("order: invalid requote")

// DefaultMemo 附在每笔报价交易末尾
const DefaultMemo = "Liquidity by Arcana"

// Accounts 做市账户：open orders 账户、签名者与两侧钱包。
type Accounts struct {
	ProgramID   solana.PublicKey
	OpenOrders  solana.PublicKey
	Owner       solana.PublicKey
	BaseWallet  solana.PublicKey
	QuoteWallet solana.PublicKey
	// Referrer 为零值时 settle 不带推荐人账户
	Referrer solana.PublicKey
}

// BundleConfig 报价交易的固定参数
type BundleConfig struct {
	ComputeUnitPrice   uint64
	ComputeUnitLimit   uint32
	ConsumeEventsLimit uint16
	OrderLimit         uint16
	MaxQuoteMarginLots uint64
	OrderType          dex.OrderType
	SelfTrade          dex.SelfTradeBehavior
	Memo               string
}

// DefaultBundleConfig 返回默认配置
func DefaultBundleConfig() BundleConfig {
	return BundleConfig{
		ComputeUnitPrice:   151_420,
		ComputeUnitLimit:   54_800,
		ConsumeEventsLimit: 5,
		OrderLimit:         5,
		MaxQuoteMarginLots: 1,
		OrderType:          dex.OrderTypePostOnly,
		SelfTrade:          dex.SelfTradeDecrementTake,
		Memo:               DefaultMemo,
	}
}

// Requote 一侧的撤旧挂新请求。CancelClientOrderID 为 0 时不撤单。
type Requote struct {
	Side                dex.Side
	Price               float64
	Size                float64
	ClientOrderID       uint64
	CancelClientOrderID uint64
}

// BuildRequote 按顺序组装：compute budget、consume events、(撤单)、settle、新单、memo。
func BuildRequote(snap *market.Snapshot, acc Accounts, cfg BundleConfig, q Requote) (ledger.Bundle, error) {
	if snap == nil || snap.Market == nil {
		return ledger.Bundle{}, fmt.Errorf("no market snapshot: %w", ErrInvalidRequote)
	}
	if q.ClientOrderID == 0 {
		return ledger.Bundle{}, fmt.Errorf("zero client order id: %w", ErrInvalidRequote)
	}
	if q.Side != dex.SideBid && q.Side != dex.SideAsk {
		return ledger.Bundle{}, fmt.Errorf("%s: %w", q.Side, ErrInvalidRequote)
	}
	m := snap.Market
	params := snap.Params()

	priceLots, err := params.PriceToLots(q.Price)
	if err != nil {
		return ledger.Bundle{}, fmt.Errorf("%s price: %w", q.Side, err)
	}
	sizeLots, err := params.SizeToLots(q.Size)
	if err != nil {
		return ledger.Bundle{}, fmt.Errorf("%s size: %w", q.Side, err)
	}
	maxQuote, err := params.MaxQuoteQuantity(q.Price, q.Size)
	if err != nil {
		return ledger.Bundle{}, fmt.Errorf("%s max quote: %w", q.Side, err)
	}
	maxQuote += cfg.MaxQuoteMarginLots * m.QuoteLotSize

	vaultSigner, err := m.VaultSigner(acc.ProgramID)
	if err != nil {
		return ledger.Bundle{}, err
	}

	price, err := dex.SetComputeUnitPrice(cfg.ComputeUnitPrice)
	if err != nil {
		return ledger.Bundle{}, err
	}
	limit, err := dex.SetComputeUnitLimit(cfg.ComputeUnitLimit)
	if err != nil {
		return ledger.Bundle{}, err
	}
	consume, err := dex.ConsumeEvents(acc.ProgramID, dex.ConsumeEventsAccounts{
		OpenOrders:         []solana.PublicKey{acc.OpenOrders},
		Market:             m.OwnAddress,
		EventQueue:         m.EventQueue,
		BaseFeeReceivable:  acc.BaseWallet,
		QuoteFeeReceivable: acc.QuoteWallet,
	}, cfg.ConsumeEventsLimit)
	if err != nil {
		return ledger.Bundle{}, err
	}
	ixs := []solana.Instruction{price, limit, consume}

	if q.CancelClientOrderID != 0 {
		cancel, err := dex.CancelOrderByClientIDV2(acc.ProgramID, dex.CancelAccounts{
			Market:     m.OwnAddress,
			Bids:       m.Bids,
			Asks:       m.Asks,
			OpenOrders: acc.OpenOrders,
			Owner:      acc.Owner,
			EventQueue: m.EventQueue,
		}, q.CancelClientOrderID)
		if err != nil {
			return ledger.Bundle{}, err
		}
		ixs = append(ixs, cancel)
	}

	settle, err := dex.SettleFunds(acc.ProgramID, dex.SettleAccounts{
		Market:      m.OwnAddress,
		OpenOrders:  acc.OpenOrders,
		Owner:       acc.Owner,
		BaseVault:   m.BaseVault,
		QuoteVault:  m.QuoteVault,
		BaseWallet:  acc.BaseWallet,
		QuoteWallet: acc.QuoteWallet,
		VaultSigner: vaultSigner,
		Referrer:    acc.Referrer,
	})
	if err != nil {
		return ledger.Bundle{}, err
	}

	payer := acc.QuoteWallet
	if q.Side == dex.SideAsk {
		payer = acc.BaseWallet
	}
	place, err := dex.NewOrderV3(acc.ProgramID, dex.NewOrderAccounts{
		Market:       m.OwnAddress,
		OpenOrders:   acc.OpenOrders,
		RequestQueue: m.RequestQueue,
		EventQueue:   m.EventQueue,
		Bids:         m.Bids,
		Asks:         m.Asks,
		Payer:        payer,
		Owner:        acc.Owner,
		BaseVault:    m.BaseVault,
		QuoteVault:   m.QuoteVault,
	}, dex.NewOrderParams{
		Side:          q.Side,
		LimitPrice:    priceLots,
		MaxBaseQty:    sizeLots,
		MaxQuoteQty:   maxQuote,
		SelfTrade:     cfg.SelfTrade,
		OrderType:     cfg.OrderType,
		ClientOrderID: q.ClientOrderID,
		Limit:         cfg.OrderLimit,
	})
	if err != nil {
		return ledger.Bundle{}, err
	}
	ixs = append(ixs, settle, place)

	if cfg.Memo != "" {
		ixs = append(ixs, dex.Memo(cfg.Memo, acc.Owner))
	}

	return ledger.Bundle{
		Label:        fmt.Sprintf("requote-%s", q.Side),
		Payer:        acc.Owner,
		Instructions: ixs,
	}, nil
}
