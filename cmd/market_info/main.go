package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"openbook-mm/config"
	"openbook-mm/decimals"
	"openbook-mm/dex"
	"openbook-mm/ledger"
	"openbook-mm/market"
)

// 查询单个市场的参数与盘口。
// 用法：
//
//	go run ./cmd/market_info -config configs/config.yaml -market 8BnEgHoWFysVcuFFX7QztDmzuH8r5ZFvyP3sYwn1XTh6 -depth 5
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	marketAddr := flag.String("market", "", "市场地址，留空则使用第一个策略的市场")
	depth := flag.Int("depth", 5, "每侧显示的档位数")
	owner := flag.String("owner", "", "只标记该 owner（open orders 账户）的挂单")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	addr := *marketAddr
	if addr == "" && len(cfg.Strategies) > 0 {
		addr = cfg.Strategies[0].Market
	}
	marketKey, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		log.Fatalf("市场地址无效 %q: %v", addr, err)
	}
	var ownerKey solana.PublicKey
	if *owner != "" {
		if ownerKey, err = solana.PublicKeyFromBase58(*owner); err != nil {
			log.Fatalf("owner 地址无效: %v", err)
		}
	}

	provider, err := ledger.NewRPCProvider(ledger.RPCConfig{
		Endpoint:          cfg.Ledger.RPCEndpoint,
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Burst:             cfg.Ledger.Burst,
		Commitment:        rpc.CommitmentType(cfg.Ledger.Commitment),
	}, nil, nil)
	if err != nil {
		log.Fatalf("创建 RPC 失败: %v", err)
	}

	resolver := decimals.New(provider)
	books := market.NewOrderBookCache(provider, market.CacheConfig{
		Depth:      *depth,
		Commitment: rpc.CommitmentType(cfg.Ledger.Commitment),
	})
	loader := market.NewLoader(provider, books, resolver)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Ledger.CallTimeout())
	defer cancel()
	snap, err := loader.Load(ctx, marketKey)
	if err != nil {
		log.Fatalf("加载市场失败: %v", err)
	}

	m := snap.Market
	fmt.Printf("%s slot=%d 加载时间=%s\n", snap.Address, snap.Slot, snap.LoadedAt.Format(time.RFC3339))
	fmt.Printf("  base=%s 精度=%d lot=%d\n", m.BaseMint, snap.BaseDecimals, m.BaseLotSize)
	fmt.Printf("  quote=%s 精度=%d lot=%d\n", m.QuoteMint, snap.QuoteDecimals, m.QuoteLotSize)
	fmt.Printf("  bids=%s asks=%s eventQueue=%s\n", m.Bids, m.Asks, m.EventQueue)
	fmt.Printf("  fee=%dbps disabled=%v\n", m.FeeRateBps, m.Disabled())

	for _, side := range []dex.Side{dex.SideAsk, dex.SideBid} {
		book, err := snap.Book(side)
		if err != nil {
			fmt.Printf("%s: 读取失败 %v\n", side, err)
			continue
		}
		fmt.Printf("%s: %d 笔挂单\n", side, book.LeafCount)
		printLevels(snap, book, ownerKey)
	}
}

func printLevels(snap *market.Snapshot, book *dex.OrderBookSummary, owner solana.PublicKey) {
	p := snap.Params()
	for _, o := range book.Orders {
		price, err := p.LotsToPrice(o.PriceLots)
		if err != nil {
			continue
		}
		mark := ""
		if !owner.IsZero() && o.Owner.Equals(owner) {
			mark = fmt.Sprintf(" <- clientId=%d", o.ClientOrderID)
		}
		fmt.Printf("  %14.6f  %14.6f%s\n", price, p.LotsToSize(o.Quantity), mark)
	}
}
