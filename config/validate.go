package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if cfg.Ledger.RPCEndpoint == "" {
		return ErrInvalid("ledger.rpcEndpoint is required (or MM_RPC_ENDPOINT)")
	}
	if cfg.Ledger.KeypairPath == "" && !cfg.Ledger.DryRun {
		return ErrInvalid("ledger.keypairPath is required unless ledger.dryRun (or MM_KEYPAIR_PATH)")
	}
	if cfg.Cache.Stream && cfg.Ledger.WSEndpoint == "" {
		return ErrInvalid("cache.stream requires ledger.wsEndpoint (or MM_WS_ENDPOINT)")
	}
	if cfg.Cache.Depth < 0 {
		return ErrInvalid("cache.depth must be >= 0")
	}
	if cfg.Dex.ProgramID != "" {
		if _, err := solana.PublicKeyFromBase58(cfg.Dex.ProgramID); err != nil {
			return ErrInvalid(fmt.Sprintf("dex.programId: %v", err))
		}
	}
	if err := validateOracle(cfg.Oracle); err != nil {
		return err
	}
	if len(cfg.Strategies) == 0 {
		return ErrInvalid("strategies config is required")
	}

	seen := make(map[string]bool, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		if s.Name == "" {
			return ErrInvalid("strategy name is required")
		}
		if seen[s.Name] {
			return ErrInvalid(fmt.Sprintf("strategy %s defined twice", s.Name))
		}
		seen[s.Name] = true
		if err := validateStrategy(s, cfg.Oracle.Kind); err != nil {
			return err
		}
	}
	return nil
}

func validateOracle(o OracleConfig) error {
	switch strings.ToLower(o.Kind) {
	case "none":
	case "static":
		if len(o.StaticPrices) == 0 {
			return ErrInvalid("oracle.staticPrices is required for kind static")
		}
	case "pyth":
		if len(o.PythFeeds) == 0 {
			return ErrInvalid("oracle.pythFeeds is required for kind pyth")
		}
		for sym, addr := range o.PythFeeds {
			if _, err := solana.PublicKeyFromBase58(addr); err != nil {
				return ErrInvalid(fmt.Sprintf("oracle.pythFeeds.%s: %v", sym, err))
			}
		}
	default:
		return ErrInvalid(fmt.Sprintf("oracle.kind %q unknown", o.Kind))
	}
	return nil
}

func validateStrategy(s StrategyConfig, oracleKind string) error {
	keys := map[string]string{
		"market":      s.Market,
		"openOrders":  s.OpenOrders,
		"baseWallet":  s.BaseWallet,
		"quoteWallet": s.QuoteWallet,
	}
	for field, v := range keys {
		if _, err := solana.PublicKeyFromBase58(v); err != nil {
			return ErrInvalid(fmt.Sprintf("strategy %s %s: %v", s.Name, field, err))
		}
	}
	if s.Referrer != "" {
		if _, err := solana.PublicKeyFromBase58(s.Referrer); err != nil {
			return ErrInvalid(fmt.Sprintf("strategy %s referrer: %v", s.Name, err))
		}
	}
	switch strings.ToLower(s.Pricing) {
	case "book":
	case "oracle":
		if strings.ToLower(oracleKind) == "none" {
			return ErrInvalid(fmt.Sprintf("strategy %s uses oracle pricing but oracle.kind is none", s.Name))
		}
		if s.Symbol == "" {
			return ErrInvalid(fmt.Sprintf("strategy %s symbol is required for oracle pricing", s.Name))
		}
	default:
		return ErrInvalid(fmt.Sprintf("strategy %s pricing %q unknown", s.Name, s.Pricing))
	}
	if s.IntervalMs <= 0 {
		return ErrInvalid(fmt.Sprintf("strategy %s intervalMs must be > 0", s.Name))
	}
	if s.Bundle.OrderLimit == 0 || s.Bundle.ConsumeEventsLimit == 0 {
		return ErrInvalid(fmt.Sprintf("strategy %s bundle limits must be > 0", s.Name))
	}
	if err := ValidateParams(s.Params); err != nil {
		return ErrInvalid(fmt.Sprintf("strategy %s %s", s.Name, err))
	}
	return nil
}

// finite 非 NaN、非无穷
func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
