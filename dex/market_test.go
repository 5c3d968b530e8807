package dex_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-mm/dex"
	"openbook-mm/dex/dextest"
)

func testMarketFields() dextest.MarketFields {
	return dextest.MarketFields{
		OwnAddress:       solana.NewWallet().PublicKey(),
		VaultSignerNonce: 1,
		BaseMint:         solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112"),
		QuoteMint:        solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		BaseVault:        solana.NewWallet().PublicKey(),
		QuoteVault:       solana.NewWallet().PublicKey(),
		RequestQueue:     solana.NewWallet().PublicKey(),
		EventQueue:       solana.NewWallet().PublicKey(),
		Bids:             solana.NewWallet().PublicKey(),
		Asks:             solana.NewWallet().PublicKey(),
		BaseLotSize:      1_000_000,
		QuoteLotSize:     100,
		FeeRateBps:       22,
	}
}

func TestDecodeMarket(t *testing.T) {
	f := testMarketFields()
	m, err := dex.DecodeMarket(dextest.MarketAccount(f))
	require.NoError(t, err)

	assert.Equal(t, f.OwnAddress, m.OwnAddress)
	assert.Equal(t, f.BaseMint, m.BaseMint)
	assert.Equal(t, f.QuoteMint, m.QuoteMint)
	assert.Equal(t, f.BaseVault, m.BaseVault)
	assert.Equal(t, f.QuoteVault, m.QuoteVault)
	assert.Equal(t, f.RequestQueue, m.RequestQueue)
	assert.Equal(t, f.EventQueue, m.EventQueue)
	assert.Equal(t, f.Bids, m.Bids)
	assert.Equal(t, f.Asks, m.Asks)
	assert.Equal(t, uint64(1_000_000), m.BaseLotSize)
	assert.Equal(t, uint64(100), m.QuoteLotSize)
	assert.Equal(t, uint64(22), m.FeeRateBps)
	assert.Equal(t, uint64(1), m.VaultSignerNonce)
	assert.True(t, m.Flags.Has(dex.FlagInitialized|dex.FlagMarket))
	assert.False(t, m.Disabled())
}

func TestDecodeMarketRejects(t *testing.T) {
	good := dextest.MarketAccount(testMarketFields())

	tests := []struct {
		name string
		data func() []byte
		want error
	}{
		{"empty", func() []byte { return nil }, dex.ErrTooShort},
		{"one byte short", func() []byte { return good[:dex.MarketAccountSize-1] }, dex.ErrTooShort},
		{"bad head", func() []byte {
			b := append([]byte(nil), good...)
			copy(b, "xxxxx")
			return b
		}, dex.ErrInvalidFlags},
		{"not a market", func() []byte {
			f := testMarketFields()
			f.Flags = dex.FlagInitialized | dex.FlagBids
			return dextest.MarketAccount(f)
		}, dex.ErrInvalidFlags},
		{"zero base lot", func() []byte {
			f := testMarketFields()
			f.BaseLotSize = 0
			return dextest.MarketAccount(f)
		}, dex.ErrZeroLotSize},
		{"zero quote lot", func() []byte {
			f := testMarketFields()
			f.QuoteLotSize = 0
			return dextest.MarketAccount(f)
		}, dex.ErrZeroLotSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dex.DecodeMarket(tt.data())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarketVaultSigner(t *testing.T) {
	// nonce search mirrors how markets are created: the first nonce that
	// yields an off-curve address.
	f := testMarketFields()
	var signer solana.PublicKey
	var found bool
	for nonce := uint64(0); nonce < 255 && !found; nonce++ {
		f.VaultSignerNonce = nonce
		m, err := dex.DecodeMarket(dextest.MarketAccount(f))
		require.NoError(t, err)
		if s, err := m.VaultSigner(dex.DefaultProgramID); err == nil {
			signer, found = s, true
		}
	}
	require.True(t, found)
	assert.False(t, signer.IsZero())
}

func TestDecodeMintDecimals(t *testing.T) {
	d, err := dex.DecodeMintDecimals(dextest.MintAccount(9))
	require.NoError(t, err)
	assert.Equal(t, uint8(9), d)

	_, err = dex.DecodeMintDecimals(dextest.MintAccount(6)[:44])
	assert.ErrorIs(t, err, dex.ErrTooShort)

	uninit := dextest.MintAccount(6)
	uninit[45] = 0
	_, err = dex.DecodeMintDecimals(uninit)
	assert.ErrorIs(t, err, dex.ErrInvalidFlags)
}

func TestAccountFlagsString(t *testing.T) {
	assert.Equal(t, "none", dex.AccountFlags(0).String())
	assert.Equal(t, "initialized|asks", (dex.FlagInitialized | dex.FlagAsks).String())
}
