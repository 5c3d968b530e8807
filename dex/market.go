package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Market is a decoded market state account. It is immutable and replaced
// wholesale whenever the account is decoded again.
type Market struct {
	Flags                  AccountFlags
	OwnAddress             solana.PublicKey
	VaultSignerNonce       uint64
	BaseMint               solana.PublicKey
	QuoteMint              solana.PublicKey
	BaseVault              solana.PublicKey
	BaseDepositsTotal      uint64
	BaseFeesAccrued        uint64
	QuoteVault             solana.PublicKey
	QuoteDepositsTotal     uint64
	QuoteFeesAccrued       uint64
	QuoteDustThreshold     uint64
	RequestQueue           solana.PublicKey
	EventQueue             solana.PublicKey
	Bids                   solana.PublicKey
	Asks                   solana.PublicKey
	BaseLotSize            uint64
	QuoteLotSize           uint64
	FeeRateBps             uint64
	ReferrerRebatesAccrued uint64
}

// DecodeMarket decodes a market state account.
func DecodeMarket(data []byte) (*Market, error) {
	if len(data) < MarketAccountSize {
		return nil, fmt.Errorf("market: %d bytes, need %d: %w", len(data), MarketAccountSize, ErrTooShort)
	}
	flags, err := readHeader(data)
	if err != nil {
		return nil, fmt.Errorf("market: %w", err)
	}
	if !flags.Has(FlagInitialized | FlagMarket) {
		return nil, fmt.Errorf("market: flags %s: %w", flags, ErrInvalidFlags)
	}

	m := &Market{
		Flags:                  flags,
		OwnAddress:             readPubkey(data, ownAddressOffset),
		VaultSignerNonce:       readU64(data, vaultSignerNonceOffset),
		BaseMint:               readPubkey(data, baseMintOffset),
		QuoteMint:              readPubkey(data, quoteMintOffset),
		BaseVault:              readPubkey(data, baseVaultOffset),
		BaseDepositsTotal:      readU64(data, baseDepositsTotalOffset),
		BaseFeesAccrued:        readU64(data, baseFeesAccruedOffset),
		QuoteVault:             readPubkey(data, quoteVaultOffset),
		QuoteDepositsTotal:     readU64(data, quoteDepositsTotalOffset),
		QuoteFeesAccrued:       readU64(data, quoteFeesAccruedOffset),
		QuoteDustThreshold:     readU64(data, quoteDustThresholdOffset),
		RequestQueue:           readPubkey(data, requestQueueOffset),
		EventQueue:             readPubkey(data, eventQueueOffset),
		Bids:                   readPubkey(data, bidsOffset),
		Asks:                   readPubkey(data, asksOffset),
		BaseLotSize:            readU64(data, baseLotSizeOffset),
		QuoteLotSize:           readU64(data, quoteLotSizeOffset),
		FeeRateBps:             readU64(data, feeRateBpsOffset),
		ReferrerRebatesAccrued: readU64(data, referrerRebatesAccruedOffset),
	}
	if m.BaseLotSize == 0 || m.QuoteLotSize == 0 {
		return nil, fmt.Errorf("market %s: base lot %d quote lot %d: %w", m.OwnAddress, m.BaseLotSize, m.QuoteLotSize, ErrZeroLotSize)
	}
	return m, nil
}

// Disabled reports whether the market no longer accepts new orders.
func (m *Market) Disabled() bool {
	return m.Flags&(FlagDisabled|FlagClosed) != 0
}

// VaultSigner derives the program address that owns the market vaults.
func (m *Market) VaultSigner(programID solana.PublicKey) (solana.PublicKey, error) {
	nonce := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonce, m.VaultSignerNonce)
	addr, err := solana.CreateProgramAddress([][]byte{m.OwnAddress[:], nonce}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("vault signer for %s: %w", m.OwnAddress, err)
	}
	return addr, nil
}

func readHeader(data []byte) (AccountFlags, error) {
	if string(data[:headSize]) != accountHead {
		return 0, fmt.Errorf("head %q: %w", data[:headSize], ErrInvalidFlags)
	}
	return AccountFlags(readU64(data, flagsOffset)), nil
}

func readU64(data []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(data[off : off+8])
}

func readPubkey(data []byte, off int) solana.PublicKey {
	return solana.PublicKeyFromBytes(data[off : off+32])
}
