package dex

import "fmt"

// DecodeMintDecimals reads the decimals byte of an SPL token mint record.
func DecodeMintDecimals(data []byte) (uint8, error) {
	if len(data) < MintAccountSize {
		return 0, fmt.Errorf("mint: %d bytes, need %d: %w", len(data), MintAccountSize, ErrTooShort)
	}
	if data[mintInitializedFlag] == 0 {
		return 0, fmt.Errorf("mint: not initialized: %w", ErrInvalidFlags)
	}
	return data[mintDecimalsOffset], nil
}
