package dex

// Serum v3 / OpenBook account layout. All integers are little-endian.
const (
	accountHead       = "serum"
	accountTail       = "padding"
	headSize          = 5
	flagsOffset       = headSize
	accountHeaderSize = headSize + 8
	tailSize          = 7

	ownAddressOffset             = 13
	vaultSignerNonceOffset       = 45
	baseMintOffset               = 53
	quoteMintOffset              = 85
	baseVaultOffset              = 117
	baseDepositsTotalOffset      = 149
	baseFeesAccruedOffset        = 157
	quoteVaultOffset             = 165
	quoteDepositsTotalOffset     = 197
	quoteFeesAccruedOffset       = 205
	quoteDustThresholdOffset     = 213
	requestQueueOffset           = 221
	eventQueueOffset             = 253
	bidsOffset                   = 285
	asksOffset                   = 317
	baseLotSizeOffset            = 349
	quoteLotSizeOffset           = 357
	feeRateBpsOffset             = 365
	referrerRebatesAccruedOffset = 373

	// MarketAccountSize is the minimum length of a market account.
	MarketAccountSize = 388

	slabHeaderOffset = accountHeaderSize
	slabHeaderSize   = 32
	slabNodesOffset  = slabHeaderOffset + slabHeaderSize
	// SlabNodeSize is the fixed size of every slab node.
	SlabNodeSize = 72
	// MinOrderBookSize covers head, flags, slab header and tail padding.
	MinOrderBookSize = slabNodesOffset + tailSize

	// MintAccountSize is the SPL token mint record length.
	MintAccountSize     = 82
	mintDecimalsOffset  = 44
	mintInitializedFlag = 45
)
