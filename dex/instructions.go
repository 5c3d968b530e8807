package dex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

var (
	// DefaultProgramID is the Serum v3 program on mainnet.
	DefaultProgramID = solana.MustPublicKeyFromBase58("srmqPvymJeFKQ4zGQed1GFppgkRHL9kaELCbyksJtPX")
	// MemoProgramID is the v1 memo program.
	MemoProgramID = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

	ErrInvalidInstruction = errors.New("dex: invalid instruction arguments")
)

const instructionVersion = 0

// Instruction tags of the market program.
const (
	tagConsumeEvents           uint32 = 3
	tagSettleFunds             uint32 = 5
	tagNewOrderV3              uint32 = 10
	tagCancelOrderByClientIDV2 uint32 = 12
)

type OrderType uint32

const (
	OrderTypeLimit OrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypePostOnly
)

type SelfTradeBehavior uint32

const (
	SelfTradeDecrementTake SelfTradeBehavior = iota
	SelfTradeCancelProvide
	SelfTradeAbortTransaction
)

// NewOrderAccounts lists the accounts touched by a new order, in wire order.
type NewOrderAccounts struct {
	Market       solana.PublicKey
	OpenOrders   solana.PublicKey
	RequestQueue solana.PublicKey
	EventQueue   solana.PublicKey
	Bids         solana.PublicKey
	Asks         solana.PublicKey
	// Payer is the token account debited: quote wallet for bids, base wallet for asks.
	Payer      solana.PublicKey
	Owner      solana.PublicKey
	BaseVault  solana.PublicKey
	QuoteVault solana.PublicKey
}

type NewOrderParams struct {
	Side          Side
	LimitPrice    uint64
	MaxBaseQty    uint64
	MaxQuoteQty   uint64
	SelfTrade     SelfTradeBehavior
	OrderType     OrderType
	ClientOrderID uint64
	Limit         uint16
}

// NewOrderV3 builds a place-order instruction. Quantities are in lots
// except MaxQuoteQty, which is native quote units including fees.
func NewOrderV3(programID solana.PublicKey, acc NewOrderAccounts, p NewOrderParams) (solana.Instruction, error) {
	if p.LimitPrice == 0 || p.MaxBaseQty == 0 || p.MaxQuoteQty == 0 {
		return nil, fmt.Errorf("new order price %d base %d quote %d: %w", p.LimitPrice, p.MaxBaseQty, p.MaxQuoteQty, ErrInvalidInstruction)
	}
	data, err := encodeInstruction(tagNewOrderV3, func(enc *bin.Encoder) error {
		return firstErr(
			enc.WriteUint32(uint32(p.Side), binary.LittleEndian),
			enc.WriteUint64(p.LimitPrice, binary.LittleEndian),
			enc.WriteUint64(p.MaxBaseQty, binary.LittleEndian),
			enc.WriteUint64(p.MaxQuoteQty, binary.LittleEndian),
			enc.WriteUint32(uint32(p.SelfTrade), binary.LittleEndian),
			enc.WriteUint32(uint32(p.OrderType), binary.LittleEndian),
			enc.WriteUint64(p.ClientOrderID, binary.LittleEndian),
			enc.WriteUint16(p.Limit, binary.LittleEndian),
		)
	})
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Market, true, false),
		solana.NewAccountMeta(acc.OpenOrders, true, false),
		solana.NewAccountMeta(acc.RequestQueue, true, false),
		solana.NewAccountMeta(acc.EventQueue, true, false),
		solana.NewAccountMeta(acc.Bids, true, false),
		solana.NewAccountMeta(acc.Asks, true, false),
		solana.NewAccountMeta(acc.Payer, true, false),
		solana.NewAccountMeta(acc.Owner, false, true),
		solana.NewAccountMeta(acc.BaseVault, true, false),
		solana.NewAccountMeta(acc.QuoteVault, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

type CancelAccounts struct {
	Market     solana.PublicKey
	Bids       solana.PublicKey
	Asks       solana.PublicKey
	OpenOrders solana.PublicKey
	Owner      solana.PublicKey
	EventQueue solana.PublicKey
}

// CancelOrderByClientIDV2 cancels the owner's order carrying clientOrderID.
func CancelOrderByClientIDV2(programID solana.PublicKey, acc CancelAccounts, clientOrderID uint64) (solana.Instruction, error) {
	if clientOrderID == 0 {
		return nil, fmt.Errorf("cancel: zero client order id: %w", ErrInvalidInstruction)
	}
	data, err := encodeInstruction(tagCancelOrderByClientIDV2, func(enc *bin.Encoder) error {
		return enc.WriteUint64(clientOrderID, binary.LittleEndian)
	})
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Market, true, false),
		solana.NewAccountMeta(acc.Bids, true, false),
		solana.NewAccountMeta(acc.Asks, true, false),
		solana.NewAccountMeta(acc.OpenOrders, true, false),
		solana.NewAccountMeta(acc.Owner, false, true),
		solana.NewAccountMeta(acc.EventQueue, true, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

type SettleAccounts struct {
	Market      solana.PublicKey
	OpenOrders  solana.PublicKey
	Owner       solana.PublicKey
	BaseVault   solana.PublicKey
	QuoteVault  solana.PublicKey
	BaseWallet  solana.PublicKey
	QuoteWallet solana.PublicKey
	VaultSigner solana.PublicKey
	// Referrer is optional; the zero key omits it.
	Referrer solana.PublicKey
}

// SettleFunds moves free balances from the open orders account to the wallets.
func SettleFunds(programID solana.PublicKey, acc SettleAccounts) (solana.Instruction, error) {
	data, err := encodeInstruction(tagSettleFunds, nil)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Market, true, false),
		solana.NewAccountMeta(acc.OpenOrders, true, false),
		solana.NewAccountMeta(acc.Owner, false, true),
		solana.NewAccountMeta(acc.BaseVault, true, false),
		solana.NewAccountMeta(acc.QuoteVault, true, false),
		solana.NewAccountMeta(acc.BaseWallet, true, false),
		solana.NewAccountMeta(acc.QuoteWallet, true, false),
		solana.NewAccountMeta(acc.VaultSigner, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	if !acc.Referrer.IsZero() {
		accounts = append(accounts, solana.NewAccountMeta(acc.Referrer, true, false))
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

type ConsumeEventsAccounts struct {
	OpenOrders         []solana.PublicKey
	Market             solana.PublicKey
	EventQueue         solana.PublicKey
	BaseFeeReceivable  solana.PublicKey
	QuoteFeeReceivable solana.PublicKey
}

// ConsumeEvents cranks up to limit events for the listed open orders accounts.
func ConsumeEvents(programID solana.PublicKey, acc ConsumeEventsAccounts, limit uint16) (solana.Instruction, error) {
	if len(acc.OpenOrders) == 0 || limit == 0 {
		return nil, fmt.Errorf("consume events: %d accounts limit %d: %w", len(acc.OpenOrders), limit, ErrInvalidInstruction)
	}
	data, err := encodeInstruction(tagConsumeEvents, func(enc *bin.Encoder) error {
		return enc.WriteUint16(limit, binary.LittleEndian)
	})
	if err != nil {
		return nil, err
	}
	accounts := make(solana.AccountMetaSlice, 0, len(acc.OpenOrders)+4)
	for _, oo := range acc.OpenOrders {
		accounts = append(accounts, solana.NewAccountMeta(oo, true, false))
	}
	accounts = append(accounts,
		solana.NewAccountMeta(acc.Market, true, false),
		solana.NewAccountMeta(acc.EventQueue, true, false),
		solana.NewAccountMeta(acc.BaseFeeReceivable, true, false),
		solana.NewAccountMeta(acc.QuoteFeeReceivable, true, false),
	)
	return solana.NewInstruction(programID, accounts, data), nil
}

// SetComputeUnitPrice sets the priority fee in micro-lamports per unit.
func SetComputeUnitPrice(microLamports uint64) (solana.Instruction, error) {
	ix, err := computebudget.NewSetComputeUnitPriceInstruction(microLamports).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("compute unit price: %w", err)
	}
	return ix, nil
}

// SetComputeUnitLimit caps the compute units of the transaction.
func SetComputeUnitLimit(units uint32) (solana.Instruction, error) {
	ix, err := computebudget.NewSetComputeUnitLimitInstruction(units).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("compute unit limit: %w", err)
	}
	return ix, nil
}

// Memo attaches a UTF-8 note signed by signer.
func Memo(text string, signer solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)}
	return solana.NewInstruction(MemoProgramID, accounts, []byte(text))
}

func encodeInstruction(tag uint32, payload func(*bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := firstErr(
		enc.WriteUint8(instructionVersion),
		enc.WriteUint32(tag, binary.LittleEndian),
	); err != nil {
		return nil, fmt.Errorf("encode instruction %d: %w", tag, err)
	}
	if payload != nil {
		if err := payload(enc); err != nil {
			return nil, fmt.Errorf("encode instruction %d: %w", tag, err)
		}
	}
	return buf.Bytes(), nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
