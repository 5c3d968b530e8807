package dex_test

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-mm/dex"
)

func key() solana.PublicKey { return solana.NewWallet().PublicKey() }

func TestNewOrderV3Encoding(t *testing.T) {
	acc := dex.NewOrderAccounts{
		Market: key(), OpenOrders: key(), RequestQueue: key(), EventQueue: key(),
		Bids: key(), Asks: key(), Payer: key(), Owner: key(), BaseVault: key(), QuoteVault: key(),
	}
	ix, err := dex.NewOrderV3(dex.DefaultProgramID, acc, dex.NewOrderParams{
		Side:          dex.SideAsk,
		LimitPrice:    250_100,
		MaxBaseQty:    100,
		MaxQuoteQty:   2_501_100_000,
		SelfTrade:     dex.SelfTradeDecrementTake,
		OrderType:     dex.OrderTypePostOnly,
		ClientOrderID: 42,
		Limit:         5,
	})
	require.NoError(t, err)
	assert.Equal(t, dex.DefaultProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 1+4+4+8+8+8+4+4+8+2)
	assert.Equal(t, byte(0), data[0])
	assert.Equal(t, uint32(10), binary.LittleEndian.Uint32(data[1:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(data[5:]))
	assert.Equal(t, uint64(250_100), binary.LittleEndian.Uint64(data[9:]))
	assert.Equal(t, uint64(100), binary.LittleEndian.Uint64(data[17:]))
	assert.Equal(t, uint64(2_501_100_000), binary.LittleEndian.Uint64(data[25:]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[33:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[37:]))
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(data[41:]))
	assert.Equal(t, uint16(5), binary.LittleEndian.Uint16(data[49:]))

	accounts := ix.Accounts()
	require.Len(t, accounts, 12)
	assert.Equal(t, acc.Market, accounts[0].PublicKey)
	assert.True(t, accounts[7].IsSigner)
	assert.Equal(t, acc.Owner, accounts[7].PublicKey)
	assert.Equal(t, solana.TokenProgramID, accounts[10].PublicKey)
	assert.Equal(t, solana.SysVarRentPubkey, accounts[11].PublicKey)
}

func TestNewOrderV3RejectsZero(t *testing.T) {
	_, err := dex.NewOrderV3(dex.DefaultProgramID, dex.NewOrderAccounts{}, dex.NewOrderParams{LimitPrice: 1, MaxBaseQty: 1})
	assert.ErrorIs(t, err, dex.ErrInvalidInstruction)
}

func TestCancelOrderByClientIDV2(t *testing.T) {
	acc := dex.CancelAccounts{Market: key(), Bids: key(), Asks: key(), OpenOrders: key(), Owner: key(), EventQueue: key()}
	ix, err := dex.CancelOrderByClientIDV2(dex.DefaultProgramID, acc, 77)
	require.NoError(t, err)
	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 13)
	assert.Equal(t, uint32(12), binary.LittleEndian.Uint32(data[1:]))
	assert.Equal(t, uint64(77), binary.LittleEndian.Uint64(data[5:]))
	assert.Len(t, ix.Accounts(), 6)

	_, err = dex.CancelOrderByClientIDV2(dex.DefaultProgramID, acc, 0)
	assert.ErrorIs(t, err, dex.ErrInvalidInstruction)
}

func TestSettleFundsReferrer(t *testing.T) {
	acc := dex.SettleAccounts{
		Market: key(), OpenOrders: key(), Owner: key(), BaseVault: key(), QuoteVault: key(),
		BaseWallet: key(), QuoteWallet: key(), VaultSigner: key(),
	}
	ix, err := dex.SettleFunds(dex.DefaultProgramID, acc)
	require.NoError(t, err)
	assert.Len(t, ix.Accounts(), 9)
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 5, 0, 0, 0}, data)

	acc.Referrer = key()
	ix, err = dex.SettleFunds(dex.DefaultProgramID, acc)
	require.NoError(t, err)
	require.Len(t, ix.Accounts(), 10)
	assert.Equal(t, acc.Referrer, ix.Accounts()[9].PublicKey)
}

func TestConsumeEvents(t *testing.T) {
	oo := []solana.PublicKey{key(), key()}
	ix, err := dex.ConsumeEvents(dex.DefaultProgramID, dex.ConsumeEventsAccounts{
		OpenOrders: oo, Market: key(), EventQueue: key(),
		BaseFeeReceivable: key(), QuoteFeeReceivable: key(),
	}, 5)
	require.NoError(t, err)
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 3, 0, 0, 0, 5, 0}, data)
	assert.Len(t, ix.Accounts(), 6)

	_, err = dex.ConsumeEvents(dex.DefaultProgramID, dex.ConsumeEventsAccounts{}, 5)
	assert.ErrorIs(t, err, dex.ErrInvalidInstruction)
}

func TestComputeBudgetAndMemo(t *testing.T) {
	price, err := dex.SetComputeUnitPrice(151_420)
	require.NoError(t, err)
	data, err := price.Data()
	require.NoError(t, err)
	assert.Equal(t, byte(3), data[0])
	assert.Equal(t, uint64(151_420), binary.LittleEndian.Uint64(data[1:]))

	limit, err := dex.SetComputeUnitLimit(54_800)
	require.NoError(t, err)
	data, err = limit.Data()
	require.NoError(t, err)
	assert.Equal(t, byte(2), data[0])
	assert.Equal(t, uint32(54_800), binary.LittleEndian.Uint32(data[1:]))

	signer := key()
	memo := dex.Memo("Liquidity by Arcana", signer)
	assert.Equal(t, dex.MemoProgramID, memo.ProgramID())
	data, err = memo.Data()
	require.NoError(t, err)
	assert.Equal(t, "Liquidity by Arcana", string(data))
}
