package dex_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-mm/dex"
	"openbook-mm/dex/dextest"
)

func sampleLeaves(owner solana.PublicKey) []dextest.Leaf {
	return []dextest.Leaf{
		{PriceLots: 249_000, Seq: 1, Quantity: 3, Owner: owner, ClientOrderID: 11},
		{PriceLots: 250_000, Seq: 2, Quantity: 5, Owner: owner, ClientOrderID: 12},
		{PriceLots: 248_500, Seq: 3, Quantity: 7, Owner: owner, ClientOrderID: 13},
		{PriceLots: 251_000, Seq: 4, Quantity: 1, Owner: owner, ClientOrderID: 14},
		{PriceLots: 247_000, Seq: 5, Quantity: 2, Owner: owner, ClientOrderID: 15},
	}
}

func TestDecodeOrderBookBids(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	data := dextest.BookAccount(dex.SideBid, sampleLeaves(owner), 3)

	book, err := dex.DecodeOrderBook(data, -1)
	require.NoError(t, err)
	assert.Equal(t, dex.SideBid, book.Side)
	require.True(t, book.HasBest)
	assert.Equal(t, uint64(251_000), book.Best.PriceLots)
	assert.Equal(t, uint64(14), book.Best.ClientOrderID)
	assert.Equal(t, uint64(5), book.LeafCount)

	require.Len(t, book.Orders, 5)
	prices := make([]uint64, 0, len(book.Orders))
	for _, o := range book.Orders {
		prices = append(prices, o.PriceLots)
	}
	assert.Equal(t, []uint64{251_000, 250_000, 249_000, 248_500, 247_000}, prices)
}

func TestDecodeOrderBookAsksDepth(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	data := dextest.BookAccount(dex.SideAsk, sampleLeaves(owner), 0)

	book, err := dex.DecodeOrderBook(data, 2)
	require.NoError(t, err)
	assert.Equal(t, dex.SideAsk, book.Side)
	assert.Equal(t, uint64(247_000), book.Best.PriceLots)
	require.Len(t, book.Orders, 2)
	assert.Equal(t, uint64(247_000), book.Orders[0].PriceLots)
	assert.Equal(t, uint64(248_500), book.Orders[1].PriceLots)

	none, err := dex.DecodeOrderBook(data, 0)
	require.NoError(t, err)
	assert.Empty(t, none.Orders)
	assert.True(t, none.HasBest)
}

func TestDecodeOrderBookEmpty(t *testing.T) {
	book, err := dex.DecodeOrderBook(dextest.BookAccount(dex.SideAsk, nil, 4), -1)
	require.NoError(t, err)
	assert.False(t, book.HasBest)
	assert.Zero(t, book.LeafCount)
	assert.Empty(t, book.Orders)
}

func TestDecodeOrderBookSingleLeaf(t *testing.T) {
	leaf := dextest.Leaf{PriceLots: 250_000, Seq: 9, Quantity: 4}
	book, err := dex.DecodeOrderBook(dextest.BookAccount(dex.SideBid, []dextest.Leaf{leaf}, 0), -1)
	require.NoError(t, err)
	require.True(t, book.HasBest)
	assert.Equal(t, uint64(250_000), book.Best.PriceLots)
	assert.Len(t, book.Orders, 1)
}

func TestFindByClientID(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	leaves := sampleLeaves(owner)
	leaves[2].Owner = other

	book, err := dex.DecodeOrderBook(dextest.BookAccount(dex.SideBid, leaves, 0), -1)
	require.NoError(t, err)

	o, ok := book.FindByClientID(owner, 12)
	require.True(t, ok)
	assert.Equal(t, uint64(250_000), o.PriceLots)

	_, ok = book.FindByClientID(owner, 13)
	assert.False(t, ok, "order 13 belongs to another owner")

	var nilBook *dex.OrderBookSummary
	_, ok = nilBook.FindByClientID(owner, 12)
	assert.False(t, ok)
}

func TestDecodeOrderBookRejects(t *testing.T) {
	leaf := dextest.LeafNode(dextest.Leaf{PriceLots: 1, Seq: 1, Quantity: 1})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"too short", make([]byte, dex.MinOrderBookSize-1), dex.ErrTooShort},
		{"both sides", dextest.RawBook(dex.FlagInitialized|dex.FlagBids|dex.FlagAsks,
			dex.SlabHeader{}, nil), dex.ErrInvalidFlags},
		{"no side", dextest.RawBook(dex.FlagInitialized, dex.SlabHeader{}, nil), dex.ErrInvalidFlags},
		{"uninitialized", dextest.RawBook(dex.FlagBids, dex.SlabHeader{}, nil), dex.ErrInvalidFlags},
		{"root out of range", dextest.RawBook(dex.FlagInitialized|dex.FlagBids,
			dex.SlabHeader{BumpIndex: 1, Root: 5, LeafCount: 1}, [][]byte{leaf}), dex.ErrCorruptSlab},
		{"child out of range", dextest.RawBook(dex.FlagInitialized|dex.FlagAsks,
			dex.SlabHeader{BumpIndex: 2, Root: 0, LeafCount: 1},
			[][]byte{dextest.InnerNode(1, 1, 1, 7), leaf}), dex.ErrCorruptSlab},
		{"cycle", dextest.RawBook(dex.FlagInitialized|dex.FlagBids,
			dex.SlabHeader{BumpIndex: 2, Root: 0, LeafCount: 2},
			[][]byte{dextest.InnerNode(1, 1, 1, 0), dextest.InnerNode(1, 1, 0, 1)}), dex.ErrCorruptSlab},
		{"free node in tree", dextest.RawBook(dex.FlagInitialized|dex.FlagBids,
			dex.SlabHeader{BumpIndex: 3, Root: 0, LeafCount: 2},
			[][]byte{dextest.InnerNode(1, 1, 1, 2), leaf, dextest.FreeNode(0)}), dex.ErrCorruptSlab},
		{"leaf count mismatch", dextest.RawBook(dex.FlagInitialized|dex.FlagBids,
			dex.SlabHeader{BumpIndex: 1, Root: 0, LeafCount: 3}, [][]byte{leaf}), dex.ErrCorruptSlab},
		{"unknown tag", dextest.RawBook(dex.FlagInitialized|dex.FlagBids,
			dex.SlabHeader{BumpIndex: 1, Root: 0, LeafCount: 1},
			[][]byte{append([]byte{9, 0, 0, 0}, make([]byte, 68)...)}), dex.ErrCorruptSlab},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dex.DecodeOrderBook(tt.data, -1)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSlabMinMax(t *testing.T) {
	slab, err := dex.DecodeSlab(dextest.BookAccount(dex.SideBid, sampleLeaves(solana.PublicKey{}), 1))
	require.NoError(t, err)

	lo, err := slab.Min()
	require.NoError(t, err)
	hi, err := slab.Max()
	require.NoError(t, err)
	assert.Equal(t, uint64(247_000), lo.Key.PriceLots())
	assert.Equal(t, uint64(251_000), hi.Key.PriceLots())
	assert.Equal(t, dex.TagFree, slab.Nodes[len(slab.Nodes)-1].Tag())
}
