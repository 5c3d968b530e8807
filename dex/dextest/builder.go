// Package dextest builds raw market, book and mint accounts for tests.
package dextest

import (
	"encoding/binary"
	"sort"

	"github.com/gagliardetto/solana-go"

	"openbook-mm/dex"
)

// MarketFields are the values written into a market account.
type MarketFields struct {
	Flags            dex.AccountFlags
	OwnAddress       solana.PublicKey
	VaultSignerNonce uint64
	BaseMint         solana.PublicKey
	QuoteMint        solana.PublicKey
	BaseVault        solana.PublicKey
	QuoteVault       solana.PublicKey
	RequestQueue     solana.PublicKey
	EventQueue       solana.PublicKey
	Bids             solana.PublicKey
	Asks             solana.PublicKey
	BaseLotSize      uint64
	QuoteLotSize     uint64
	FeeRateBps       uint64
}

// MarketAccount encodes f; a zero Flags becomes initialized|market.
func MarketAccount(f MarketFields) []byte {
	buf := make([]byte, dex.MarketAccountSize)
	if f.Flags == 0 {
		f.Flags = dex.FlagInitialized | dex.FlagMarket
	}
	copy(buf, "serum")
	putU64(buf, 5, uint64(f.Flags))
	copy(buf[13:], f.OwnAddress[:])
	putU64(buf, 45, f.VaultSignerNonce)
	copy(buf[53:], f.BaseMint[:])
	copy(buf[85:], f.QuoteMint[:])
	copy(buf[117:], f.BaseVault[:])
	copy(buf[165:], f.QuoteVault[:])
	copy(buf[221:], f.RequestQueue[:])
	copy(buf[253:], f.EventQueue[:])
	copy(buf[285:], f.Bids[:])
	copy(buf[317:], f.Asks[:])
	putU64(buf, 349, f.BaseLotSize)
	putU64(buf, 357, f.QuoteLotSize)
	putU64(buf, 365, f.FeeRateBps)
	copy(buf[dex.MarketAccountSize-7:], "padding")
	return buf
}

// MintAccount encodes an initialized mint with the given decimals.
func MintAccount(decimals uint8) []byte {
	buf := make([]byte, dex.MintAccountSize)
	buf[44] = decimals
	buf[45] = 1
	return buf
}

// Leaf describes one resting order.
type Leaf struct {
	PriceLots     uint64
	Seq           uint64
	Quantity      uint64
	Owner         solana.PublicKey
	OwnerSlot     uint8
	ClientOrderID uint64
}

// BookAccount encodes a valid slab holding leaves as a balanced crit-bit
// style tree, followed by spare free nodes.
func BookAccount(side dex.Side, leaves []Leaf, spare int) []byte {
	sorted := append([]Leaf(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PriceLots != sorted[j].PriceLots {
			return sorted[i].PriceLots < sorted[j].PriceLots
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	var nodes [][]byte
	var build func(ls []Leaf) uint32
	build = func(ls []Leaf) uint32 {
		idx := uint32(len(nodes))
		if len(ls) == 1 {
			nodes = append(nodes, LeafNode(ls[0]))
			return idx
		}
		nodes = append(nodes, nil)
		mid := len(ls) / 2
		left := build(ls[:mid])
		right := build(ls[mid:])
		nodes[idx] = InnerNode(ls[mid].PriceLots, ls[mid].Seq, left, right)
		return idx
	}
	var root uint32
	if len(sorted) > 0 {
		root = build(sorted)
	}
	used := uint64(len(nodes))
	for i := 0; i < spare; i++ {
		nodes = append(nodes, FreeNode(0))
	}
	flags := dex.FlagInitialized | dex.FlagBids
	if side == dex.SideAsk {
		flags = dex.FlagInitialized | dex.FlagAsks
	}
	return RawBook(flags, dex.SlabHeader{
		BumpIndex: used,
		Root:      root,
		LeafCount: uint64(len(sorted)),
	}, nodes)
}

// RawBook assembles a book account from pre-encoded nodes.
func RawBook(flags dex.AccountFlags, hdr dex.SlabHeader, nodes [][]byte) []byte {
	buf := make([]byte, dex.MinOrderBookSize+len(nodes)*dex.SlabNodeSize)
	copy(buf, "serum")
	putU64(buf, 5, uint64(flags))
	putU64(buf, 13, hdr.BumpIndex)
	putU64(buf, 21, hdr.FreeListLen)
	binary.LittleEndian.PutUint32(buf[29:], hdr.FreeListHead)
	binary.LittleEndian.PutUint32(buf[33:], hdr.Root)
	putU64(buf, 37, hdr.LeafCount)
	for i, n := range nodes {
		copy(buf[45+i*dex.SlabNodeSize:], n)
	}
	copy(buf[len(buf)-7:], "padding")
	return buf
}

func InnerNode(priceLots, seq uint64, left, right uint32) []byte {
	n := make([]byte, dex.SlabNodeSize)
	binary.LittleEndian.PutUint32(n[0:], uint32(dex.TagInner))
	putU64(n, 8, seq)
	putU64(n, 16, priceLots)
	binary.LittleEndian.PutUint32(n[24:], left)
	binary.LittleEndian.PutUint32(n[28:], right)
	return n
}

func LeafNode(l Leaf) []byte {
	n := make([]byte, dex.SlabNodeSize)
	binary.LittleEndian.PutUint32(n[0:], uint32(dex.TagLeaf))
	n[4] = l.OwnerSlot
	putU64(n, 8, l.Seq)
	putU64(n, 16, l.PriceLots)
	copy(n[24:56], l.Owner[:])
	putU64(n, 56, l.Quantity)
	putU64(n, 64, l.ClientOrderID)
	return n
}

func FreeNode(next uint32) []byte {
	n := make([]byte, dex.SlabNodeSize)
	binary.LittleEndian.PutUint32(n[0:], uint32(dex.TagFree))
	binary.LittleEndian.PutUint32(n[4:], next)
	return n
}

func putU64(buf []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:off+8], v)
}

// VaultNonce returns the first nonce whose vault signer address is off the
// curve for own under programID, the way markets pick it at creation.
func VaultNonce(own, programID solana.PublicKey) uint64 {
	buf := make([]byte, 8)
	for nonce := uint64(0); nonce < 255; nonce++ {
		binary.LittleEndian.PutUint64(buf, nonce)
		if _, err := solana.CreateProgramAddress([][]byte{own[:], buf}, programID); err == nil {
			return nonce
		}
	}
	panic("dextest: no vault nonce found")
}
