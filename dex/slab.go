package dex

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// NodeTag identifies the variant stored in a slab slot.
type NodeTag uint32

const (
	TagUninitialized NodeTag = 0
	TagInner         NodeTag = 1
	TagLeaf          NodeTag = 2
	TagFree          NodeTag = 3
	TagLastFree      NodeTag = 4
)

// OrderKey is the u128 crit-bit key. The high half is the price in lots,
// the low half a sequence number.
type OrderKey struct {
	Lo uint64
	Hi uint64
}

// PriceLots returns the limit price encoded in the key.
func (k OrderKey) PriceLots() uint64 { return k.Hi }

// Node is one slot of the slab arena.
type Node interface {
	Tag() NodeTag
}

type UninitializedNode struct{}

type InnerNode struct {
	PrefixLen uint32
	Key       OrderKey
	Children  [2]uint32
}

type LeafNode struct {
	OwnerSlot     uint8
	FeeTier       uint8
	Key           OrderKey
	Owner         solana.PublicKey
	Quantity      uint64
	ClientOrderID uint64
}

type FreeNode struct {
	Next uint32
}

type LastFreeNode struct{}

func (*UninitializedNode) Tag() NodeTag { return TagUninitialized }
func (*InnerNode) Tag() NodeTag         { return TagInner }
func (*LeafNode) Tag() NodeTag          { return TagLeaf }
func (*FreeNode) Tag() NodeTag          { return TagFree }
func (*LastFreeNode) Tag() NodeTag      { return TagLastFree }

// SlabHeader precedes the node arena.
type SlabHeader struct {
	BumpIndex    uint64
	FreeListLen  uint64
	FreeListHead uint32
	Root         uint32
	LeafCount    uint64
}

// Slab is the decoded arena backing one side of the book.
type Slab struct {
	Header SlabHeader
	Nodes  []Node
}

// DecodeSlab decodes the slab of a bids or asks account. data is the whole
// account including head, flags and tail padding.
func DecodeSlab(data []byte) (*Slab, error) {
	if len(data) < MinOrderBookSize {
		return nil, fmt.Errorf("slab: %d bytes, need %d: %w", len(data), MinOrderBookSize, ErrTooShort)
	}
	r := nodeReader{dec: bin.NewBinDecoder(data[slabHeaderOffset:slabNodesOffset])}
	hdr := SlabHeader{
		BumpIndex:    r.u64(),
		FreeListLen:  r.u64(),
		FreeListHead: r.u32(),
		Root:         r.u32(),
		LeafCount:    r.u64(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("slab header: %w", r.err)
	}

	arena := data[slabNodesOffset : len(data)-tailSize]
	count := len(arena) / SlabNodeSize
	if hdr.BumpIndex > uint64(count) {
		return nil, fmt.Errorf("slab: bump index %d beyond %d nodes: %w", hdr.BumpIndex, count, ErrCorruptSlab)
	}
	nodes := make([]Node, count)
	for i := 0; i < count; i++ {
		n, err := decodeNode(arena[i*SlabNodeSize : (i+1)*SlabNodeSize])
		if err != nil {
			return nil, fmt.Errorf("slab node %d: %w", i, err)
		}
		nodes[i] = n
	}
	return &Slab{Header: hdr, Nodes: nodes}, nil
}

func decodeNode(raw []byte) (Node, error) {
	r := nodeReader{dec: bin.NewBinDecoder(raw)}
	tag := NodeTag(r.u32())
	var n Node
	switch tag {
	case TagUninitialized:
		n = &UninitializedNode{}
	case TagInner:
		inner := &InnerNode{PrefixLen: r.u32()}
		inner.Key = r.key()
		inner.Children[0] = r.u32()
		inner.Children[1] = r.u32()
		n = inner
	case TagLeaf:
		leaf := &LeafNode{OwnerSlot: r.u8(), FeeTier: r.u8()}
		r.skip(2)
		leaf.Key = r.key()
		leaf.Owner = solana.PublicKeyFromBytes(r.bytes(32))
		leaf.Quantity = r.u64()
		leaf.ClientOrderID = r.u64()
		n = leaf
	case TagFree:
		n = &FreeNode{Next: r.u32()}
	case TagLastFree:
		n = &LastFreeNode{}
	default:
		return nil, fmt.Errorf("unknown tag %d: %w", tag, ErrCorruptSlab)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSlab, r.err)
	}
	return n, nil
}

func (s *Slab) node(idx uint32) (Node, error) {
	if uint64(idx) >= s.Header.BumpIndex || int(idx) >= len(s.Nodes) {
		return nil, fmt.Errorf("node index %d out of range (bump %d): %w", idx, s.Header.BumpIndex, ErrCorruptSlab)
	}
	return s.Nodes[idx], nil
}

// Min returns the leaf with the smallest key, nil if the slab is empty.
func (s *Slab) Min() (*LeafNode, error) { return s.extreme(0) }

// Max returns the leaf with the largest key, nil if the slab is empty.
func (s *Slab) Max() (*LeafNode, error) { return s.extreme(1) }

func (s *Slab) extreme(dir int) (*LeafNode, error) {
	if s.Header.LeafCount == 0 {
		return nil, nil
	}
	idx := s.Header.Root
	for steps := 0; steps <= len(s.Nodes); steps++ {
		n, err := s.node(idx)
		if err != nil {
			return nil, err
		}
		switch v := n.(type) {
		case *LeafNode:
			return v, nil
		case *InnerNode:
			idx = v.Children[dir]
		default:
			return nil, fmt.Errorf("node %d tag %d on search path: %w", idx, n.Tag(), ErrCorruptSlab)
		}
	}
	return nil, fmt.Errorf("search path does not terminate: %w", ErrCorruptSlab)
}

// Walk visits leaves in key order (descending when desc is set) until fn
// returns false.
func (s *Slab) Walk(desc bool, fn func(*LeafNode) bool) error {
	if s.Header.LeafCount == 0 {
		return nil
	}
	visited := make([]bool, len(s.Nodes))
	stack := []uint32{s.Header.Root}
	var leaves uint64
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := s.node(idx)
		if err != nil {
			return err
		}
		if visited[idx] {
			return fmt.Errorf("node %d reached twice: %w", idx, ErrCorruptSlab)
		}
		visited[idx] = true

		switch v := n.(type) {
		case *LeafNode:
			leaves++
			if !fn(v) {
				return nil
			}
		case *InnerNode:
			first, second := v.Children[0], v.Children[1]
			if desc {
				first, second = second, first
			}
			stack = append(stack, second, first)
		default:
			return fmt.Errorf("node %d tag %d inside tree: %w", idx, n.Tag(), ErrCorruptSlab)
		}
	}
	if leaves != s.Header.LeafCount {
		return fmt.Errorf("walked %d leaves, header says %d: %w", leaves, s.Header.LeafCount, ErrCorruptSlab)
	}
	return nil
}

// nodeReader keeps the first decode error so field reads stay linear.
type nodeReader struct {
	dec *bin.Decoder
	err error
}

func (r *nodeReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.err = err
	return v
}

func (r *nodeReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(binary.LittleEndian)
	r.err = err
	return v
}

func (r *nodeReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(binary.LittleEndian)
	r.err = err
	return v
}

func (r *nodeReader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	v, err := r.dec.ReadNBytes(n)
	if err != nil {
		r.err = err
		return make([]byte, n)
	}
	return v
}

func (r *nodeReader) skip(n int) {
	r.bytes(n)
}

func (r *nodeReader) key() OrderKey {
	lo := r.u64()
	hi := r.u64()
	return OrderKey{Lo: lo, Hi: hi}
}
