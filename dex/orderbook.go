package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Side of the book an account holds.
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// OrderEntry is one resting order. Prices stay in lots.
type OrderEntry struct {
	PriceLots     uint64
	Quantity      uint64
	Owner         solana.PublicKey
	OwnerSlot     uint8
	FeeTier       uint8
	ClientOrderID uint64
	Key           OrderKey
}

// OrderBookSummary is the decoded view of one side of a market.
// Address and Slot are filled in by whoever fetched the account.
type OrderBookSummary struct {
	Address   solana.PublicKey
	Side      Side
	Slot      uint64
	Best      OrderEntry
	HasBest   bool
	LeafCount uint64
	// Orders holds at most the requested depth, best price first.
	Orders []OrderEntry
}

// DecodeOrderBook decodes a bids or asks account. depth < 0 keeps every
// order, 0 keeps none and n keeps the best n.
func DecodeOrderBook(data []byte, depth int) (*OrderBookSummary, error) {
	if len(data) < MinOrderBookSize {
		return nil, fmt.Errorf("order book: %d bytes, need %d: %w", len(data), MinOrderBookSize, ErrTooShort)
	}
	flags, err := readHeader(data)
	if err != nil {
		return nil, fmt.Errorf("order book: %w", err)
	}
	side, err := sideFromFlags(flags)
	if err != nil {
		return nil, err
	}

	slab, err := DecodeSlab(data)
	if err != nil {
		return nil, fmt.Errorf("order book %s: %w", side, err)
	}

	sum := &OrderBookSummary{Side: side, LeafCount: slab.Header.LeafCount}
	var best *LeafNode
	if side == SideBid {
		best, err = slab.Max()
	} else {
		best, err = slab.Min()
	}
	if err != nil {
		return nil, fmt.Errorf("order book %s best: %w", side, err)
	}
	if best != nil {
		sum.Best = entryFromLeaf(best)
		sum.HasBest = true
	}

	if depth == 0 || best == nil {
		return sum, nil
	}
	capHint := int(slab.Header.LeafCount)
	if depth > 0 && depth < capHint {
		capHint = depth
	}
	sum.Orders = make([]OrderEntry, 0, capHint)
	err = slab.Walk(side == SideBid, func(leaf *LeafNode) bool {
		sum.Orders = append(sum.Orders, entryFromLeaf(leaf))
		return depth < 0 || len(sum.Orders) < depth
	})
	if err != nil {
		return nil, fmt.Errorf("order book %s walk: %w", side, err)
	}
	return sum, nil
}

// FindByClientID looks up an order of owner in the projected orders.
func (s *OrderBookSummary) FindByClientID(owner solana.PublicKey, clientOrderID uint64) (OrderEntry, bool) {
	if s == nil {
		return OrderEntry{}, false
	}
	for _, o := range s.Orders {
		if o.ClientOrderID == clientOrderID && o.Owner.Equals(owner) {
			return o, true
		}
	}
	return OrderEntry{}, false
}

func sideFromFlags(flags AccountFlags) (Side, error) {
	if !flags.Has(FlagInitialized) {
		return 0, fmt.Errorf("order book: flags %s: %w", flags, ErrInvalidFlags)
	}
	bids, asks := flags.Has(FlagBids), flags.Has(FlagAsks)
	switch {
	case bids && !asks:
		return SideBid, nil
	case asks && !bids:
		return SideAsk, nil
	default:
		return 0, fmt.Errorf("order book: flags %s: %w", flags, ErrInvalidFlags)
	}
}

func entryFromLeaf(l *LeafNode) OrderEntry {
	return OrderEntry{
		PriceLots:     l.Key.PriceLots(),
		Quantity:      l.Quantity,
		Owner:         l.Owner,
		OwnerSlot:     l.OwnerSlot,
		FeeTier:       l.FeeTier,
		ClientOrderID: l.ClientOrderID,
		Key:           l.Key,
	}
}
