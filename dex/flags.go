package dex

import "strings"

// AccountFlags is the u64 bitset stored after the 5-byte account head.
type AccountFlags uint64

const (
	FlagInitialized            AccountFlags = 1 << 0
	FlagMarket                 AccountFlags = 1 << 1
	FlagOpenOrders             AccountFlags = 1 << 2
	FlagRequestQueue           AccountFlags = 1 << 3
	FlagEventQueue             AccountFlags = 1 << 4
	FlagBids                   AccountFlags = 1 << 5
	FlagAsks                   AccountFlags = 1 << 6
	FlagDisabled               AccountFlags = 1 << 7
	FlagClosed                 AccountFlags = 1 << 8
	FlagPermissioned           AccountFlags = 1 << 9
	FlagCrankAuthorityRequired AccountFlags = 1 << 10
)

var flagNames = []struct {
	flag AccountFlags
	name string
}{
	{FlagInitialized, "initialized"},
	{FlagMarket, "market"},
	{FlagOpenOrders, "open_orders"},
	{FlagRequestQueue, "request_queue"},
	{FlagEventQueue, "event_queue"},
	{FlagBids, "bids"},
	{FlagAsks, "asks"},
	{FlagDisabled, "disabled"},
	{FlagClosed, "closed"},
	{FlagPermissioned, "permissioned"},
	{FlagCrankAuthorityRequired, "crank_authority_required"},
}

// Has reports whether every bit in mask is set.
func (f AccountFlags) Has(mask AccountFlags) bool {
	return f&mask == mask
}

func (f AccountFlags) String() string {
	if f == 0 {
		return "none"
	}
	parts := make([]string, 0, 4)
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}
