package strategy

import "openbook-mm/dex"

// SideState 单侧报价状态。只在所属循环的 tick 内修改。
type SideState struct {
	LastPrice     float64
	Multiplier    float64
	Size          float64
	ClientOrderID uint64
	Resting       bool
}

// State 买卖两侧相互独立
type State struct {
	Bid SideState
	Ask SideState
}

func newState(p Params) State {
	s := State{}
	s.applyParams(p)
	return s
}

func (s *State) side(side dex.Side) *SideState {
	if side == dex.SideBid {
		return &s.Bid
	}
	return &s.Ask
}

func (s *State) applyParams(p Params) {
	s.Bid.Multiplier, s.Bid.Size = p.BidMultiplier, p.BidSize
	s.Ask.Multiplier, s.Ask.Size = p.AskMultiplier, p.AskSize
}
