package dex

import "errors"

var (
	// ErrTooShort 账户数据长度不足以覆盖固定布局。
	ErrTooShort = errors.New("dex: account data too short")
	// ErrInvalidFlags 账户头或 flags 与期望的账户类型不符。
	ErrInvalidFlags = errors.New("dex: invalid account flags")
	// ErrCorruptSlab slab 索引越界、出现环或节点类型错乱。
	ErrCorruptSlab = errors.New("dex: corrupt slab")
	// ErrZeroLotSize 市场的 base/quote lot size 为 0。
	ErrZeroLotSize = errors.New("dex: zero lot size")
)
