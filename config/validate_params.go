package config

// ValidateParams 验证可热更新的报价参数。
func ValidateParams(p ParamsConfig) error {
	if !finite(p.BidMultiplier) || p.BidMultiplier <= 0 || p.BidMultiplier >= 1 {
		return ErrInvalid("params.bidMultiplier must be in (0, 1)")
	}
	if !finite(p.AskMultiplier) || p.AskMultiplier <= 1 {
		return ErrInvalid("params.askMultiplier must be > 1")
	}
	if !finite(p.BidSize) || p.BidSize <= 0 || !finite(p.AskSize) || p.AskSize <= 0 {
		return ErrInvalid("params.bidSize/askSize must be > 0")
	}
	if !finite(p.MinChange) || p.MinChange < 0 || p.MinChange >= 1 {
		return ErrInvalid("params.minChange must be in [0, 1)")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
