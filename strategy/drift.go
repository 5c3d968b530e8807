package strategy

import "math"

// Drift 返回 |1 - last/target|。target 非正时视为完全漂移。
func Drift(last, target float64) float64 {
	if target <= 0 || math.IsNaN(target) {
		return math.Inf(1)
	}
	return math.Abs(1 - last/target)
}

// NeedsRequote 从未挂单或漂移达到 minChange 时需要重新报价
func NeedsRequote(last, target, minChange float64) bool {
	if last == 0 {
		return true
	}
	return Drift(last, target) >= minChange
}
