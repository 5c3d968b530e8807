package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsRequote(t *testing.T) {
	tests := []struct {
		name   string
		last   float64
		target float64
		want   bool
	}{
		{"never placed", 0, 100, true},
		{"unchanged", 100, 100, false},
		{"drift 0.05% holds", 100, 100.05, false},
		{"drift 0.15% requotes", 100, 100.15, true},
		{"downward 0.15% requotes", 100, 99.85, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsRequote(tt.last, tt.target, 0.001))
		})
	}
}

func TestDrift(t *testing.T) {
	// |1 - 100/100.05| = 0.05/100.05，略小于 0.05%
	assert.InDelta(t, 0.05/100.05, Drift(100, 100.05), 1e-12)
	assert.Less(t, Drift(100, 100.05), 0.001)
	assert.Greater(t, Drift(100, 100.15), 0.001)
	assert.True(t, math.IsInf(Drift(100, 0), 1))
	assert.Equal(t, 0.0, Drift(42, 42))
}
