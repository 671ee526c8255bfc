package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateLoad(t *testing.T) {
	tests := []struct {
		name string
		busy uint64
		wall uint64
		cur  uint64
		max  uint64
		want uint64
	}{
		{"zero wall is zero load", 50, 0, testMaxKHz, testMaxKHz, 0},
		{"fully busy at max frequency", 100, 100, testMaxKHz, testMaxKHz, 100},
		{"fully busy at half frequency scales to fifty", 100, 100, 1000000, 2000000, 50},
		{"half busy at max frequency", 50, 100, testMaxKHz, testMaxKHz, 50},
		{"raw usage floors on integer division", 1, 3, testMaxKHz, testMaxKHz, 33},
		{"scaled usage floors on integer division", 90, 100, 700000, 2000000, 31},
		{"idle domain", 0, 100, 1000000, 2000000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, estimateLoad(tt.busy, tt.wall, tt.cur, tt.max))
		})
	}
}

func TestEstimateLoadStaysInRange(t *testing.T) {
	// busy never exceeds wall and cur never exceeds max, so the
	// estimate stays within 0..100.
	for busy := uint64(0); busy <= 100; busy += 10 {
		for cur := uint64(testMinKHz); cur <= testMaxKHz; cur += 300000 {
			load := estimateLoad(busy, 100, cur, testMaxKHz)
			assert.LessOrEqual(t, load, uint64(100), "busy=%d cur=%d", busy, cur)
		}
	}
}
