package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTunables(t *testing.T) {
	tun := DefaultTunables()

	assert.Equal(t, uint(80), tun.UpThreshold)
	assert.Equal(t, uint(20), tun.DownThreshold)
	assert.Equal(t, uint(5), tun.FreqStep)
	assert.Equal(t, 10*time.Millisecond, tun.SamplingRate)
	assert.Equal(t, uint(1), tun.SamplingDownFactor)
	assert.Equal(t, 0, tun.PowersaveBias)
	assert.NoError(t, tun.Validate())
}

func TestTunablesValidate(t *testing.T) {
	valid := DefaultTunables()

	tests := []struct {
		name    string
		mutate  func(*Tunables)
		wantErr string
	}{
		{"defaults are valid", func(t *Tunables) {}, ""},
		{"thresholds may sit adjacent", func(t *Tunables) { t.DownThreshold = 79 }, ""},
		{"up threshold above hundred", func(t *Tunables) { t.UpThreshold = 101 }, "up_threshold"},
		{"down threshold above hundred", func(t *Tunables) { t.DownThreshold = 105 }, "down_threshold"},
		{"down threshold equal to up", func(t *Tunables) { t.DownThreshold = 80 }, "down_threshold"},
		{"down threshold above up", func(t *Tunables) { t.DownThreshold = 90 }, "down_threshold"},
		{"freq step above hundred", func(t *Tunables) { t.FreqStep = 101 }, "freq_step"},
		{"zero sampling rate", func(t *Tunables) { t.SamplingRate = 0 }, "sampling_rate"},
		{"negative sampling rate", func(t *Tunables) { t.SamplingRate = -time.Second }, "sampling_rate"},
		{"zero sampling down factor", func(t *Tunables) { t.SamplingDownFactor = 0 }, "sampling_down_factor"},
		{"bias below range", func(t *Tunables) { t.PowersaveBias = -101 }, "powersave_bias"},
		{"bias above range", func(t *Tunables) { t.PowersaveBias = 101 }, "powersave_bias"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tun := valid
			tt.mutate(&tun)

			err := tun.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
