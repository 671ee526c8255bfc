package governor

import (
	"fmt"
	"time"
)

// Default tunable values, applied to a domain at attach.
const (
	DefaultUpThreshold        = 80
	DefaultDownThreshold      = 20
	DefaultFreqStep           = 5
	DefaultSamplingRate       = 10 * time.Millisecond
	DefaultSamplingDownFactor = 1
	DefaultPowersaveBias      = 0
)

// Tunables control the decision policy of one domain. Percentages are
// whole percent.
type Tunables struct {
	// UpThreshold and DownThreshold bound the hysteresis band: loads
	// strictly above UpThreshold step the frequency up, loads strictly
	// below DownThreshold step it down, anything between holds.
	UpThreshold   uint
	DownThreshold uint

	// FreqStep is the step size as a percentage of the domain's
	// maximum frequency.
	FreqStep uint

	// SamplingRate is the control loop period.
	SamplingRate time.Duration

	// SamplingDownFactor is how many consecutive low-load ticks are
	// required before a step down commits.
	SamplingDownFactor uint

	// PowersaveBias is subtracted from the measured load before the
	// threshold comparison. Positive values push toward lower
	// frequencies.
	PowersaveBias int
}

// DefaultTunables returns the default policy settings.
func DefaultTunables() Tunables {
	return Tunables{
		UpThreshold:        DefaultUpThreshold,
		DownThreshold:      DefaultDownThreshold,
		FreqStep:           DefaultFreqStep,
		SamplingRate:       DefaultSamplingRate,
		SamplingDownFactor: DefaultSamplingDownFactor,
		PowersaveBias:      DefaultPowersaveBias,
	}
}

// Validate rejects settings the decision engine must never see.
func (t Tunables) Validate() error {
	if t.UpThreshold > 100 {
		return fmt.Errorf("up_threshold %d out of range 0-100", t.UpThreshold)
	}
	if t.DownThreshold > 100 {
		return fmt.Errorf("down_threshold %d out of range 0-100", t.DownThreshold)
	}
	if t.DownThreshold >= t.UpThreshold {
		return fmt.Errorf("down_threshold %d must be below up_threshold %d", t.DownThreshold, t.UpThreshold)
	}
	if t.FreqStep > 100 {
		return fmt.Errorf("freq_step %d out of range 0-100", t.FreqStep)
	}
	if t.SamplingRate <= 0 {
		return fmt.Errorf("sampling_rate %v must be positive", t.SamplingRate)
	}
	if t.SamplingDownFactor < 1 {
		return fmt.Errorf("sampling_down_factor %d must be at least 1", t.SamplingDownFactor)
	}
	if t.PowersaveBias < -100 || t.PowersaveBias > 100 {
		return fmt.Errorf("powersave_bias %d out of range -100..100", t.PowersaveBias)
	}
	return nil
}
