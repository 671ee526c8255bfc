// Package governor implements step-based CPU frequency governors for
// frequency domains: groups of CPUs that share one controllable
// operating frequency.
//
// The central type is Domain, a periodic control loop that samples
// per-CPU busy/idle counters, estimates a frequency-invariant load for
// the whole domain, and steps the domain frequency between its policy
// bounds with hysteresis. Everything the loop touches outside its own
// state arrives through the IdleTimeSource and FrequencyActuator
// interfaces, so the package does no I/O and no logging of its own.
package governor

import "fmt"

// Policy describes one frequency domain as supplied by the platform:
// its CPU membership and the controllable frequency range. All
// frequencies are kHz.
type Policy struct {
	ID         string
	CPUs       []int
	MinFreqKHz uint64
	MaxFreqKHz uint64
	CurFreqKHz uint64
}

// Validate reports whether the policy describes a usable domain.
func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("policy has no ID")
	}
	if len(p.CPUs) == 0 {
		return fmt.Errorf("policy %s has no CPUs", p.ID)
	}
	if p.MinFreqKHz == 0 || p.MinFreqKHz > p.MaxFreqKHz {
		return fmt.Errorf("policy %s has invalid frequency range %d-%d kHz", p.ID, p.MinFreqKHz, p.MaxFreqKHz)
	}
	return nil
}

// IdleTimeSource supplies cumulative per-CPU accounting. Wall and idle
// are counters in any consistent time unit (the unit cancels out of the
// load calculation) and must be monotonic between successive reads
// barring counter resets.
type IdleTimeSource interface {
	Read(cpu int) (wall, idle uint64, err error)
}

// FrequencyActuator applies a requested frequency to a domain. It is
// best-effort: the hardware may pick the nearest supported frequency in
// the preferred rounding direction, or fail outright.
type FrequencyActuator interface {
	Apply(domainID string, freqKHz uint64, rounding Rounding) error
}

// Rounding tells the actuator which way to round a requested frequency
// to the nearest supported operating point.
type Rounding int

const (
	RoundUp Rounding = iota
	RoundDown
)

func (r Rounding) String() string {
	switch r {
	case RoundUp:
		return "up"
	case RoundDown:
		return "down"
	default:
		return "up"
	}
}
