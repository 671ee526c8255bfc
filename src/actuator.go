package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/gg582/ecodemand/src/governor"
)

// sysfsActuator writes requested frequencies to scaling_setspeed,
// snapping each request to the domain's operating points when the
// driver exposes a discrete table.
type sysfsActuator struct {
	tables map[string][]uint64
}

// newSysfsActuator prepares actuation for the given domains. Every
// domain must already be under the kernel's userspace governor;
// anything else would silently ignore setspeed writes.
func newSysfsActuator(policies []governor.Policy) (*sysfsActuator, error) {
	a := &sysfsActuator{tables: make(map[string][]uint64)}
	for _, p := range policies {
		gov, err := readSysfsString(filepath.Join(sysfsCPUFreqRoot, p.ID), "scaling_governor")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.ID, err)
		}
		if gov != "userspace" {
			return nil, fmt.Errorf("%s: scaling_governor is %q, need userspace", p.ID, gov)
		}
		table, err := readFrequencyTable(p.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.ID, err)
		}
		a.tables[p.ID] = table
	}
	return a, nil
}

func (a *sysfsActuator) Apply(domainID string, freqKHz uint64, rounding governor.Rounding) error {
	table, ok := a.tables[domainID]
	if !ok {
		return fmt.Errorf("unknown domain %q", domainID)
	}
	target := snapFrequency(table, freqKHz, rounding)
	path := filepath.Join(sysfsCPUFreqRoot, domainID, "scaling_setspeed")
	if err := os.WriteFile(path, []byte(strconv.FormatUint(target, 10)), 0o644); err != nil {
		return fmt.Errorf("set %s to %d kHz: %w", domainID, target, err)
	}
	return nil
}

// snapFrequency picks the supported operating point for a request. An
// empty table passes the request through unchanged.
func snapFrequency(table []uint64, freqKHz uint64, rounding governor.Rounding) uint64 {
	if len(table) == 0 {
		return freqKHz
	}
	if rounding == governor.RoundUp {
		for _, f := range table {
			if f >= freqKHz {
				return f
			}
		}
		return table[len(table)-1]
	}
	for i := len(table) - 1; i >= 0; i-- {
		if table[i] <= freqKHz {
			return table[i]
		}
	}
	return table[0]
}

// dryRunActuator logs decisions without touching sysfs.
type dryRunActuator struct{}

func (dryRunActuator) Apply(domainID string, freqKHz uint64, rounding governor.Rounding) error {
	log.Printf("Dry run: %s -> %d kHz (round %s)\n", domainID, freqKHz, rounding)
	return nil
}

// gatedActuator sits in front of the real actuator and swallows
// applies while the remote enable switch is off. Swallowed applies
// report success so the governor state keeps evolving; re-enabling
// resumes from the current target at the next change.
type gatedActuator struct {
	enabled atomic.Bool
	next    governor.FrequencyActuator
}

func newGatedActuator(next governor.FrequencyActuator) *gatedActuator {
	g := &gatedActuator{next: next}
	g.enabled.Store(true)
	return g
}

func (g *gatedActuator) Apply(domainID string, freqKHz uint64, rounding governor.Rounding) error {
	if !g.enabled.Load() {
		return nil
	}
	return g.next.Apply(domainID, freqKHz, rounding)
}

// SetEnabled flips the gate, logging transitions only.
func (g *gatedActuator) SetEnabled(on bool) {
	if g.enabled.Swap(on) != on {
		log.Printf("Actuation enabled: %v\n", on)
	}
}

func (g *gatedActuator) Enabled() bool {
	return g.enabled.Load()
}
