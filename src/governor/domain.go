package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a domain that has been torn
// down.
var ErrClosed = errors.New("domain is closed")

// TickReport is a point-in-time observation emitted after each control
// tick. Reports are value copies; consumers never see guarded state.
type TickReport struct {
	Domain        string
	Time          time.Time
	Load          uint64
	EffectiveLoad uint64
	TargetFreqKHz uint64
	Changed       bool
	DownCount     uint
}

// Snapshot is a copy of a domain's state taken under its lock.
type Snapshot struct {
	Policy        Policy
	Tunables      Tunables
	TargetFreqKHz uint64
	DownCount     uint
	Running       bool
}

// Domain runs one adaptive governor instance for one frequency domain.
//
// A single mutex guards all mutable state and is held for the full
// duration of every tick (stats refresh, decision, actuation) as well
// as every reconfiguration and teardown, so exactly one of those runs
// at any instant. There is no shared state across domains.
type Domain struct {
	// Reports, when set before Start, receives one TickReport per
	// tick. Sends are non-blocking: a slow consumer drops reports
	// rather than stalling the control loop.
	Reports chan<- TickReport

	src IdleTimeSource
	act FrequencyActuator

	mu        sync.Mutex
	policy    Policy
	tun       Tunables
	samples   map[int]*cpuSample
	target    uint64
	downCount uint
	running   bool
	closed    bool
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// NewDomain attaches a governor to a frequency domain: it validates
// the policy and tunables, sizes the per-CPU baselines to the domain's
// membership, and takes one seed reading. No decision is made until
// the first tick after Start.
//
// An out-of-range CurFreqKHz is clamped into [Min, Max] rather than
// rejected; hardware can report transient values outside the policy
// bounds.
func NewDomain(policy Policy, tun Tunables, src IdleTimeSource, act FrequencyActuator) (*Domain, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := tun.Validate(); err != nil {
		return nil, err
	}

	target := policy.CurFreqKHz
	if target < policy.MinFreqKHz {
		target = policy.MinFreqKHz
	}
	if target > policy.MaxFreqKHz {
		target = policy.MaxFreqKHz
	}

	return &Domain{
		src:     src,
		act:     act,
		policy:  policy,
		tun:     tun,
		samples: seedSamples(src, policy.CPUs),
		target:  target,
	}, nil
}

// Start schedules the first tick one sampling period from now. A
// stopped domain can be started again; a closed one cannot.
func (d *Domain) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.running {
		return errors.New("domain already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true
	d.wg.Add(1)
	go d.runLoop(ctx)
	return nil
}

// runLoop is the scheduling side of the governor: sleep one sampling
// period, tick, repeat. The loop is time-triggered, not event-
// triggered; it reschedules whether or not the tick changed anything.
// The rate is re-read each iteration so a reconfigured rate takes
// effect at the next boundary.
func (d *Domain) runLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		rate := d.tun.SamplingRate
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(rate):
		}

		if !d.tick() {
			return
		}
	}
}

// tick runs one full control cycle under the domain lock: refresh
// stats, estimate load, decide, actuate, report. It returns false when
// the domain was stopped or closed in the meantime, which ends the
// loop without rescheduling.
func (d *Domain) tick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || !d.running {
		return false
	}

	busy, wall := accumulateWindow(d.src, d.samples)
	load := estimateLoad(busy, wall, d.target, d.policy.MaxFreqKHz)
	eff := effectiveLoad(load, d.tun.PowersaveBias)

	dec, downCount := decideStep(d.tun, eff, d.target, d.policy.MinFreqKHz, d.policy.MaxFreqKHz, d.downCount)
	d.downCount = downCount

	changed := false
	if dec.request {
		// A failed apply drops the decision for this cycle; the next
		// tick recomputes from the unchanged target.
		if err := d.act.Apply(d.policy.ID, dec.target, dec.rounding); err == nil {
			changed = dec.target != d.target
			d.target = dec.target
		}
	}

	if d.Reports != nil {
		report := TickReport{
			Domain:        d.policy.ID,
			Time:          time.Now(),
			Load:          load,
			EffectiveLoad: eff,
			TargetFreqKHz: d.target,
			Changed:       changed,
			DownCount:     d.downCount,
		}
		select {
		case d.Reports <- report:
		default:
		}
	}
	return true
}

// Stop cancels the pending tick and blocks until an in-flight tick has
// finished. Once Stop returns, no further tick will execute. Safe to
// call on a domain that never started.
func (d *Domain) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

// Close stops the domain and releases its per-CPU state. Calling Close
// again is a no-op.
func (d *Domain) Close() {
	d.Stop()
	d.mu.Lock()
	d.closed = true
	d.samples = nil
	d.mu.Unlock()
}

// Reconfigure replaces the domain's tunables. Invalid settings are
// rejected before the lock is taken; valid ones take effect at the
// next tick boundary.
func (d *Domain) Reconfigure(tun Tunables) error {
	if err := tun.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.tun = tun
	return nil
}

// SetLimits replaces the domain's frequency bounds, clamping the
// current target into the new range. The clamped target is actuated
// best-effort; the bounds invariant on the target holds even when that
// apply fails.
func (d *Domain) SetLimits(minKHz, maxKHz uint64) error {
	if minKHz == 0 || minKHz > maxKHz {
		return fmt.Errorf("invalid frequency range %d-%d kHz", minKHz, maxKHz)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.policy.MinFreqKHz = minKHz
	d.policy.MaxFreqKHz = maxKHz
	if d.target < minKHz {
		d.target = minKHz
		_ = d.act.Apply(d.policy.ID, minKHz, RoundUp)
	} else if d.target > maxKHz {
		d.target = maxKHz
		_ = d.act.Apply(d.policy.ID, maxKHz, RoundDown)
	}
	return nil
}

// Snapshot returns a copy of the domain's current state.
func (d *Domain) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.policy
	p.CPUs = make([]int, len(d.policy.CPUs))
	copy(p.CPUs, d.policy.CPUs)

	return Snapshot{
		Policy:        p,
		Tunables:      d.tun,
		TargetFreqKHz: d.target,
		DownCount:     d.downCount,
		Running:       d.running,
	}
}
