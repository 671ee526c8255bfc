package governor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type actuatorCall struct {
	domain   string
	freqKHz  uint64
	rounding Rounding
}

// fakeActuator records every apply attempt. When entered and release
// are set, Apply signals entered and then parks until release closes,
// which lets tests hold a tick in flight.
type fakeActuator struct {
	mu      sync.Mutex
	calls   []actuatorCall
	err     error
	entered chan struct{}
	release chan struct{}
}

func (a *fakeActuator) Apply(domain string, freqKHz uint64, rounding Rounding) error {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.release != nil {
		<-a.release
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, actuatorCall{domain, freqKHz, rounding})
	return a.err
}

func (a *fakeActuator) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *fakeActuator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeActuator) lastCall() actuatorCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) == 0 {
		return actuatorCall{}
	}
	return a.calls[len(a.calls)-1]
}

func testPolicy(curKHz uint64) Policy {
	return Policy{
		ID:         "policy0",
		CPUs:       []int{0, 1},
		MinFreqKHz: testMinKHz,
		MaxFreqKHz: testMaxKHz,
		CurFreqKHz: curKHz,
	}
}

func advanceAll(src *fakeSource, busy, idle uint64) {
	src.advance(0, busy, idle)
	src.advance(1, busy, idle)
}

func TestNewDomain(t *testing.T) {
	src := newFakeSource(0, 1)
	act := &fakeActuator{}

	t.Run("rejects an empty domain", func(t *testing.T) {
		p := testPolicy(1000000)
		p.CPUs = nil
		_, err := NewDomain(p, DefaultTunables(), src, act)
		assert.Error(t, err)
	})

	t.Run("rejects inverted frequency bounds", func(t *testing.T) {
		p := testPolicy(1000000)
		p.MinFreqKHz, p.MaxFreqKHz = p.MaxFreqKHz, p.MinFreqKHz
		_, err := NewDomain(p, DefaultTunables(), src, act)
		assert.Error(t, err)
	})

	t.Run("rejects invalid tunables", func(t *testing.T) {
		tun := DefaultTunables()
		tun.DownThreshold = tun.UpThreshold
		_, err := NewDomain(testPolicy(1000000), tun, src, act)
		assert.Error(t, err)
	})

	t.Run("clamps the starting target into bounds", func(t *testing.T) {
		d, err := NewDomain(testPolicy(5000000), DefaultTunables(), src, act)
		require.NoError(t, err)
		assert.Equal(t, uint64(testMaxKHz), d.Snapshot().TargetFreqKHz)

		d, err = NewDomain(testPolicy(0), DefaultTunables(), src, act)
		require.NoError(t, err)
		assert.Equal(t, uint64(testMinKHz), d.Snapshot().TargetFreqKHz)
	})
}

func TestTickControlCycle(t *testing.T) {
	src := newFakeSource(0, 1)
	act := &fakeActuator{}
	d, err := NewDomain(testPolicy(1900000), DefaultTunables(), src, act)
	require.NoError(t, err)

	reports := make(chan TickReport, 16)
	d.Reports = reports
	d.running = true

	t.Run("high load steps up", func(t *testing.T) {
		advanceAll(src, 100, 0)
		require.True(t, d.tick())

		assert.Equal(t, actuatorCall{"policy0", 2000000, RoundUp}, act.lastCall())
		assert.Equal(t, uint64(2000000), d.Snapshot().TargetFreqKHz)

		report := <-reports
		assert.Equal(t, "policy0", report.Domain)
		assert.Equal(t, uint64(95), report.Load)
		assert.Equal(t, uint64(95), report.EffectiveLoad)
		assert.Equal(t, uint64(2000000), report.TargetFreqKHz)
		assert.True(t, report.Changed)
		assert.Equal(t, uint(0), report.DownCount)
	})

	t.Run("low load steps back down", func(t *testing.T) {
		advanceAll(src, 0, 100)
		require.True(t, d.tick())

		assert.Equal(t, actuatorCall{"policy0", 1900000, RoundDown}, act.lastCall())

		report := <-reports
		assert.Equal(t, uint64(0), report.Load)
		assert.Equal(t, uint64(1900000), report.TargetFreqKHz)
		assert.True(t, report.Changed)
		assert.Equal(t, uint(0), report.DownCount)
	})

	t.Run("load inside the band holds", func(t *testing.T) {
		before := act.callCount()
		advanceAll(src, 50, 50)
		require.True(t, d.tick())

		assert.Equal(t, before, act.callCount())

		report := <-reports
		assert.Equal(t, uint64(47), report.Load)
		assert.Equal(t, uint64(1900000), report.TargetFreqKHz)
		assert.False(t, report.Changed)
	})
}

func TestTickActuatorFailure(t *testing.T) {
	src := newFakeSource(0, 1)
	act := &fakeActuator{}
	d, err := NewDomain(testPolicy(1900000), DefaultTunables(), src, act)
	require.NoError(t, err)

	reports := make(chan TickReport, 16)
	d.Reports = reports
	d.running = true

	act.setErr(errors.New("setspeed: device busy"))
	advanceAll(src, 100, 0)
	require.True(t, d.tick())

	// The decision was dropped: the attempt is visible but the
	// recorded target did not move.
	assert.Equal(t, 1, act.callCount())
	assert.Equal(t, uint64(1900000), d.Snapshot().TargetFreqKHz)

	report := <-reports
	assert.False(t, report.Changed)
	assert.Equal(t, uint64(1900000), report.TargetFreqKHz)

	// Next cycle recomputes from the unchanged target and succeeds.
	act.setErr(nil)
	advanceAll(src, 100, 0)
	require.True(t, d.tick())

	assert.Equal(t, actuatorCall{"policy0", 2000000, RoundUp}, act.lastCall())
	assert.Equal(t, uint64(2000000), d.Snapshot().TargetFreqKHz)
}

func TestTickSamplingDownFactor(t *testing.T) {
	src := newFakeSource(0, 1)
	act := &fakeActuator{}
	tun := DefaultTunables()
	tun.SamplingDownFactor = 3
	d, err := NewDomain(testPolicy(1900000), tun, src, act)
	require.NoError(t, err)
	d.running = true

	for i, wantCalls := range []int{0, 0, 1} {
		advanceAll(src, 0, 100)
		require.True(t, d.tick())
		assert.Equal(t, wantCalls, act.callCount(), "tick %d", i+1)
	}

	assert.Equal(t, actuatorCall{"policy0", 1800000, RoundDown}, act.lastCall())
	assert.Equal(t, uint(0), d.Snapshot().DownCount)
}

func TestStopWhileTickInFlight(t *testing.T) {
	src := newFakeSource(0, 1)
	act := &fakeActuator{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	tun := DefaultTunables()
	tun.SamplingRate = 2 * time.Millisecond
	// A static source reads as idle, so every tick steps down and
	// actuates until the floor.
	d, err := NewDomain(testPolicy(1000000), tun, src, act)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	// A tick is now parked inside Apply.
	<-act.entered

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(act.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the in-flight tick finished")
	}

	// Nothing executes after Stop has returned.
	applied := act.callCount()
	target := d.Snapshot().TargetFreqKHz
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, applied, act.callCount())
	assert.Equal(t, target, d.Snapshot().TargetFreqKHz)
	assert.False(t, d.Snapshot().Running)
}

func TestStopAndRestart(t *testing.T) {
	src := newFakeSource(0, 1)
	d, err := NewDomain(testPolicy(1000000), DefaultTunables(), src, &fakeActuator{})
	require.NoError(t, err)

	t.Run("stop before start is a no-op", func(t *testing.T) {
		d.Stop()
	})

	t.Run("double start is rejected", func(t *testing.T) {
		require.NoError(t, d.Start())
		assert.Error(t, d.Start())
	})

	t.Run("stop is idempotent and start works again", func(t *testing.T) {
		d.Stop()
		d.Stop()
		assert.NoError(t, d.Start())
		d.Stop()
	})
}

func TestCloseLifecycle(t *testing.T) {
	src := newFakeSource(0, 1)
	d, err := NewDomain(testPolicy(1000000), DefaultTunables(), src, &fakeActuator{})
	require.NoError(t, err)
	require.NoError(t, d.Start())

	d.Close()

	assert.ErrorIs(t, d.Start(), ErrClosed)
	assert.ErrorIs(t, d.Reconfigure(DefaultTunables()), ErrClosed)
	assert.ErrorIs(t, d.SetLimits(testMinKHz, testMaxKHz), ErrClosed)
	assert.False(t, d.tick())
	assert.False(t, d.Snapshot().Running)

	d.Close()
}

func TestReconfigure(t *testing.T) {
	src := newFakeSource(0, 1)
	d, err := NewDomain(testPolicy(1000000), DefaultTunables(), src, &fakeActuator{})
	require.NoError(t, err)

	t.Run("new settings are visible", func(t *testing.T) {
		tun := DefaultTunables()
		tun.UpThreshold = 90
		tun.FreqStep = 10
		require.NoError(t, d.Reconfigure(tun))
		assert.Equal(t, tun, d.Snapshot().Tunables)
	})

	t.Run("invalid settings leave the old ones in place", func(t *testing.T) {
		before := d.Snapshot().Tunables
		bad := DefaultTunables()
		bad.SamplingRate = 0
		assert.Error(t, d.Reconfigure(bad))
		assert.Equal(t, before, d.Snapshot().Tunables)
	})

	t.Run("a down streak survives reconfiguration", func(t *testing.T) {
		d.mu.Lock()
		d.downCount = 2
		d.mu.Unlock()
		require.NoError(t, d.Reconfigure(DefaultTunables()))
		assert.Equal(t, uint(2), d.Snapshot().DownCount)
	})
}

func TestSetLimits(t *testing.T) {
	src := newFakeSource(0, 1)

	t.Run("raising the floor pulls the target up", func(t *testing.T) {
		act := &fakeActuator{}
		d, err := NewDomain(testPolicy(1000000), DefaultTunables(), src, act)
		require.NoError(t, err)

		require.NoError(t, d.SetLimits(1200000, testMaxKHz))
		snap := d.Snapshot()
		assert.Equal(t, uint64(1200000), snap.TargetFreqKHz)
		assert.Equal(t, uint64(1200000), snap.Policy.MinFreqKHz)
		assert.Equal(t, actuatorCall{"policy0", 1200000, RoundUp}, act.lastCall())
	})

	t.Run("lowering the ceiling pulls the target down", func(t *testing.T) {
		act := &fakeActuator{}
		d, err := NewDomain(testPolicy(1000000), DefaultTunables(), src, act)
		require.NoError(t, err)

		require.NoError(t, d.SetLimits(testMinKHz, 800000))
		snap := d.Snapshot()
		assert.Equal(t, uint64(800000), snap.TargetFreqKHz)
		assert.Equal(t, uint64(800000), snap.Policy.MaxFreqKHz)
		assert.Equal(t, actuatorCall{"policy0", 800000, RoundDown}, act.lastCall())
	})

	t.Run("an in-range target is left alone", func(t *testing.T) {
		act := &fakeActuator{}
		d, err := NewDomain(testPolicy(1000000), DefaultTunables(), src, act)
		require.NoError(t, err)

		require.NoError(t, d.SetLimits(testMinKHz, testMaxKHz))
		assert.Equal(t, 0, act.callCount())
		assert.Equal(t, uint64(1000000), d.Snapshot().TargetFreqKHz)
	})

	t.Run("rejects an empty or inverted range", func(t *testing.T) {
		d, err := NewDomain(testPolicy(1000000), DefaultTunables(), src, &fakeActuator{})
		require.NoError(t, err)

		assert.Error(t, d.SetLimits(0, testMaxKHz))
		assert.Error(t, d.SetLimits(testMaxKHz, testMinKHz))
	})

	t.Run("the clamp holds even when the apply fails", func(t *testing.T) {
		act := &fakeActuator{}
		act.setErr(errors.New("setspeed: permission denied"))
		d, err := NewDomain(testPolicy(1000000), DefaultTunables(), src, act)
		require.NoError(t, err)

		require.NoError(t, d.SetLimits(1500000, testMaxKHz))
		assert.Equal(t, uint64(1500000), d.Snapshot().TargetFreqKHz)
	})
}

func TestReportsNeverBlockTheTick(t *testing.T) {
	src := newFakeSource(0, 1)
	d, err := NewDomain(testPolicy(1900000), DefaultTunables(), src, &fakeActuator{})
	require.NoError(t, err)

	// Unbuffered sink with no consumer: the send must drop, not stall.
	d.Reports = make(chan TickReport)
	d.running = true

	advanceAll(src, 100, 0)
	assert.True(t, d.tick())
	advanceAll(src, 0, 100)
	assert.True(t, d.tick())
}

func TestControlLoopTicksPeriodically(t *testing.T) {
	src := newFakeSource(0, 1)
	tun := DefaultTunables()
	tun.SamplingRate = 2 * time.Millisecond
	d, err := NewDomain(testPolicy(1000000), tun, src, &fakeActuator{})
	require.NoError(t, err)

	reports := make(chan TickReport, 64)
	d.Reports = reports
	require.NoError(t, d.Start())

	deadline := time.After(500 * time.Millisecond)
	for got := 0; got < 3; got++ {
		select {
		case <-reports:
		case <-deadline:
			t.Fatal("timed out waiting for ticks")
		}
	}
	d.Stop()

	// Drain anything emitted before Stop completed, then confirm the
	// loop is gone.
	for len(reports) > 0 {
		<-reports
	}
	select {
	case <-reports:
		t.Fatal("tick after Stop returned")
	case <-time.After(20 * time.Millisecond):
	}
}
