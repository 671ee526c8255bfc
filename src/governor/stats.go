package governor

// cpuSample holds the cumulative counters observed for one CPU at the
// previous sample, the baseline for the next window's deltas.
type cpuSample struct {
	prevTotal uint64
	prevBusy  uint64
}

// seedSamples takes one baseline reading per CPU so the first tick
// windows from attach time. A failed read leaves a zero baseline; the
// first window then spans the counter's full history, which is still a
// valid window.
func seedSamples(src IdleTimeSource, cpus []int) map[int]*cpuSample {
	samples := make(map[int]*cpuSample, len(cpus))
	for _, cpu := range cpus {
		s := &cpuSample{}
		if wall, idle, err := src.Read(cpu); err == nil {
			s.prevTotal = wall
			if wall > idle {
				s.prevBusy = wall - idle
			}
		}
		samples[cpu] = s
	}
	return samples
}

// accumulateWindow reads every CPU once and folds the deltas since the
// previous sample into domain-wide busy and wall totals.
//
// Baselines update unconditionally on every successful read, but a CPU
// only contributes to the window when its wall clock advanced. Counter
// anomalies never underflow: a wall wraparound zeroes the window delta,
// idle outrunning wall zeroes the busy counter, and the busy delta is
// clamped to [0, dt]. A read error skips the CPU and leaves its
// baseline untouched.
func accumulateWindow(src IdleTimeSource, samples map[int]*cpuSample) (busy, wall uint64) {
	for cpu, s := range samples {
		wallNow, idleNow, err := src.Read(cpu)
		if err != nil {
			continue
		}

		var dt uint64
		if wallNow > s.prevTotal {
			dt = wallNow - s.prevTotal
		}

		var busyNow uint64
		if wallNow > idleNow {
			busyNow = wallNow - idleNow
		}

		var db uint64
		if busyNow > s.prevBusy {
			db = busyNow - s.prevBusy
		}
		if db > dt {
			db = dt
		}

		s.prevTotal = wallNow
		s.prevBusy = busyNow

		if dt > 0 {
			busy += db
			wall += dt
		}
	}
	return busy, wall
}
