package governor

// minStepKHz floors the step size so a misconfigured 0% freq_step
// still makes progress.
const minStepKHz = 1000

// effectiveLoad applies the powersave bias to a measured load. The
// bias is subtracted, so a positive bias lowers the load the
// thresholds see.
func effectiveLoad(load uint64, bias int) uint64 {
	e := int64(load) - int64(bias)
	if e < 0 {
		return 0
	}
	if e > 100 {
		return 100
	}
	return uint64(e)
}

// stepDecision is the outcome of one policy evaluation: whether to
// request a frequency change, and if so to where and which way the
// actuator should round.
type stepDecision struct {
	request  bool
	target   uint64
	rounding Rounding
}

// decideStep evaluates the three-band threshold policy for one tick
// and returns the decision plus the updated consecutive-low-load
// count.
//
// Loads strictly above the up threshold step toward max immediately.
// Loads strictly below the down threshold step toward min, but only
// once the low count reaches SamplingDownFactor. Loads between the
// thresholds hold the current frequency, so the controller cannot
// oscillate around a single threshold value.
func decideStep(t Tunables, load uint64, cur, minFreq, maxFreq uint64, downCount uint) (stepDecision, uint) {
	step := maxFreq * uint64(t.FreqStep) / 100
	if step < minStepKHz {
		step = minStepKHz
	}

	switch {
	case load > uint64(t.UpThreshold):
		downCount = 0
		if cur < maxFreq {
			target := cur + step
			if target > maxFreq {
				target = maxFreq
			}
			return stepDecision{request: true, target: target, rounding: RoundUp}, downCount
		}

	case load < uint64(t.DownThreshold):
		downCount++
		if downCount < t.SamplingDownFactor {
			return stepDecision{}, downCount
		}
		// The low streak committed; the count resets whether or not a
		// request goes out.
		downCount = 0
		if cur > minFreq {
			target := minFreq
			if cur > minFreq+step {
				target = cur - step
			}
			return stepDecision{request: true, target: target, rounding: RoundDown}, downCount
		}

	default:
		// Hysteresis band: hold.
		downCount = 0
	}

	return stepDecision{}, downCount
}
