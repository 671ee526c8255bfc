package governor

// StaticGovernor pins a domain at a fixed frequency once at Start. It
// backs the two trivial governors, performance and powersave.
type StaticGovernor struct {
	policy   Policy
	act      FrequencyActuator
	target   uint64
	rounding Rounding
}

// NewPerformance returns a governor that pins the domain at its
// maximum frequency.
func NewPerformance(policy Policy, act FrequencyActuator) (*StaticGovernor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &StaticGovernor{
		policy:   policy,
		act:      act,
		target:   policy.MaxFreqKHz,
		rounding: RoundDown,
	}, nil
}

// NewPowersave returns a governor that pins the domain at its minimum
// frequency.
func NewPowersave(policy Policy, act FrequencyActuator) (*StaticGovernor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &StaticGovernor{
		policy:   policy,
		act:      act,
		target:   policy.MinFreqKHz,
		rounding: RoundUp,
	}, nil
}

// Start applies the pinned frequency once.
func (g *StaticGovernor) Start() error {
	return g.act.Apply(g.policy.ID, g.target, g.rounding)
}

// Stop is a no-op; a static governor has no loop to cancel.
func (g *StaticGovernor) Stop() {}
