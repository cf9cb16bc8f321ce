package proceeding

// Policy holds the tunable constants of the progression rules.
type Policy struct {
	// CounterQuota is the maximum number of counter-arguments per side.
	CounterQuota int
	// FinalCounterThreshold is the number of counter-arguments across both
	// sides at which the next verdict request escalates to final.
	FinalCounterThreshold int
}

const (
	defaultCounterQuota          = 5
	defaultFinalCounterThreshold = 8
	initialArgumentsPerSide      = 1
)

// DefaultPolicy returns the rules the proceeding has always run with.
func DefaultPolicy() Policy {
	return Policy{
		CounterQuota:          defaultCounterQuota,
		FinalCounterThreshold: defaultFinalCounterThreshold,
	}
}

func (p Policy) normalized() Policy {
	if p.CounterQuota <= 0 {
		p.CounterQuota = defaultCounterQuota
	}
	if p.FinalCounterThreshold <= 0 {
		p.FinalCounterThreshold = defaultFinalCounterThreshold
	}
	return p
}
