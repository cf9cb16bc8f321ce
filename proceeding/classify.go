package proceeding

// Classify picks the kind of verdict request the stored history calls for.
// The caller never chooses: escalation follows counter-argument volume only.
func (p Policy) Classify(s Snapshot) DecisionType {
	p = p.normalized()

	prior := 0
	for _, d := range s.Decisions {
		if d.Type.Adjudicated() {
			prior++
		}
	}
	if prior == 0 {
		return DecisionInitial
	}

	total := len(s.Arguments)
	initial := min(2*initialArgumentsPerSide, total)
	counter := total - initial

	switch {
	case counter >= p.FinalCounterThreshold:
		return DecisionFinal
	case counter > 0:
		return DecisionInterim
	default:
		return DecisionInitial
	}
}
