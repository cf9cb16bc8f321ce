package proceeding

import "fmt"

// Admit decides whether side may add one more argument given the case state
// and the side's current ledger counts. It must be evaluated under the case's
// exclusive scope so the counts cannot change before the append.
func (p Policy) Admit(state CaseState, side Side, counts SideCounts) error {
	if state.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrCaseClosed, state.Status)
	}
	if state.Phase == PhaseClosed {
		return fmt.Errorf("%w: phase %s", ErrCaseClosed, state.Phase)
	}
	p = p.normalized()
	if NextArgumentType(counts) == ArgumentCounter && counts.CounterCount >= p.CounterQuota {
		return fmt.Errorf("%w: %s has used %d of %d", ErrQuotaExceeded, side, counts.CounterCount, p.CounterQuota)
	}
	return nil
}

// RemainingCounters reports how many counter-arguments side may still file.
func (p Policy) RemainingCounters(counts SideCounts) int {
	p = p.normalized()
	left := p.CounterQuota - counts.CounterCount
	if left < 0 {
		return 0
	}
	return left
}
