package proceeding

import "fmt"

// NewCaseState is the state of a freshly created case.
func NewCaseState() CaseState {
	return CaseState{Phase: PhaseInitial, Status: StatusActive}
}

// Closed reports whether the case accepts no further mutation.
func (s CaseState) Closed() bool {
	return s.Phase == PhaseClosed || s.Status != StatusActive
}

// OnContent advances a case out of the initial phase when its first document
// or argument arrives. Later calls leave the state untouched.
func (s CaseState) OnContent() (CaseState, error) {
	if s.Closed() {
		return s, ErrCaseClosed
	}
	if s.Phase == PhaseInitial {
		s.Phase = PhaseArguments
	}
	return s, nil
}

// Surrender closes the case in favour of the opposing side.
func (s CaseState) Surrender(side Side) (CaseState, error) {
	if !side.Valid() {
		return s, validationError("unknown side %q", side)
	}
	if s.Closed() {
		return s, ErrCaseClosed
	}
	by := side
	return CaseState{Phase: PhaseClosed, Status: StatusSurrendered, SurrenderedBy: &by}, nil
}

// RecordDecision applies an adjudication outcome. A final decision completes
// the case; an initial or interim one keeps it open unless the adjudicator
// concluded the matter on its own.
func (s CaseState) RecordDecision(t DecisionType, concluded bool) (CaseState, error) {
	if s.Closed() {
		return s, ErrCaseClosed
	}
	switch t {
	case DecisionFinal:
		s.Phase, s.Status = PhaseClosed, StatusCompleted
	case DecisionInitial, DecisionInterim:
		if concluded {
			s.Phase, s.Status = PhaseClosed, StatusAIClosed
		} else if s.Phase == PhaseInitial {
			s.Phase = PhaseArguments
		}
	default:
		return s, validationError("decision type %q cannot be recorded", t)
	}
	return s, nil
}

// validateTransition rejects any state change that would move the phase
// backwards or leave the terminal phase.
func validateTransition(from, to CaseState) error {
	if from.Phase.rank() < 0 || to.Phase.rank() < 0 {
		return fmt.Errorf("proceeding: unknown phase %s -> %s", from.Phase, to.Phase)
	}
	if from.Phase == PhaseClosed && (to.Phase != from.Phase || to.Status != from.Status) {
		return fmt.Errorf("%w: invalid transition %s/%s -> %s/%s", ErrCaseClosed, from.Phase, from.Status, to.Phase, to.Status)
	}
	if to.Phase.rank() < from.Phase.rank() {
		return fmt.Errorf("proceeding: invalid transition %s -> %s", from.Phase, to.Phase)
	}
	if to.Status != StatusActive && to.Phase != PhaseClosed {
		return fmt.Errorf("proceeding: status %s requires phase %s", to.Status, PhaseClosed)
	}
	return nil
}
