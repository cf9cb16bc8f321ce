package proceeding

import (
	"encoding/json"
	"time"
)

// Side identifies one of the two opposing parties of a case.
type Side string

const (
	SidePlaintiff Side = "plaintiff"
	SideDefense   Side = "defense"
)

// Valid reports whether s is one of the two known parties.
func (s Side) Valid() bool {
	return s == SidePlaintiff || s == SideDefense
}

// Opponent returns the opposing party.
func (s Side) Opponent() Side {
	if s == SidePlaintiff {
		return SideDefense
	}
	return SidePlaintiff
}

// Phase is the coarse lifecycle stage of a case.
type Phase string

const (
	PhaseInitial   Phase = "initial"
	PhaseArguments Phase = "arguments"
	PhaseClosed    Phase = "closed"
)

func (p Phase) rank() int {
	switch p {
	case PhaseInitial:
		return 0
	case PhaseArguments:
		return 1
	case PhaseClosed:
		return 2
	default:
		return -1
	}
}

// Status is the fine-grained outcome of a case.
type Status string

const (
	StatusActive      Status = "active"
	StatusSurrendered Status = "surrendered"
	StatusAIClosed    Status = "ai_closed"
	StatusCompleted   Status = "completed"
)

// ArgumentType tags an argument as the first one of its side or a follow-up.
type ArgumentType string

const (
	ArgumentInitial ArgumentType = "initial"
	ArgumentCounter ArgumentType = "counter"
)

// DecisionType reflects how far the case had progressed when a decision was issued.
type DecisionType string

const (
	DecisionInitial   DecisionType = "initial"
	DecisionInterim   DecisionType = "interim"
	DecisionFinal     DecisionType = "final"
	DecisionSurrender DecisionType = "surrender"
)

// Adjudicated reports whether the decision came from the adjudicator rather
// than a party action. Untyped legacy records count as adjudicated.
func (t DecisionType) Adjudicated() bool {
	return t != DecisionSurrender
}

const defaultCaseType = "civil"

// Document is a filed piece of evidence owned by its case.
type Document struct {
	ID         string
	CaseID     string
	Side       Side
	Filename   string
	Content    string
	UploadedAt time.Time
}

// Argument is an immutable statement submitted by one side.
type Argument struct {
	ID        string
	CaseID    string
	Side      Side
	Text      string
	Type      ArgumentType
	CreatedAt time.Time
}

// Decision is an immutable adjudication record. Provenance is the raw
// payload returned by the adjudicator and is never interpreted by the engine,
// except by the legacy closure fallback.
type Decision struct {
	ID         string
	CaseID     string
	Text       string
	Type       DecisionType
	Final      bool
	Provenance json.RawMessage
	CreatedAt  time.Time
}

// CaseState is the mutable part of a case owned by the state machine.
type CaseState struct {
	Phase         Phase
	Status        Status
	SurrenderedBy *Side
}

// Case mirrors the cases table plus its documents.
type Case struct {
	ID        string
	Title     string
	CaseType  string
	Documents []Document
	CreatedAt time.Time
	UpdatedAt time.Time
	CaseState
}

// Snapshot is the full persisted history of a case at one point in time.
type Snapshot struct {
	Case      Case
	Arguments []Argument
	Decisions []Decision
}

// ArgumentCount returns the number of arguments across both sides.
func (s Snapshot) ArgumentCount() int { return len(s.Arguments) }

// VerdictCount returns the number of decisions, surrender records included.
func (s Snapshot) VerdictCount() int { return len(s.Decisions) }

// LatestDecision returns the most recent decision, if any.
func (s Snapshot) LatestDecision() (Decision, bool) {
	if len(s.Decisions) == 0 {
		return Decision{}, false
	}
	return s.Decisions[len(s.Decisions)-1], true
}

// CreateCaseParams carries the caller supplied fields for a new case.
type CreateCaseParams struct {
	Title    string
	CaseType string
}

// FileDocumentParams carries an already extracted document.
type FileDocumentParams struct {
	CaseID   string
	Side     Side
	Filename string
	Content  string
}
