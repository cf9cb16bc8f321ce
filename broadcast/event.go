package broadcast

import "time"

// Type names a case state change pushed to observers.
type Type string

const (
	TypeCaseCreated Type = "case_created"
	TypeUpload      Type = "upload"
	TypeArgument    Type = "argument"
	TypeVerdict     Type = "verdict"
	TypeSurrender   Type = "surrender"
)

// Event is the serialized notification delivered to every observer. Phase and
// Status carry the case state after the change so viewers never derive it.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	CaseID       string    `json:"caseId"`
	Title        string    `json:"title,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	ArgumentID   string    `json:"argumentId,omitempty"`
	ArgumentType string    `json:"argumentType,omitempty"`
	Side         string    `json:"side,omitempty"`
	Text         string    `json:"text,omitempty"`
	VerdictID    string    `json:"verdictId,omitempty"`
	DecisionType string    `json:"decisionType,omitempty"`
	Phase        string    `json:"phase,omitempty"`
	Status       string    `json:"status,omitempty"`
	At           time.Time `json:"at"`
}
