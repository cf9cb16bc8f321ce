package proceeding

import (
	"context"

	"jurisflow/broadcast"
)

// Store is the authoritative document store for cases. The engine keeps no
// case state of its own.
type Store interface {
	// CreateCase inserts a case, or returns the existing case with the same
	// title and created=false.
	CreateCase(ctx context.Context, params CreateCaseParams) (c Case, created bool, err error)
	// GetCase loads the full history of a case.
	GetCase(ctx context.Context, caseID string) (Snapshot, error)
	// Mutate runs fn with exclusive access to one case. Writes made through
	// tx become visible only if fn returns nil.
	Mutate(ctx context.Context, caseID string, fn func(ctx context.Context, tx CaseTx) error) error
}

// CaseTx is the write scope handed to Mutate callbacks.
type CaseTx interface {
	// Snapshot returns the case history as of the start of the scope plus any
	// writes already made through this tx.
	Snapshot() Snapshot
	AppendDocument(ctx context.Context, doc Document) (Document, error)
	AppendArgument(ctx context.Context, arg Argument) (Argument, error)
	AppendDecision(ctx context.Context, d Decision) (Decision, error)
	SetState(ctx context.Context, state CaseState) error
	// AppendTimeline records evt in the case's audit trail in the same scope
	// as the writes it describes.
	AppendTimeline(ctx context.Context, evt broadcast.Event) error
}

// Adjudicator produces decision text for a case. Implementations live outside
// this package; the engine treats the returned text as opaque.
type Adjudicator interface {
	GenerateVerdict(ctx context.Context, req VerdictRequest) (VerdictResult, error)
}

// VerdictRequest is everything the adjudicator sees about a case.
type VerdictRequest struct {
	Case           Case
	Arguments      []Argument
	PriorDecisions []Decision
	ContextNote    string
	RequestType    DecisionType
}

// VerdictResult is the adjudicator's reply. Concluded is set when the
// adjudicator explicitly ends the proceeding ahead of a final request.
type VerdictResult struct {
	Text       string
	Provenance map[string]any
	Concluded  bool
}

// EventSink receives every successful state change.
type EventSink interface {
	Publish(evt broadcast.Event)
}

type discardSink struct{}

func (discardSink) Publish(broadcast.Event) {}
