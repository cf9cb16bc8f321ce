package proceeding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"jurisflow/broadcast"

	"github.com/google/uuid"
)

const defaultAdjudicationTimeout = 60 * time.Second

// Service runs every case mutation end to end: admission, ledger append,
// state transition and fan-out. All case state lives in the Store.
type Service struct {
	store   Store
	judge   Adjudicator
	sink    EventSink
	policy  Policy
	closure ClosurePolicy
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	metrics engineMetrics
	order   caseLocks
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPolicy overrides the quota and escalation thresholds.
func WithPolicy(p Policy) ServiceOption {
	return func(s *Service) { s.policy = p.normalized() }
}

// WithClosurePolicy overrides the read-side closure heuristic.
func WithClosurePolicy(c ClosurePolicy) ServiceOption {
	return func(s *Service) { s.closure = c }
}

// WithAdjudicationTimeout bounds each adjudicator call.
func WithAdjudicationTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the timestamp source used for events and surrender records.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the engine. A nil sink discards events.
func NewService(store Store, judge Adjudicator, sink EventSink, opts ...ServiceOption) *Service {
	if sink == nil {
		sink = discardSink{}
	}
	s := &Service{
		store:   store,
		judge:   judge,
		sink:    sink,
		policy:  DefaultPolicy(),
		closure: DefaultClosurePolicy(),
		timeout: defaultAdjudicationTimeout,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		metrics: newEngineMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the active progression rules.
func (s *Service) Policy() Policy { return s.policy }

// CreateCase opens a new case, or returns the existing one with the same title.
func (s *Service) CreateCase(ctx context.Context, params CreateCaseParams) (Case, bool, error) {
	c, created, err := s.store.CreateCase(ctx, params)
	if err != nil {
		s.metrics.rejection(ctx, "create_case", err)
		return Case{}, false, err
	}
	if !created {
		s.logger.Debug("case already exists", "case_id", c.ID, "title", c.Title)
		return c, false, nil
	}

	s.logger.Info("case created", "case_id", c.ID, "case_type", c.CaseType)
	s.sink.Publish(s.event(broadcast.Event{
		Type:   broadcast.TypeCaseCreated,
		CaseID: c.ID,
		Title:  c.Title,
		Phase:  string(c.Phase),
		Status: string(c.Status),
	}))
	return c, true, nil
}

// FileDocument attaches extracted document text to a case. The first content
// moves the case out of its initial phase.
func (s *Service) FileDocument(ctx context.Context, params FileDocumentParams) (Document, error) {
	if !params.Side.Valid() {
		return Document{}, validationError("unknown side %q", params.Side)
	}
	filename := strings.TrimSpace(params.Filename)
	if filename == "" {
		return Document{}, validationError("filename required")
	}
	if strings.TrimSpace(params.Content) == "" {
		return Document{}, validationError("document %s has no text content", filename)
	}

	var (
		doc Document
		evt broadcast.Event
	)
	err := s.commit(ctx, params.CaseID, &evt, func(ctx context.Context, tx CaseTx) error {
		snap := tx.Snapshot()
		next, err := snap.Case.OnContent()
		if err != nil {
			return fmt.Errorf("%w: status %s", err, snap.Case.Status)
		}

		doc, err = tx.AppendDocument(ctx, Document{
			Side:     params.Side,
			Filename: filename,
			Content:  params.Content,
		})
		if err != nil {
			return err
		}
		if err := applyState(ctx, tx, snap.Case.CaseState, next); err != nil {
			return err
		}

		evt = s.event(broadcast.Event{
			Type:     broadcast.TypeUpload,
			CaseID:   snap.Case.ID,
			Filename: doc.Filename,
			Side:     string(doc.Side),
			Phase:    string(next.Phase),
			Status:   string(next.Status),
		})
		return tx.AppendTimeline(ctx, evt)
	})
	if err != nil {
		s.metrics.rejection(ctx, "file_document", err)
		return Document{}, err
	}

	s.logger.Info("document filed", "case_id", doc.CaseID, "side", doc.Side, "filename", doc.Filename)
	return doc, nil
}

// SubmitArgument appends an argument for side. The ledger decides whether it
// is the side's initial argument or a counter-argument.
func (s *Service) SubmitArgument(ctx context.Context, caseID string, side Side, text string) (Argument, error) {
	body, err := normalizeArgument(side, text)
	if err != nil {
		return Argument{}, err
	}

	var (
		arg Argument
		evt broadcast.Event
	)
	err = s.commit(ctx, caseID, &evt, func(ctx context.Context, tx CaseTx) error {
		snap := tx.Snapshot()
		counts := CountsFor(snap.Arguments, side)
		if err := s.policy.Admit(snap.Case.CaseState, side, counts); err != nil {
			return err
		}
		next, err := snap.Case.OnContent()
		if err != nil {
			return err
		}

		arg, err = tx.AppendArgument(ctx, Argument{
			Side: side,
			Text: body,
			Type: NextArgumentType(counts),
		})
		if err != nil {
			if errors.Is(err, errDuplicateInitial) {
				return fmt.Errorf("%w: %s already filed an initial argument", ErrValidation, side)
			}
			return err
		}
		if err := applyState(ctx, tx, snap.Case.CaseState, next); err != nil {
			return err
		}

		evt = s.event(broadcast.Event{
			Type:         broadcast.TypeArgument,
			CaseID:       snap.Case.ID,
			ArgumentID:   arg.ID,
			ArgumentType: string(arg.Type),
			Side:         string(arg.Side),
			Text:         arg.Text,
			Phase:        string(next.Phase),
			Status:       string(next.Status),
		})
		return tx.AppendTimeline(ctx, evt)
	})
	if err != nil {
		s.metrics.rejection(ctx, "submit_argument", err)
		if IsRejection(err) {
			s.logger.Info("argument rejected", "case_id", caseID, "side", side, "error", err)
		}
		return Argument{}, err
	}

	s.metrics.argumentAdmitted(ctx, arg.Side, arg.Type)
	s.logger.Info("argument admitted", "case_id", caseID, "side", side, "type", arg.Type)
	return arg, nil
}

// Surrender closes the case in favour of the side opposing side and records
// a surrender decision.
func (s *Service) Surrender(ctx context.Context, caseID string, side Side) (Decision, error) {
	if !side.Valid() {
		return Decision{}, validationError("unknown side %q", side)
	}

	var (
		d   Decision
		evt broadcast.Event
	)
	err := s.commit(ctx, caseID, &evt, func(ctx context.Context, tx CaseTx) error {
		snap := tx.Snapshot()
		next, err := snap.Case.Surrender(side)
		if err != nil {
			return fmt.Errorf("%w: status %s", err, snap.Case.Status)
		}

		at := s.now()
		provenance, err := json.Marshal(map[string]any{
			"type":          string(DecisionSurrender),
			"surrenderedBy": string(side),
			"timestamp":     at.Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("proceeding: marshal surrender provenance: %w", err)
		}

		d, err = tx.AppendDecision(ctx, Decision{
			Text:       surrenderNotice(snap.Case.ID, side),
			Type:       DecisionSurrender,
			Final:      true,
			Provenance: provenance,
		})
		if err != nil {
			return err
		}
		if err := tx.SetState(ctx, next); err != nil {
			return err
		}

		evt = s.event(broadcast.Event{
			Type:         broadcast.TypeSurrender,
			CaseID:       snap.Case.ID,
			Side:         string(side),
			VerdictID:    d.ID,
			DecisionType: string(DecisionSurrender),
			Phase:        string(next.Phase),
			Status:       string(next.Status),
		})
		return tx.AppendTimeline(ctx, evt)
	})
	if err != nil {
		s.metrics.rejection(ctx, "surrender", err)
		return Decision{}, err
	}

	s.metrics.decisionRecorded(ctx, DecisionSurrender)
	s.logger.Info("case surrendered", "case_id", caseID, "side", side)
	return d, nil
}

// RequestVerdict asks the adjudicator for the decision the case history calls
// for and records it. The adjudicator runs outside the case's exclusive scope;
// the case is re-checked before the decision is stored, so a case closed in
// the meantime rejects the late decision.
func (s *Service) RequestVerdict(ctx context.Context, caseID, contextNote string) (Decision, error) {
	if s.judge == nil {
		return Decision{}, fmt.Errorf("%w: no adjudicator configured", ErrUpstream)
	}

	snap, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return Decision{}, err
	}
	if snap.Case.Closed() {
		s.metrics.rejection(ctx, "request_verdict", ErrCaseClosed)
		return Decision{}, fmt.Errorf("%w: status %s", ErrCaseClosed, snap.Case.Status)
	}
	if snap.Case.Phase == PhaseInitial {
		err := validationError("case %s has no documents or arguments yet", caseID)
		s.metrics.rejection(ctx, "request_verdict", err)
		return Decision{}, err
	}

	requestType := s.policy.Classify(snap)
	result, err := s.adjudicate(ctx, snap, contextNote, requestType)
	if err != nil {
		s.metrics.upstreamFailure(ctx, requestType)
		s.logger.Warn("adjudication failed", "case_id", caseID, "type", requestType, "error", err)
		return Decision{}, err
	}

	var provenance json.RawMessage
	if len(result.Provenance) > 0 {
		if provenance, err = json.Marshal(result.Provenance); err != nil {
			return Decision{}, fmt.Errorf("proceeding: marshal provenance: %w", err)
		}
	}

	var (
		d   Decision
		evt broadcast.Event
	)
	err = s.commit(ctx, caseID, &evt, func(ctx context.Context, tx CaseTx) error {
		current := tx.Snapshot()
		next, err := current.Case.RecordDecision(requestType, result.Concluded)
		if err != nil {
			return fmt.Errorf("%w: status %s", err, current.Case.Status)
		}

		d, err = tx.AppendDecision(ctx, Decision{
			Text:       result.Text,
			Type:       requestType,
			Final:      next.Phase == PhaseClosed,
			Provenance: provenance,
		})
		if err != nil {
			return err
		}
		if err := applyState(ctx, tx, current.Case.CaseState, next); err != nil {
			return err
		}

		evt = s.event(broadcast.Event{
			Type:         broadcast.TypeVerdict,
			CaseID:       current.Case.ID,
			VerdictID:    d.ID,
			Text:         d.Text,
			DecisionType: string(d.Type),
			Phase:        string(next.Phase),
			Status:       string(next.Status),
		})
		return tx.AppendTimeline(ctx, evt)
	})
	if err != nil {
		s.metrics.rejection(ctx, "request_verdict", err)
		return Decision{}, err
	}

	s.metrics.decisionRecorded(ctx, d.Type)
	s.logger.Info("decision recorded", "case_id", caseID, "type", d.Type, "final", d.Final)
	return d, nil
}

// commit runs fn in the case's exclusive scope and publishes the event it
// produced once the scope has committed. Both happen under a per-case lock, so
// observers of this process see a case's events in commit order.
func (s *Service) commit(ctx context.Context, caseID string, evt *broadcast.Event, fn func(ctx context.Context, tx CaseTx) error) error {
	unlock := s.order.lock(caseID)
	defer unlock()

	if err := s.store.Mutate(ctx, caseID, fn); err != nil {
		return err
	}
	s.sink.Publish(*evt)
	return nil
}

func (s *Service) adjudicate(ctx context.Context, snap Snapshot, note string, t DecisionType) (VerdictResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.judge.GenerateVerdict(ctx, VerdictRequest{
		Case:           snap.Case,
		Arguments:      snap.Arguments,
		PriorDecisions: snap.Decisions,
		ContextNote:    strings.TrimSpace(note),
		RequestType:    t,
	})
	if err != nil {
		return VerdictResult{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return VerdictResult{}, fmt.Errorf("%w: empty decision text", ErrUpstream)
	}
	return result, nil
}

// Classify reports the kind of verdict the next request would produce.
func (s *Service) Classify(ctx context.Context, caseID string) (DecisionType, error) {
	snap, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return "", err
	}
	return s.policy.Classify(snap), nil
}

// CaseView is a case snapshot with the derived fields readers display.
type CaseView struct {
	Snapshot
	ArgumentCount int
	VerdictCount  int
	Closed        bool
	NextVerdict   DecisionType
	Remaining     map[Side]int
}

// GetCase loads a case with its derived presentation fields.
func (s *Service) GetCase(ctx context.Context, caseID string) (CaseView, error) {
	snap, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return CaseView{}, err
	}
	view := CaseView{
		Snapshot:      snap,
		ArgumentCount: snap.ArgumentCount(),
		VerdictCount:  snap.VerdictCount(),
		Closed:        s.closure.IsClosed(snap),
		NextVerdict:   s.policy.Classify(snap),
		Remaining:     make(map[Side]int, 2),
	}
	for _, side := range []Side{SidePlaintiff, SideDefense} {
		view.Remaining[side] = s.policy.RemainingCounters(CountsFor(snap.Arguments, side))
	}
	return view, nil
}

// Arguments returns the chronological ledger of a case.
func (s *Service) Arguments(ctx context.Context, caseID string) ([]Argument, error) {
	snap, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return snap.Arguments, nil
}

// CountsFor tallies one side's ledger entries.
func (s *Service) CountsFor(ctx context.Context, caseID string, side Side) (SideCounts, error) {
	if !side.Valid() {
		return SideCounts{}, validationError("unknown side %q", side)
	}
	snap, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return SideCounts{}, err
	}
	return CountsFor(snap.Arguments, side), nil
}

func (s *Service) event(evt broadcast.Event) broadcast.Event {
	evt.ID = uuid.NewString()
	evt.At = s.now()
	return evt
}

func applyState(ctx context.Context, tx CaseTx, from, to CaseState) error {
	if from.Phase == to.Phase && from.Status == to.Status {
		return nil
	}
	return tx.SetState(ctx, to)
}

func surrenderNotice(caseID string, side Side) string {
	return fmt.Sprintf(`**CASE SURRENDER**

**CASE ID:** %s
**SURRENDERING PARTY:** %s

**NOTICE:** The %s has formally surrendered. This constitutes an admission and withdrawal from the case.

**ORDER:** Case concluded due to surrender by the %s.

**RESULT:** Judgment by default in favour of the %s.`,
		caseID, strings.ToUpper(string(side)), side, side, side.Opponent())
}
