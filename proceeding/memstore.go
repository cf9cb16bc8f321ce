package proceeding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"jurisflow/broadcast"

	"github.com/google/uuid"
)

// MemoryStore keeps cases in process memory. Each case has its own mutex so
// mutations on different cases never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	cases   map[string]*memCase
	byTitle map[string]string
	now     func() time.Time
	newID   func() string
}

type memCase struct {
	mu       sync.Mutex
	snap     Snapshot
	timeline []broadcast.Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:   make(map[string]*memCase),
		byTitle: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// WithClock overrides the timestamp source.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) CreateCase(_ context.Context, params CreateCaseParams) (Case, bool, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Case{}, false, validationError("title required")
	}
	caseType := strings.TrimSpace(params.CaseType)
	if caseType == "" {
		caseType = defaultCaseType
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byTitle[title]; ok {
		entry := m.cases[id]
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return cloneSnapshot(entry.snap).Case, false, nil
	}

	now := m.now()
	c := Case{
		ID:        m.newID(),
		Title:     title,
		CaseType:  caseType,
		Documents: []Document{},
		CreatedAt: now,
		UpdatedAt: now,
		CaseState: NewCaseState(),
	}
	m.cases[c.ID] = &memCase{
		snap: Snapshot{Case: c},
		timeline: []broadcast.Event{{
			Type:   broadcast.TypeCaseCreated,
			CaseID: c.ID,
			Title:  c.Title,
			Phase:  string(c.Phase),
			Status: string(c.Status),
			At:     now,
		}},
	}
	m.byTitle[title] = c.ID
	return cloneSnapshot(Snapshot{Case: c}).Case, true, nil
}

func (m *MemoryStore) GetCase(_ context.Context, caseID string) (Snapshot, error) {
	entry, err := m.lookup(caseID)
	if err != nil {
		return Snapshot{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneSnapshot(entry.snap), nil
}

func (m *MemoryStore) Mutate(ctx context.Context, caseID string, fn func(ctx context.Context, tx CaseTx) error) error {
	entry, err := m.lookup(caseID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	tx := &memTx{store: m, snap: cloneSnapshot(entry.snap)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("proceeding: commit: %w", err)
	}
	entry.snap = tx.snap
	entry.timeline = append(entry.timeline, tx.timeline...)
	return nil
}

// Timeline returns the audit trail recorded for a case.
func (m *MemoryStore) Timeline(caseID string) ([]broadcast.Event, error) {
	entry, err := m.lookup(caseID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]broadcast.Event{}, entry.timeline...), nil
}

func (m *MemoryStore) lookup(caseID string) (*memCase, error) {
	m.mu.RLock()
	entry, ok := m.cases[caseID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, caseID)
	}
	return entry, nil
}

type memTx struct {
	store    *MemoryStore
	snap     Snapshot
	timeline []broadcast.Event
}

func (t *memTx) AppendTimeline(_ context.Context, evt broadcast.Event) error {
	t.timeline = append(t.timeline, evt)
	return nil
}

func (t *memTx) Snapshot() Snapshot { return cloneSnapshot(t.snap) }

func (t *memTx) AppendDocument(_ context.Context, doc Document) (Document, error) {
	doc.ID = t.store.newID()
	doc.CaseID = t.snap.Case.ID
	doc.UploadedAt = t.store.now()
	t.snap.Case.Documents = append(t.snap.Case.Documents, doc)
	t.snap.Case.UpdatedAt = doc.UploadedAt
	return doc, nil
}

func (t *memTx) AppendArgument(_ context.Context, arg Argument) (Argument, error) {
	arg.ID = t.store.newID()
	arg.CaseID = t.snap.Case.ID
	arg.CreatedAt = t.store.now()
	t.snap.Arguments = append(t.snap.Arguments, arg)
	t.snap.Case.UpdatedAt = arg.CreatedAt
	return arg, nil
}

func (t *memTx) AppendDecision(_ context.Context, d Decision) (Decision, error) {
	d.ID = t.store.newID()
	d.CaseID = t.snap.Case.ID
	d.CreatedAt = t.store.now()
	t.snap.Decisions = append(t.snap.Decisions, d)
	t.snap.Case.UpdatedAt = d.CreatedAt
	return d, nil
}

func (t *memTx) SetState(_ context.Context, state CaseState) error {
	if err := validateTransition(t.snap.Case.CaseState, state); err != nil {
		return err
	}
	t.snap.Case.CaseState = state
	t.snap.Case.UpdatedAt = t.store.now()
	return nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Case.Documents = append([]Document{}, s.Case.Documents...)
	out.Arguments = append([]Argument{}, s.Arguments...)
	out.Decisions = append([]Decision{}, s.Decisions...)
	if s.Case.SurrenderedBy != nil {
		side := *s.Case.SurrenderedBy
		out.Case.SurrenderedBy = &side
	}
	return out
}
