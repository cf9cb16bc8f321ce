package proceeding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"jurisflow/broadcast"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var errDuplicateInitial = errors.New("proceeding: side already has an initial argument")

// PGStore persists cases in PostgreSQL. Per-case exclusion comes from locking
// the case row for the duration of each mutation transaction.
type PGStore struct {
	pool TxBeginner
}

// NewPGStore wires a pgx-backed store.
func NewPGStore(pool TxBeginner) *PGStore {
	return &PGStore{pool: pool}
}

const caseColumns = `id::text, title, case_type, phase::text, status::text, surrendered_by::text, created_at, updated_at`

func (s *PGStore) CreateCase(ctx context.Context, params CreateCaseParams) (Case, bool, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Case{}, false, validationError("title required")
	}
	caseType := strings.TrimSpace(params.CaseType)
	if caseType == "" {
		caseType = defaultCaseType
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Case{}, false, fmt.Errorf("proceeding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insertSQL := `
        INSERT INTO cases (title, case_type)
        VALUES ($1, $2)
        ON CONFLICT (title) DO NOTHING
        RETURNING ` + caseColumns

	created := true
	c, err := scanCase(tx.QueryRow(ctx, insertSQL, title, caseType))
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
		c, err = scanCase(tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE title = $1`, title))
	}
	if err != nil {
		return Case{}, false, fmt.Errorf("proceeding: insert case: %w", err)
	}

	if created {
		if err := insertTimeline(ctx, tx, c.ID, broadcast.Event{
			Type:   broadcast.TypeCaseCreated,
			CaseID: c.ID,
			Title:  c.Title,
			Phase:  string(c.Phase),
			Status: string(c.Status),
		}); err != nil {
			return Case{}, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, false, fmt.Errorf("proceeding: commit: %w", err)
	}
	c.Documents = []Document{}
	return c, created, nil
}

// parseCaseID canonicalizes caseID so lookups hit the primary key. Anything
// that is not a UUID cannot name a case.
func parseCaseID(caseID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(caseID))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, caseID)
	}
	return id.String(), nil
}

func (s *PGStore) GetCase(ctx context.Context, caseID string) (Snapshot, error) {
	caseID, err := parseCaseID(caseID)
	if err != nil {
		return Snapshot{}, err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Snapshot{}, fmt.Errorf("proceeding: begin read tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := loadSnapshot(ctx, tx, caseID, false)
	if err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("proceeding: commit read tx: %w", err)
	}
	return snap, nil
}

func (s *PGStore) Mutate(ctx context.Context, caseID string, fn func(ctx context.Context, tx CaseTx) error) error {
	caseID, err := parseCaseID(caseID)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("proceeding: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := loadSnapshot(ctx, tx, caseID, true)
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgCaseTx{tx: tx, snap: snap}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("proceeding: commit: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, tx pgx.Tx, caseID string, forUpdate bool) (Snapshot, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCase(tx.QueryRow(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, caseID)
		}
		return Snapshot{}, fmt.Errorf("proceeding: load case: %w", err)
	}

	if c.Documents, err = loadDocuments(ctx, tx, c.ID); err != nil {
		return Snapshot{}, err
	}
	args, err := loadArguments(ctx, tx, c.ID)
	if err != nil {
		return Snapshot{}, err
	}
	decisions, err := loadDecisions(ctx, tx, c.ID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Case: c, Arguments: args, Decisions: decisions}, nil
}

func loadDocuments(ctx context.Context, tx pgx.Tx, caseID string) ([]Document, error) {
	rows, err := tx.Query(ctx, `
        SELECT id::text, case_id::text, side::text, filename, content, uploaded_at
        FROM case_documents
        WHERE case_id = $1
        ORDER BY uploaded_at, seq
    `, caseID)
	if err != nil {
		return nil, fmt.Errorf("proceeding: list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, 4)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Side, &d.Filename, &d.Content, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("proceeding: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proceeding: iterate documents: %w", err)
	}
	return docs, nil
}

func loadArguments(ctx context.Context, tx pgx.Tx, caseID string) ([]Argument, error) {
	rows, err := tx.Query(ctx, `
        SELECT id::text, case_id::text, side::text, body, type::text, created_at
        FROM case_arguments
        WHERE case_id = $1
        ORDER BY created_at, seq
    `, caseID)
	if err != nil {
		return nil, fmt.Errorf("proceeding: list arguments: %w", err)
	}
	defer rows.Close()

	args := make([]Argument, 0, 12)
	for rows.Next() {
		var a Argument
		if err := rows.Scan(&a.ID, &a.CaseID, &a.Side, &a.Text, &a.Type, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("proceeding: scan argument: %w", err)
		}
		args = append(args, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proceeding: iterate arguments: %w", err)
	}
	return args, nil
}

func loadDecisions(ctx context.Context, tx pgx.Tx, caseID string) ([]Decision, error) {
	rows, err := tx.Query(ctx, `
        SELECT id::text, case_id::text, body, COALESCE(type::text, ''), final, provenance, created_at
        FROM case_decisions
        WHERE case_id = $1
        ORDER BY created_at, seq
    `, caseID)
	if err != nil {
		return nil, fmt.Errorf("proceeding: list decisions: %w", err)
	}
	defer rows.Close()

	decisions := make([]Decision, 0, 4)
	for rows.Next() {
		var (
			d    Decision
			prov []byte
		)
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Text, &d.Type, &d.Final, &prov, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("proceeding: scan decision: %w", err)
		}
		if len(prov) > 0 {
			d.Provenance = json.RawMessage(prov)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("proceeding: iterate decisions: %w", err)
	}
	return decisions, nil
}

func scanCase(row pgx.Row) (Case, error) {
	var (
		c             Case
		surrenderedBy *string
	)
	if err := row.Scan(&c.ID, &c.Title, &c.CaseType, &c.Phase, &c.Status, &surrenderedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Case{}, err
	}
	if surrenderedBy != nil {
		side := Side(*surrenderedBy)
		c.SurrenderedBy = &side
	}
	return c, nil
}

type pgCaseTx struct {
	tx   pgx.Tx
	snap Snapshot
}

func (t *pgCaseTx) Snapshot() Snapshot { return cloneSnapshot(t.snap) }

func (t *pgCaseTx) AppendDocument(ctx context.Context, doc Document) (Document, error) {
	const insertSQL = `
INSERT INTO case_documents (case_id, side, filename, content)
VALUES ($1, $2::party_side, $3, $4)
RETURNING id::text, case_id::text, uploaded_at
`
	if err := t.tx.QueryRow(ctx, insertSQL, t.snap.Case.ID, doc.Side, doc.Filename, doc.Content).
		Scan(&doc.ID, &doc.CaseID, &doc.UploadedAt); err != nil {
		return Document{}, fmt.Errorf("proceeding: insert document: %w", err)
	}
	t.snap.Case.Documents = append(t.snap.Case.Documents, doc)
	return doc, nil
}

func (t *pgCaseTx) AppendArgument(ctx context.Context, arg Argument) (Argument, error) {
	const insertSQL = `
INSERT INTO case_arguments (case_id, side, body, type)
VALUES ($1, $2::party_side, $3, $4::argument_type)
RETURNING id::text, case_id::text, created_at
`
	err := t.tx.QueryRow(ctx, insertSQL, t.snap.Case.ID, arg.Side, arg.Text, arg.Type).
		Scan(&arg.ID, &arg.CaseID, &arg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Argument{}, errDuplicateInitial
		}
		return Argument{}, fmt.Errorf("proceeding: insert argument: %w", err)
	}
	t.snap.Arguments = append(t.snap.Arguments, arg)
	return arg, nil
}

func (t *pgCaseTx) AppendDecision(ctx context.Context, d Decision) (Decision, error) {
	var (
		decisionType any
		provenance   any
	)
	if d.Type != "" {
		decisionType = string(d.Type)
	}
	if len(d.Provenance) > 0 {
		provenance = []byte(d.Provenance)
	}

	const insertSQL = `
INSERT INTO case_decisions (case_id, body, type, final, provenance)
VALUES ($1, $2, $3::decision_type, $4, $5::jsonb)
RETURNING id::text, case_id::text, created_at
`
	if err := t.tx.QueryRow(ctx, insertSQL, t.snap.Case.ID, d.Text, decisionType, d.Final, provenance).
		Scan(&d.ID, &d.CaseID, &d.CreatedAt); err != nil {
		return Decision{}, fmt.Errorf("proceeding: insert decision: %w", err)
	}
	t.snap.Decisions = append(t.snap.Decisions, d)
	return d, nil
}

func (t *pgCaseTx) SetState(ctx context.Context, state CaseState) error {
	current := t.snap.Case.CaseState
	if err := validateTransition(current, state); err != nil {
		return err
	}

	var surrenderedBy any
	if state.SurrenderedBy != nil {
		surrenderedBy = string(*state.SurrenderedBy)
	}

	const updateSQL = `
UPDATE cases
SET phase = $2::case_phase,
    status = $3::case_status,
    surrendered_by = $4::party_side,
    updated_at = now()
WHERE id = $1
  AND case_validate_transition(phase, status, $2::case_phase, $3::case_status)
RETURNING updated_at
`
	if err := t.tx.QueryRow(ctx, updateSQL, t.snap.Case.ID, state.Phase, state.Status, surrenderedBy).
		Scan(&t.snap.Case.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("proceeding: invalid transition %s/%s -> %s/%s", current.Phase, current.Status, state.Phase, state.Status)
		}
		return fmt.Errorf("proceeding: update state: %w", err)
	}
	t.snap.Case.CaseState = state
	return nil
}

func (t *pgCaseTx) AppendTimeline(ctx context.Context, evt broadcast.Event) error {
	return insertTimeline(ctx, t.tx, t.snap.Case.ID, evt)
}

func insertTimeline(ctx context.Context, tx pgx.Tx, caseID string, evt broadcast.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("proceeding: marshal timeline payload: %w", err)
	}
	const q = `
INSERT INTO case_timeline (case_id, seq, type, payload)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::jsonb
FROM case_timeline
WHERE case_id = $1
`
	if _, err := tx.Exec(ctx, q, caseID, string(evt.Type), body); err != nil {
		return fmt.Errorf("proceeding: insert timeline event: %w", err)
	}
	return nil
}
