package proceeding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"jurisflow/db"
	"jurisflow/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestPGStore_Integration connects to a real PostgreSQL via DATABASE_URL and
// runs the engine end to end against the pgx store.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	judge := &fakeJudge{}
	svc := NewService(NewPGStore(pool), judge, nil)
	title := fmt.Sprintf("Integration %d", time.Now().UnixNano())

	c, created, err := svc.CreateCase(ctx, CreateCaseParams{Title: title})
	if err != nil || !created {
		t.Fatalf("create case: created=%v err=%v", created, err)
	}
	dup, created, err := svc.CreateCase(ctx, CreateCaseParams{Title: title})
	if err != nil || created || dup.ID != c.ID {
		t.Fatalf("expected existing case, got %+v created=%v err=%v", dup, created, err)
	}

	if _, err := svc.FileDocument(ctx, FileDocumentParams{
		CaseID: c.ID, Side: SidePlaintiff, Filename: "brief.txt", Content: "Facts of the matter.",
	}); err != nil {
		t.Fatalf("file document: %v", err)
	}
	mustArgue(t, svc, c.ID, SidePlaintiff, 5)

	// One slot left for the plaintiff: exactly one of the racers may take it.
	var (
		wg   sync.WaitGroup
		errs = make([]error, 4)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SubmitArgument(ctx, c.ID, SidePlaintiff, fmt.Sprintf("race %d", i))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrQuotaExceeded):
		default:
			t.Fatalf("unexpected race error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one racer to succeed, got %d", ok)
	}

	d, err := svc.RequestVerdict(ctx, c.ID, "")
	if err != nil {
		t.Fatalf("verdict: %v", err)
	}
	if d.Type != DecisionInitial {
		t.Errorf("expected initial decision, got %s", d.Type)
	}

	if _, err := svc.Surrender(ctx, c.ID, SideDefense); err != nil {
		t.Fatalf("surrender: %v", err)
	}
	if _, err := svc.SubmitArgument(ctx, c.ID, SideDefense, "too late"); !errors.Is(err, ErrCaseClosed) {
		t.Fatalf("expected ErrCaseClosed, got %v", err)
	}

	view, err := svc.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if view.Case.Status != StatusSurrendered || view.Case.SurrenderedBy == nil || *view.Case.SurrenderedBy != SideDefense {
		t.Errorf("unexpected state %+v", view.Case.CaseState)
	}
	if view.ArgumentCount != 6 || view.VerdictCount != 2 || len(view.Case.Documents) != 1 {
		t.Errorf("unexpected counts args=%d verdicts=%d docs=%d", view.ArgumentCount, view.VerdictCount, len(view.Case.Documents))
	}

	var timelineRows int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM case_timeline WHERE case_id = $1`, c.ID).Scan(&timelineRows); err != nil {
		t.Fatalf("count timeline: %v", err)
	}
	// created + upload + 6 arguments + verdict + surrender
	if timelineRows != 10 {
		t.Errorf("expected 10 timeline rows, got %d", timelineRows)
	}

	if _, err := pool.Exec(ctx, `UPDATE case_arguments SET body = 'rewritten' WHERE case_id = $1`, c.ID); err == nil {
		t.Errorf("expected append-only trigger to reject argument update")
	}
}
