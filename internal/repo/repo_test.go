package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/migrate"
	"hourline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedSolicitation(t *testing.T, r repo.Repo, id, clientID, state, createdAt string) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	s := domain.Solicitation{
		ID: id, ClientID: clientID, HoursTotal: 10, CostPerHour: 30,
		State: state, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	if err := r.InsertSolicitationTx(ctx, tx, s); err != nil {
		t.Fatalf("insert solicitation: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestGetSolicitationNotFound(t *testing.T) {
	r := newRepo(t)
	if _, err := r.GetSolicitation(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListSolicitationsCursor(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := r.InsertClient(ctx, domain.Client{ID: "cl-1", Name: "Acme", CreatedAt: base.Format(time.RFC3339)}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		seedSolicitation(t, r, fmt.Sprintf("s-%d", i), "cl-1", domain.SolicitationPendiente, ts)
	}

	// newest first
	page, err := r.ListSolicitations(ctx, repo.SolicitationFilters{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != "s-4" || page[1].ID != "s-3" {
		t.Fatalf("first page = %+v", page)
	}

	rest, err := r.ListSolicitations(ctx, repo.SolicitationFilters{
		CursorCreatedAt: page[1].CreatedAt,
		CursorID:        page[1].ID,
	})
	if err != nil {
		t.Fatalf("list after cursor: %v", err)
	}
	if len(rest) != 3 || rest[0].ID != "s-2" || rest[2].ID != "s-0" {
		t.Fatalf("second page = %+v", rest)
	}
}

func TestListSolicitationsCursorSameTimestamp(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if err := r.InsertClient(ctx, domain.Client{ID: "cl-1", Name: "Acme", CreatedAt: ts}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		seedSolicitation(t, r, id, "cl-1", domain.SolicitationPendiente, ts)
	}

	page, err := r.ListSolicitations(ctx, repo.SolicitationFilters{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != "c" || page[1].ID != "b" {
		t.Fatalf("first page = %+v", page)
	}
	rest, err := r.ListSolicitations(ctx, repo.SolicitationFilters{
		CursorCreatedAt: page[1].CreatedAt,
		CursorID:        page[1].ID,
	})
	if err != nil {
		t.Fatalf("list after cursor: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "a" {
		t.Fatalf("second page = %+v", rest)
	}
}

func TestSwapSolicitationStateTx(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if err := r.InsertClient(ctx, domain.Client{ID: "cl-1", Name: "Acme", CreatedAt: now}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	seedSolicitation(t, r, "s-1", "cl-1", domain.SolicitationPendiente, now)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	swapped, err := r.SwapSolicitationStateTx(ctx, tx, "s-1", domain.SolicitationPendiente, domain.SolicitationAprobado, now)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !swapped {
		t.Fatal("swap from the current state should land")
	}
	// the row moved, so the same swap loses
	swapped, err = r.SwapSolicitationStateTx(ctx, tx, "s-1", domain.SolicitationPendiente, domain.SolicitationAprobado, now)
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if swapped {
		t.Fatal("swap from a stale state must not land")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := r.GetSolicitation(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.SolicitationAprobado {
		t.Fatalf("state = %s, want aprobado", got.State)
	}
}

func TestReportedHoursCountsMembersOnly(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if err := r.InsertClient(ctx, domain.Client{ID: "cl-1", Name: "Acme", CreatedAt: now}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := r.InsertMember(ctx, domain.Member{ID: "m-1", Name: "Ana", CreatedAt: now}); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	seedSolicitation(t, r, "s-1", "cl-1", domain.SolicitationAprobado, now)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	a := domain.Assignment{
		ID: "a-1", SolicitationID: "s-1", MemberID: "m-1",
		HoursAllocated: 5, State: domain.AssignmentAsignado,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := r.InsertAssignmentTx(ctx, tx, a); err != nil {
		t.Fatalf("insert assignment: %v", err)
	}
	entries := []domain.ProgressEntry{
		{AssignmentID: "a-1", AuthorType: domain.AuthorMiembro, AuthorID: "m-1", Content: "work", HoursReported: 2, CreatedAt: now},
		{AssignmentID: "a-1", AuthorType: domain.AuthorMiembro, AuthorID: "m-1", Content: "more", HoursReported: 1.5, CreatedAt: now},
		{AssignmentID: "a-1", AuthorType: domain.AuthorCliente, AuthorID: "cl-1", Content: "note", HoursReported: 0, CreatedAt: now},
	}
	for _, e := range entries {
		if _, err := r.InsertProgressTx(ctx, tx, e); err != nil {
			t.Fatalf("insert progress: %v", err)
		}
	}
	reported, err := r.ReportedHoursTx(ctx, tx, "a-1")
	if err != nil {
		t.Fatalf("reported hours: %v", err)
	}
	if reported != 3.5 {
		t.Fatalf("reported = %v, want 3.5", reported)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}
