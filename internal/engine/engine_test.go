package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/engine/authz"
	"hourline/internal/migrate"
	"hourline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("hourline-test")
	eng := engine.New(conn, cfg)
	fixed := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Now = fixed
	eng.Events.Now = fixed

	ctx := context.Background()
	now := fixed().Format(time.RFC3339)
	if err := eng.Repo.InsertClient(ctx, domain.Client{ID: "cl-1", Name: "Acme", CreatedAt: now}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := eng.Repo.InsertClient(ctx, domain.Client{ID: "cl-2", Name: "Globex", CreatedAt: now}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := eng.Repo.InsertMember(ctx, domain.Member{ID: "m-1", Name: "Ana", CreatedAt: now}); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	if err := eng.Repo.InsertMember(ctx, domain.Member{ID: "m-2", Name: "Luis", CreatedAt: now}); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func adminP() authz.Principal {
	return authz.Principal{ActorID: "admin-1", Role: domain.RoleAdmin, Source: "test"}
}

func clientP(id string) authz.Principal {
	return authz.Principal{ActorID: "actor-" + id, Role: domain.RoleClient, ClientID: id, Source: "test"}
}

func memberP(id string) authz.Principal {
	return authz.Principal{ActorID: "actor-" + id, Role: domain.RoleMember, MemberID: id, Source: "test"}
}

func (env testEnv) purchase(t *testing.T, clientID string, hours float64) domain.Solicitation {
	t.Helper()
	s, err := env.Engine.CreatePurchase(env.Ctx, clientP(clientID), engine.PurchaseOptions{
		Hours:       hours,
		CostPerHour: 30,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	return s
}

func (env testEnv) mustTransition(t *testing.T, id, target string) domain.Solicitation {
	t.Helper()
	s, err := env.Engine.TransitionSolicitation(env.Ctx, adminP(), id, target)
	if err != nil {
		t.Fatalf("transition to %s: %v", target, err)
	}
	return s
}

func TestPurchaseLifecycle(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 40)
	if s.State != domain.SolicitationPendiente {
		t.Fatalf("new solicitation state = %s, want pendiente", s.State)
	}

	for _, target := range []string{
		domain.SolicitationEnEspera,
		domain.SolicitationAprobado,
		domain.SolicitationEnProgreso,
		domain.SolicitationPreConfirmado,
		domain.SolicitationCompletado,
	} {
		s = env.mustTransition(t, s.ID, target)
		if s.State != target {
			t.Fatalf("state = %s, want %s", s.State, target)
		}
	}

	got, err := env.Engine.GetSolicitation(env.Ctx, adminP(), s.ID)
	if err != nil {
		t.Fatalf("get solicitation: %v", err)
	}
	if got.State != domain.SolicitationCompletado {
		t.Fatalf("persisted state = %s, want completado", got.State)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "solicitation", s.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	// one created plus five transitions
	if len(evts) != 6 {
		t.Fatalf("event count = %d, want 6", len(evts))
	}
}

func TestPurchaseFromTierSnapshotsTerms(t *testing.T) {
	env := newTestEnv(t)
	now := env.Engine.Now().UTC().Format(time.RFC3339)
	tier := domain.PackageTier{ID: "profesional", Name: "Paquete Profesional", Hours: 40, CostPerHour: 27, Discount: 0.05, CreatedAt: now}
	if err := env.Engine.Repo.UpsertTier(env.Ctx, tier); err != nil {
		t.Fatalf("upsert tier: %v", err)
	}
	s, err := env.Engine.CreatePurchase(env.Ctx, clientP("cl-1"), engine.PurchaseOptions{TierID: "profesional"})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if s.TierID == nil || *s.TierID != "profesional" {
		t.Fatalf("tier id not snapshotted: %v", s.TierID)
	}
	if s.HoursTotal != 40 || s.CostPerHour != 27 || s.Discount != 0.05 {
		t.Fatalf("tier terms not snapshotted: %+v", s)
	}
}

func TestPurchaseRoleRules(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Engine.CreatePurchase(env.Ctx, memberP("m-1"), engine.PurchaseOptions{Hours: 5}); err == nil {
		t.Fatal("member purchase should be forbidden")
	} else {
		var fe authz.ForbiddenError
		if !errors.As(err, &fe) {
			t.Fatalf("want ForbiddenError, got %v", err)
		}
	}

	if _, err := env.Engine.CreatePurchase(env.Ctx, adminP(), engine.PurchaseOptions{Hours: 5}); err == nil {
		t.Fatal("admin purchase without client_id should fail")
	}

	s, err := env.Engine.CreatePurchase(env.Ctx, adminP(), engine.PurchaseOptions{ClientID: "cl-2", Hours: 5})
	if err != nil {
		t.Fatalf("admin purchase on behalf: %v", err)
	}
	if s.ClientID != "cl-2" {
		t.Fatalf("client id = %s, want cl-2", s.ClientID)
	}

	if _, err := env.Engine.CreatePurchase(env.Ctx, adminP(), engine.PurchaseOptions{ClientID: "nope", Hours: 5}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown client: want ErrNotFound, got %v", err)
	}
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)

	_, err := env.Engine.TransitionSolicitation(env.Ctx, adminP(), s.ID, domain.SolicitationCompletado)
	var ite domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
	if ite.From != domain.SolicitationPendiente || ite.To != domain.SolicitationCompletado {
		t.Fatalf("error details = %+v", ite)
	}

	got, err := env.Engine.GetSolicitation(env.Ctx, adminP(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.SolicitationPendiente {
		t.Fatalf("state changed to %s after rejected transition", got.State)
	}

	// expirado is never reachable through the transition API
	if _, err := env.Engine.TransitionSolicitation(env.Ctx, adminP(), s.ID, domain.SolicitationExpirado); err == nil {
		t.Fatal("transition to expirado should be rejected")
	}
}

func TestClientTransitionRules(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)

	// the owning client may not approve
	if _, err := env.Engine.TransitionSolicitation(env.Ctx, clientP("cl-1"), s.ID, domain.SolicitationAprobado); err == nil {
		t.Fatal("client approval should be forbidden")
	} else {
		var fe authz.ForbiddenError
		if !errors.As(err, &fe) {
			t.Fatalf("want ForbiddenError, got %v", err)
		}
	}

	// a foreign client learns nothing beyond not found
	if _, err := env.Engine.TransitionSolicitation(env.Ctx, clientP("cl-2"), s.ID, domain.SolicitationCancelado); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign client: want ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.GetSolicitation(env.Ctx, clientP("cl-2"), s.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign client get: want ErrNotFound, got %v", err)
	}

	// the owning client may cancel
	got, err := env.Engine.TransitionSolicitation(env.Ctx, clientP("cl-1"), s.ID, domain.SolicitationCancelado)
	if err != nil {
		t.Fatalf("client cancel: %v", err)
	}
	if got.State != domain.SolicitationCancelado {
		t.Fatalf("state = %s, want cancelado", got.State)
	}
}

func TestClientCompletesFromPreConfirmado(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)
	env.mustTransition(t, s.ID, domain.SolicitationAprobado)
	env.mustTransition(t, s.ID, domain.SolicitationEnProgreso)
	env.mustTransition(t, s.ID, domain.SolicitationPreConfirmado)

	got, err := env.Engine.TransitionSolicitation(env.Ctx, clientP("cl-1"), s.ID, domain.SolicitationCompletado)
	if err != nil {
		t.Fatalf("client completion: %v", err)
	}
	if got.State != domain.SolicitationCompletado {
		t.Fatalf("state = %s, want completado", got.State)
	}
}

func TestCreateAssignmentRequiresApproved(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)

	_, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 4)
	var ise domain.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("want InvalidStateError, got %v", err)
	}
	if ise.State != domain.SolicitationPendiente {
		t.Fatalf("error state = %s, want pendiente", ise.State)
	}

	env.mustTransition(t, s.ID, domain.SolicitationAprobado)
	a, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 4)
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if a.State != domain.AssignmentAsignado {
		t.Fatalf("assignment state = %s, want asignado", a.State)
	}

	if _, err := env.Engine.CreateAssignment(env.Ctx, clientP("cl-1"), s.ID, "m-1", 1); err == nil {
		t.Fatal("client staffing should be forbidden")
	}
	if _, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 0); err == nil {
		t.Fatal("zero-hour assignment should be rejected")
	}
	if _, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "nope", 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown member: want ErrNotFound, got %v", err)
	}
}

func TestAssignmentBudget(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)
	env.mustTransition(t, s.ID, domain.SolicitationAprobado)

	first, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 6)
	if err != nil {
		t.Fatalf("first assignment: %v", err)
	}

	_, err = env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-2", 6)
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("overallocation: want ConflictError, got %v", err)
	}

	// filling the budget exactly is allowed
	if _, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-2", 4); err != nil {
		t.Fatalf("exact-fit assignment: %v", err)
	}

	// canceled assignments release their hours
	if _, err := env.Engine.SetAssignmentState(env.Ctx, adminP(), first.ID, domain.AssignmentCancelado); err != nil {
		t.Fatalf("cancel assignment: %v", err)
	}
	if _, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 6); err != nil {
		t.Fatalf("reallocation after cancel: %v", err)
	}
}

func TestConcurrentAssignmentBudget(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)
	env.mustTransition(t, s.ID, domain.SolicitationAprobado)

	// 8 racing 4h allocations against a 10h budget; exactly 2 fit
	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 4)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var ce engine.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("want ConflictError for losers, got %v", err)
		}
	}
	if ok != 2 {
		t.Fatalf("successful allocations = %d, want 2", ok)
	}

	items, err := env.Engine.ListAssignments(env.Ctx, adminP(), s.ID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	var allocated float64
	for _, a := range items {
		allocated += a.HoursAllocated
	}
	if allocated > 10 {
		t.Fatalf("allocated %.2fh, budget is 10h", allocated)
	}
}

func TestAssignmentStateRules(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)
	env.mustTransition(t, s.ID, domain.SolicitationAprobado)
	a, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 5)
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	// asignado cannot jump straight to completado
	if _, err := env.Engine.SetAssignmentState(env.Ctx, adminP(), a.ID, domain.AssignmentCompletado); err == nil {
		t.Fatal("asignado -> completado should be rejected")
	}

	// clients never drive assignment state
	if _, err := env.Engine.SetAssignmentState(env.Ctx, clientP("cl-1"), a.ID, domain.AssignmentEnProgreso); err == nil {
		t.Fatal("client state change should be forbidden")
	}

	// a member only moves their own assignments
	if _, err := env.Engine.SetAssignmentState(env.Ctx, memberP("m-2"), a.ID, domain.AssignmentEnProgreso); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign member: want ErrNotFound, got %v", err)
	}

	a2, err := env.Engine.SetAssignmentState(env.Ctx, memberP("m-1"), a.ID, domain.AssignmentEnProgreso)
	if err != nil {
		t.Fatalf("member start: %v", err)
	}
	if a2.State != domain.AssignmentEnProgreso {
		t.Fatalf("state = %s, want en_progreso", a2.State)
	}

	if _, err := env.Engine.SetAssignmentState(env.Ctx, memberP("m-1"), a.ID, domain.AssignmentCompletado); err != nil {
		t.Fatalf("member complete: %v", err)
	}
}

func TestAssignmentCompletionNeedsActiveSolicitation(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)

	// force an assignment under a still-pending solicitation
	now := env.Engine.Now().UTC().Format(time.RFC3339)
	a := domain.Assignment{
		ID: "a-forced", SolicitationID: s.ID, MemberID: "m-1",
		HoursAllocated: 2, State: domain.AssignmentEnProgreso,
		CreatedAt: now, UpdatedAt: now,
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.Engine.Repo.InsertAssignmentTx(env.Ctx, tx, a); err != nil {
		t.Fatalf("insert assignment: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	_, err = env.Engine.SetAssignmentState(env.Ctx, adminP(), a.ID, domain.AssignmentCompletado)
	var ise domain.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("want InvalidStateError, got %v", err)
	}

	env.mustTransition(t, s.ID, domain.SolicitationAprobado)
	if _, err := env.Engine.SetAssignmentState(env.Ctx, adminP(), a.ID, domain.AssignmentCompletado); err != nil {
		t.Fatalf("completion after approval: %v", err)
	}
}

func TestAppendProgress(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 10)
	env.mustTransition(t, s.ID, domain.SolicitationAprobado)
	a, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 5)
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	e1, err := env.Engine.AppendProgress(env.Ctx, memberP("m-1"), a.ID, "set up repo", 1.5)
	if err != nil {
		t.Fatalf("member progress: %v", err)
	}
	if e1.AuthorType != domain.AuthorMiembro || e1.HoursReported != 1.5 {
		t.Fatalf("member entry = %+v", e1)
	}

	// client entries keep the note but never report hours
	e2, err := env.Engine.AppendProgress(env.Ctx, clientP("cl-1"), a.ID, "looks good", 3)
	if err != nil {
		t.Fatalf("client progress: %v", err)
	}
	if e2.AuthorType != domain.AuthorCliente || e2.HoursReported != 0 {
		t.Fatalf("client entry = %+v", e2)
	}

	e3, err := env.Engine.AppendProgress(env.Ctx, memberP("m-1"), a.ID, "first milestone", 2)
	if err != nil {
		t.Fatalf("member progress: %v", err)
	}

	if _, err := env.Engine.AppendProgress(env.Ctx, memberP("m-2"), a.ID, "drive-by", 1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign member: want ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.AppendProgress(env.Ctx, clientP("cl-2"), a.ID, "drive-by", 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign client: want ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.AppendProgress(env.Ctx, adminP(), a.ID, "admin note", 0); err == nil {
		t.Fatal("admins do not author avances")
	}
	if _, err := env.Engine.AppendProgress(env.Ctx, memberP("m-1"), a.ID, "", 1); err == nil {
		t.Fatal("empty content should be rejected")
	}
	if _, err := env.Engine.AppendProgress(env.Ctx, memberP("m-1"), a.ID, "x", -1); err == nil {
		t.Fatal("negative hours should be rejected")
	}

	entries, err := env.Engine.ListProgress(env.Ctx, memberP("m-1"), a.ID)
	if err != nil {
		t.Fatalf("list progress: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entry count = %d, want 3", len(entries))
	}
	want := []int64{e1.ID, e2.ID, e3.ID}
	for i, entry := range entries {
		if entry.ID != want[i] {
			t.Fatalf("entries out of order: got %v at %d, want %v", entry.ID, i, want[i])
		}
	}
}

func TestListSolicitationsVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.purchase(t, "cl-1", 10)
	env.purchase(t, "cl-1", 20)
	env.purchase(t, "cl-2", 30)

	all, err := env.Engine.ListSolicitations(env.Ctx, adminP(), repo.SolicitationFilters{})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("admin sees %d, want 3", len(all))
	}

	own, err := env.Engine.ListSolicitations(env.Ctx, clientP("cl-1"), repo.SolicitationFilters{})
	if err != nil {
		t.Fatalf("client list: %v", err)
	}
	if len(own) != 2 {
		t.Fatalf("client sees %d, want 2", len(own))
	}
	for _, s := range own {
		if s.ClientID != "cl-1" {
			t.Fatalf("client sees foreign solicitation %s", s.ID)
		}
	}

	if _, err := env.Engine.ListSolicitations(env.Ctx, memberP("m-1"), repo.SolicitationFilters{}); err == nil {
		t.Fatal("member list should be forbidden")
	}
}

func TestBidLifecycle(t *testing.T) {
	env := newTestEnv(t)
	prj, err := env.Engine.CreateProject(env.Ctx, clientP("cl-1"), "", "Site revamp", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if prj.Visibility != domain.VisibilityAbierto || prj.Status != domain.ProjectAbierto {
		t.Fatalf("project defaults = %+v", prj)
	}

	b, err := env.Engine.PlaceBid(env.Ctx, memberP("m-1"), prj.ID, 1200, "can start monday")
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if b.State != domain.BidPendiente {
		t.Fatalf("bid state = %s, want pendiente", b.State)
	}

	// only members bid
	if _, err := env.Engine.PlaceBid(env.Ctx, clientP("cl-1"), prj.ID, 100, ""); err == nil {
		t.Fatal("client bid should be forbidden")
	}
	if _, err := env.Engine.PlaceBid(env.Ctx, memberP("m-1"), prj.ID, 0, ""); err == nil {
		t.Fatal("zero amount should be rejected")
	}

	// confirmation requires prior acceptance
	if _, err := env.Engine.ConfirmBid(env.Ctx, memberP("m-1"), b.ID); err == nil {
		t.Fatal("confirming a pending bid should fail")
	}

	accepted, err := env.Engine.AcceptBid(env.Ctx, clientP("cl-1"), b.ID)
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}
	if accepted.State != domain.BidAceptada {
		t.Fatalf("state = %s, want aceptada", accepted.State)
	}

	// only the bidding member confirms
	if _, err := env.Engine.ConfirmBid(env.Ctx, memberP("m-2"), b.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign member confirm: want ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.ConfirmBid(env.Ctx, adminP(), b.ID); err == nil {
		t.Fatal("admin confirm should be forbidden")
	}

	confirmed, err := env.Engine.ConfirmBid(env.Ctx, memberP("m-1"), b.ID)
	if err != nil {
		t.Fatalf("confirm bid: %v", err)
	}
	if !confirmed.ConfirmedByMember || confirmed.ConfirmedAt == nil {
		t.Fatalf("confirmation not recorded: %+v", confirmed)
	}
	firstConfirmedAt := *confirmed.ConfirmedAt

	// a repeat confirmation fails and keeps the original timestamp
	if _, err := env.Engine.ConfirmBid(env.Ctx, memberP("m-1"), b.ID); !errors.Is(err, engine.ErrAlreadyConfirmed) {
		t.Fatalf("repeat confirm: want ErrAlreadyConfirmed, got %v", err)
	}
	again, err := env.Engine.GetBid(env.Ctx, adminP(), b.ID)
	if err != nil {
		t.Fatalf("get bid: %v", err)
	}
	if again.ConfirmedAt == nil || *again.ConfirmedAt != firstConfirmedAt {
		t.Fatalf("confirmed_at changed: %v", again.ConfirmedAt)
	}
}

func TestCancelBidIsOneWay(t *testing.T) {
	env := newTestEnv(t)
	prj, err := env.Engine.CreateProject(env.Ctx, clientP("cl-1"), "", "Migration", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	b, err := env.Engine.PlaceBid(env.Ctx, memberP("m-1"), prj.ID, 800, "")
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if _, err := env.Engine.AcceptBid(env.Ctx, adminP(), b.ID); err != nil {
		t.Fatalf("accept bid: %v", err)
	}

	// cancel belongs to the bidding member; not even the owning client may
	var fe authz.ForbiddenError
	if _, err := env.Engine.CancelBid(env.Ctx, clientP("cl-1"), b.ID); !errors.As(err, &fe) {
		t.Fatalf("client cancel: want ForbiddenError, got %v", err)
	}
	if _, err := env.Engine.CancelBid(env.Ctx, clientP("cl-2"), b.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign client cancel: want ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.CancelBid(env.Ctx, memberP("m-2"), b.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign member cancel: want ErrNotFound, got %v", err)
	}

	canceled, err := env.Engine.CancelBid(env.Ctx, memberP("m-1"), b.ID)
	if err != nil {
		t.Fatalf("cancel bid: %v", err)
	}
	if canceled.State != domain.BidRechazada || canceled.ConfirmedByMember {
		t.Fatalf("canceled bid = %+v", canceled)
	}

	var ise domain.InvalidStateError
	if _, err := env.Engine.ConfirmBid(env.Ctx, memberP("m-1"), b.ID); !errors.As(err, &ise) {
		t.Fatalf("confirm after cancel: want InvalidStateError, got %v", err)
	}
	if _, err := env.Engine.AcceptBid(env.Ctx, adminP(), b.ID); err == nil {
		t.Fatal("re-accepting a rejected bid should fail")
	}
}

func TestOneAcceptedBidPerMemberPerProject(t *testing.T) {
	env := newTestEnv(t)
	prj, err := env.Engine.CreateProject(env.Ctx, adminP(), "cl-1", "Audit", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	b1, err := env.Engine.PlaceBid(env.Ctx, memberP("m-1"), prj.ID, 500, "")
	if err != nil {
		t.Fatalf("first bid: %v", err)
	}
	b2, err := env.Engine.PlaceBid(env.Ctx, memberP("m-1"), prj.ID, 450, "revised")
	if err != nil {
		t.Fatalf("second bid: %v", err)
	}
	if _, err := env.Engine.AcceptBid(env.Ctx, adminP(), b1.ID); err != nil {
		t.Fatalf("accept first: %v", err)
	}

	_, err = env.Engine.AcceptBid(env.Ctx, adminP(), b2.ID)
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("second accept: want ConflictError, got %v", err)
	}

	// a different member on the same project is fine
	b3, err := env.Engine.PlaceBid(env.Ctx, memberP("m-2"), prj.ID, 600, "")
	if err != nil {
		t.Fatalf("other member bid: %v", err)
	}
	if _, err := env.Engine.AcceptBid(env.Ctx, adminP(), b3.ID); err != nil {
		t.Fatalf("accept other member: %v", err)
	}
}

func TestProjectVisibility(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, clientP("cl-1"), "", "Public one", domain.VisibilityAbierto); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := env.Engine.CreateProject(env.Ctx, clientP("cl-1"), "", "Private one", domain.VisibilityPrivado); err != nil {
		t.Fatalf("create project: %v", err)
	}

	visible, err := env.Engine.ListProjects(env.Ctx, memberP("m-1"), "")
	if err != nil {
		t.Fatalf("member list: %v", err)
	}
	if len(visible) != 1 || visible[0].Visibility != domain.VisibilityAbierto {
		t.Fatalf("member sees %d projects: %+v", len(visible), visible)
	}

	all, err := env.Engine.ListProjects(env.Ctx, adminP(), "")
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin sees %d, want 2", len(all))
	}
}

func TestBidListVisibility(t *testing.T) {
	env := newTestEnv(t)
	prj, err := env.Engine.CreateProject(env.Ctx, clientP("cl-1"), "", "Bids galore", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := env.Engine.PlaceBid(env.Ctx, memberP("m-1"), prj.ID, 100, ""); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := env.Engine.PlaceBid(env.Ctx, memberP("m-2"), prj.ID, 200, ""); err != nil {
		t.Fatalf("bid: %v", err)
	}

	own, err := env.Engine.ListBids(env.Ctx, memberP("m-1"), prj.ID)
	if err != nil {
		t.Fatalf("member list: %v", err)
	}
	if len(own) != 1 || own[0].MemberID != "m-1" {
		t.Fatalf("member sees %+v", own)
	}

	all, err := env.Engine.ListBids(env.Ctx, clientP("cl-1"), prj.ID)
	if err != nil {
		t.Fatalf("client list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("owner sees %d, want 2", len(all))
	}
}

func TestBillingSummaryAndInvoice(t *testing.T) {
	env := newTestEnv(t)
	s := env.purchase(t, "cl-1", 20)
	env.mustTransition(t, s.ID, domain.SolicitationAprobado)
	a, err := env.Engine.CreateAssignment(env.Ctx, adminP(), s.ID, "m-1", 8)
	if err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	if _, err := env.Engine.AppendProgress(env.Ctx, memberP("m-1"), a.ID, "work", 3); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if _, err := env.Engine.AppendProgress(env.Ctx, memberP("m-1"), a.ID, "more work", 2.5); err != nil {
		t.Fatalf("progress: %v", err)
	}
	// client notes never count toward reported hours
	if _, err := env.Engine.AppendProgress(env.Ctx, clientP("cl-1"), a.ID, "ok", 0); err != nil {
		t.Fatalf("progress: %v", err)
	}

	if _, err := env.Engine.BillingSummary(env.Ctx, clientP("cl-1"), s.ID); err == nil {
		t.Fatal("billing summary should be admin-only")
	}

	lines, err := env.Engine.BillingSummary(env.Ctx, adminP(), s.ID)
	if err != nil {
		t.Fatalf("billing summary: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("line count = %d, want 1", len(lines))
	}
	if lines[0].HoursAllocated != 8 || lines[0].HoursReported != 5.5 {
		t.Fatalf("line = %+v", lines[0])
	}

	// invoices only against completed solicitations
	if _, err := env.Engine.RequestInvoice(env.Ctx, adminP(), s.ID); err == nil {
		t.Fatal("invoice before completion should fail")
	}

	env.mustTransition(t, s.ID, domain.SolicitationEnProgreso)
	env.mustTransition(t, s.ID, domain.SolicitationPreConfirmado)
	env.mustTransition(t, s.ID, domain.SolicitationCompletado)

	if _, err := env.Engine.RequestInvoice(env.Ctx, adminP(), s.ID); err != nil {
		t.Fatalf("request invoice: %v", err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, "billing.requested", "solicitation", s.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("billing.requested count = %d, want 1", len(evts))
	}
}
