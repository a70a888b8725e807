package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hourline/internal/config"
	"hourline/internal/domain"
	"hourline/internal/engine/authz"
	"hourline/internal/events"
	"hourline/internal/repo"
)

// Engine is the lifecycle coordinator: the single authority that validates
// and commits every state transition for solicitations, assignments,
// progress entries and project bids.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ErrAlreadyConfirmed is the idempotency guard on bid confirmation. Callers
// may treat it as confirmation-already-happened.
var ErrAlreadyConfirmed = errors.New("bid already confirmed")

// ConflictError reports an hour-budget overrun or a lost concurrent write.
// Both are retryable from the caller's point of view.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// PurchaseOptions are parameters for creating a solicitation.
type PurchaseOptions struct {
	ClientID    string // only honored for admins acting on behalf of a client
	TierID      string
	Hours       float64
	CostPerHour float64
	Discount    float64
	Notes       string
}

// CreatePurchase opens a solicitation in pendiente. When a tier is given its
// terms are snapshotted onto the solicitation.
func (e Engine) CreatePurchase(ctx context.Context, p authz.Principal, opts PurchaseOptions) (domain.Solicitation, error) {
	clientID := opts.ClientID
	switch {
	case p.IsClient():
		clientID = p.ClientID
	case p.IsAdmin():
		if clientID == "" {
			return domain.Solicitation{}, errors.New("client_id is required")
		}
	default:
		return domain.Solicitation{}, authz.ForbiddenError{Action: "create purchase"}
	}
	if _, err := e.Repo.GetClient(ctx, clientID); err != nil {
		return domain.Solicitation{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Solicitation{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		HoursTotal:  opts.Hours,
		CostPerHour: opts.CostPerHour,
		Discount:    opts.Discount,
		State:       domain.SolicitationPendiente,
		Notes:       opts.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.TierID != "" {
		tier, err := e.Repo.GetTier(ctx, opts.TierID)
		if err != nil {
			return domain.Solicitation{}, err
		}
		s.TierID = &tier.ID
		s.HoursTotal = tier.Hours
		s.CostPerHour = tier.CostPerHour
		s.Discount = tier.Discount
	}
	if s.HoursTotal < 0 {
		return domain.Solicitation{}, errors.New("hours must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Solicitation{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSolicitationTx(ctx, tx, s); err != nil {
		return domain.Solicitation{}, fmt.Errorf("insert solicitation: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "solicitation.created", "solicitation", s.ID, p.ActorID, events.EventPayload{
		"client_id": s.ClientID,
		"hours":     s.HoursTotal,
		"state":     s.State,
	}); err != nil {
		return domain.Solicitation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Solicitation{}, err
	}
	return s, nil
}

// TransitionSolicitation applies one step of the solicitation state machine.
// Admins may take any legal step; the owning client only cancelado and, from
// pre_confirmado, completado. The swap is a compare-and-swap on the state
// column, so a concurrent transition loses with a conflict instead of
// silently overwriting.
func (e Engine) TransitionSolicitation(ctx context.Context, p authz.Principal, id, target string) (domain.Solicitation, error) {
	s, err := e.getSolicitationFor(ctx, p, id)
	if err != nil {
		return domain.Solicitation{}, err
	}
	if !p.IsAdmin() {
		if target != domain.SolicitationCancelado && target != domain.SolicitationCompletado {
			return domain.Solicitation{}, authz.ForbiddenError{Action: fmt.Sprintf("transition solicitation to %s", target)}
		}
	}
	if !domain.ValidSolicitationTransition(s.State, target) {
		return domain.Solicitation{}, domain.InvalidTransitionError{Entity: "solicitation", From: s.State, To: target}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Solicitation{}, err
	}
	defer tx.Rollback()
	swapped, err := e.Repo.SwapSolicitationStateTx(ctx, tx, s.ID, s.State, target, now)
	if err != nil {
		return domain.Solicitation{}, err
	}
	if !swapped {
		return domain.Solicitation{}, ConflictError{Reason: "solicitation changed concurrently; retry"}
	}
	if err := e.Events.Append(ctx, tx, "solicitation.transitioned", "solicitation", s.ID, p.ActorID, events.EventPayload{
		"from": s.State,
		"to":   target,
	}); err != nil {
		return domain.Solicitation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Solicitation{}, err
	}
	s.State = target
	s.UpdatedAt = now
	return s, nil
}

// CreateAssignment staffs an approved solicitation with a member. The sum of
// existing allocations and the insert happen inside one transaction so
// concurrent staffing cannot overrun the hour budget.
func (e Engine) CreateAssignment(ctx context.Context, p authz.Principal, solicitationID, memberID string, hours float64) (domain.Assignment, error) {
	if err := authz.RequireAdmin(p, "create assignment"); err != nil {
		return domain.Assignment{}, err
	}
	if hours <= 0 {
		return domain.Assignment{}, errors.New("hours must be positive")
	}
	if _, err := e.Repo.GetMember(ctx, memberID); err != nil {
		return domain.Assignment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Assignment{
		ID:             uuid.New().String(),
		SolicitationID: solicitationID,
		MemberID:       memberID,
		HoursAllocated: hours,
		State:          domain.AssignmentAsignado,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSolicitationTx(ctx, tx, solicitationID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if s.State != domain.SolicitationAprobado {
		return domain.Assignment{}, domain.InvalidStateError{Entity: "solicitation", State: s.State, Needs: domain.SolicitationAprobado}
	}
	allocated, err := e.Repo.AllocatedHoursTx(ctx, tx, solicitationID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if allocated+hours > s.HoursTotal {
		return domain.Assignment{}, ConflictError{
			Reason: fmt.Sprintf("allocation of %.2fh exceeds remaining budget (%.2fh of %.2fh allocated)", hours, allocated, s.HoursTotal),
		}
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "assignment.created", "assignment", a.ID, p.ActorID, events.EventPayload{
		"solicitation_id": solicitationID,
		"member_id":       memberID,
		"hours":           hours,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	return a, nil
}

// SetAssignmentState moves an assignment along its own machine. Completing
// an assignment also requires the parent solicitation to have left the
// waiting states; completion never cascades upward.
func (e Engine) SetAssignmentState(ctx context.Context, p authz.Principal, id, target string) (domain.Assignment, error) {
	a, err := e.getAssignmentFor(ctx, p, id)
	if err != nil {
		return domain.Assignment{}, err
	}
	if p.IsClient() {
		return domain.Assignment{}, authz.ForbiddenError{Action: "change assignment state"}
	}
	if !domain.ValidAssignmentTransition(a.State, target) {
		return domain.Assignment{}, domain.InvalidTransitionError{Entity: "assignment", From: a.State, To: target}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	if target == domain.AssignmentCompletado {
		s, err := e.Repo.GetSolicitationTx(ctx, tx, a.SolicitationID)
		if err != nil {
			return domain.Assignment{}, err
		}
		if s.State == domain.SolicitationPendiente || s.State == domain.SolicitationEnEspera {
			return domain.Assignment{}, domain.InvalidStateError{Entity: "solicitation", State: s.State, Needs: "aprobado or later"}
		}
	}
	swapped, err := e.Repo.SwapAssignmentStateTx(ctx, tx, a.ID, a.State, target, now)
	if err != nil {
		return domain.Assignment{}, err
	}
	if !swapped {
		return domain.Assignment{}, ConflictError{Reason: "assignment changed concurrently; retry"}
	}
	if err := e.Events.Append(ctx, tx, "assignment.transitioned", "assignment", a.ID, p.ActorID, events.EventPayload{
		"from": a.State,
		"to":   target,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	a.State = target
	a.UpdatedAt = now
	return a, nil
}

// AppendProgress writes one avance against an assignment. Only the member on
// the assignment or the client owning the parent solicitation may write;
// client entries always persist zero reported hours.
func (e Engine) AppendProgress(ctx context.Context, p authz.Principal, assignmentID, content string, hoursReported float64) (domain.ProgressEntry, error) {
	if content == "" {
		return domain.ProgressEntry{}, errors.New("content is required")
	}
	if hoursReported < 0 {
		return domain.ProgressEntry{}, errors.New("hours must not be negative")
	}
	a, err := e.Repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return domain.ProgressEntry{}, err
	}
	entry := domain.ProgressEntry{
		AssignmentID:  assignmentID,
		Content:       content,
		HoursReported: hoursReported,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	switch {
	case p.OwnsMember(a.MemberID):
		entry.AuthorType = domain.AuthorMiembro
		entry.AuthorID = p.MemberID
	case p.IsClient():
		s, err := e.Repo.GetSolicitation(ctx, a.SolicitationID)
		if err != nil {
			return domain.ProgressEntry{}, err
		}
		if s.ClientID != p.ClientID {
			// ownership and existence are deliberately conflated
			return domain.ProgressEntry{}, repo.ErrNotFound
		}
		entry.AuthorType = domain.AuthorCliente
		entry.AuthorID = p.ClientID
		entry.HoursReported = 0
	case p.IsMember():
		return domain.ProgressEntry{}, repo.ErrNotFound
	default:
		return domain.ProgressEntry{}, authz.ForbiddenError{Action: "append progress"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProgressEntry{}, err
	}
	defer tx.Rollback()
	entryID, err := e.Repo.InsertProgressTx(ctx, tx, entry)
	if err != nil {
		return domain.ProgressEntry{}, fmt.Errorf("insert progress: %w", err)
	}
	entry.ID = entryID
	if err := e.Events.Append(ctx, tx, "progress.appended", "assignment", assignmentID, p.ActorID, events.EventPayload{
		"author_type": entry.AuthorType,
		"hours":       entry.HoursReported,
	}); err != nil {
		return domain.ProgressEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProgressEntry{}, err
	}
	return entry, nil
}

// ListProgress returns an assignment's avances in creation order.
func (e Engine) ListProgress(ctx context.Context, p authz.Principal, assignmentID string) ([]domain.ProgressEntry, error) {
	if _, err := e.getAssignmentFor(ctx, p, assignmentID); err != nil {
		return nil, err
	}
	return e.Repo.ListProgress(ctx, assignmentID)
}

// GetSolicitation loads one solicitation subject to ownership rules.
func (e Engine) GetSolicitation(ctx context.Context, p authz.Principal, id string) (domain.Solicitation, error) {
	return e.getSolicitationFor(ctx, p, id)
}

// ListSolicitations lists solicitations. Clients are pinned to their own.
func (e Engine) ListSolicitations(ctx context.Context, p authz.Principal, f repo.SolicitationFilters) ([]domain.Solicitation, error) {
	switch {
	case p.IsAdmin():
	case p.IsClient():
		f.ClientID = p.ClientID
	default:
		return nil, authz.ForbiddenError{Action: "list solicitations"}
	}
	return e.Repo.ListSolicitations(ctx, f)
}

// ListAssignments lists a solicitation's assignments for its client, the
// admin, or any assigned member.
func (e Engine) ListAssignments(ctx context.Context, p authz.Principal, solicitationID string) ([]domain.Assignment, error) {
	s, err := e.Repo.GetSolicitation(ctx, solicitationID)
	if err != nil {
		return nil, err
	}
	items, err := e.Repo.ListAssignments(ctx, solicitationID)
	if err != nil {
		return nil, err
	}
	switch {
	case p.IsAdmin(), p.OwnsClient(s.ClientID):
		return items, nil
	case p.IsMember():
		var own []domain.Assignment
		for _, a := range items {
			if a.MemberID == p.MemberID {
				own = append(own, a)
			}
		}
		return own, nil
	}
	return nil, repo.ErrNotFound
}

// getSolicitationFor conflates ownership and existence: a client probing a
// foreign solicitation learns nothing beyond "not found".
func (e Engine) getSolicitationFor(ctx context.Context, p authz.Principal, id string) (domain.Solicitation, error) {
	s, err := e.Repo.GetSolicitation(ctx, id)
	if err != nil {
		return domain.Solicitation{}, err
	}
	switch {
	case p.IsAdmin(), p.OwnsClient(s.ClientID):
		return s, nil
	case p.IsClient():
		return domain.Solicitation{}, repo.ErrNotFound
	}
	return domain.Solicitation{}, authz.ForbiddenError{Action: "access solicitation"}
}

func (e Engine) getAssignmentFor(ctx context.Context, p authz.Principal, id string) (domain.Assignment, error) {
	a, err := e.Repo.GetAssignment(ctx, id)
	if err != nil {
		return domain.Assignment{}, err
	}
	switch {
	case p.IsAdmin(), p.OwnsMember(a.MemberID):
		return a, nil
	case p.IsClient():
		s, err := e.Repo.GetSolicitation(ctx, a.SolicitationID)
		if err != nil {
			return domain.Assignment{}, err
		}
		if s.ClientID != p.ClientID {
			return domain.Assignment{}, repo.ErrNotFound
		}
		return a, nil
	}
	return domain.Assignment{}, repo.ErrNotFound
}
