package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"hourline/internal/domain"
	"hourline/internal/engine/authz"
	"hourline/internal/events"
	"hourline/internal/repo"
)

// CreateProject opens a project for bidding. Clients create their own;
// admins may create on behalf of any client.
func (e Engine) CreateProject(ctx context.Context, p authz.Principal, clientID, title, visibility string) (domain.Project, error) {
	switch {
	case p.IsClient():
		clientID = p.ClientID
	case p.IsAdmin():
		if clientID == "" {
			return domain.Project{}, errors.New("client_id is required")
		}
	default:
		return domain.Project{}, authz.ForbiddenError{Action: "create project"}
	}
	if title == "" {
		return domain.Project{}, errors.New("title is required")
	}
	if visibility == "" {
		visibility = domain.VisibilityAbierto
	}
	if visibility != domain.VisibilityAbierto && visibility != domain.VisibilityPrivado {
		return domain.Project{}, errors.New("visibility must be abierto or privado")
	}
	if _, err := e.Repo.GetClient(ctx, clientID); err != nil {
		return domain.Project{}, err
	}
	prj := domain.Project{
		ID:         uuid.New().String(),
		ClientID:   clientID,
		Title:      title,
		Visibility: visibility,
		Status:     domain.ProjectAbierto,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertProject(ctx, prj); err != nil {
		return domain.Project{}, err
	}
	return prj, nil
}

// PlaceBid records a member's offer on an open project.
func (e Engine) PlaceBid(ctx context.Context, p authz.Principal, projectID string, amount float64, message string) (domain.ProjectBid, error) {
	if err := authz.RequireMember(p, "place bid"); err != nil {
		return domain.ProjectBid{}, err
	}
	if amount <= 0 {
		return domain.ProjectBid{}, errors.New("amount must be positive")
	}
	prj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	if prj.Status != domain.ProjectAbierto {
		return domain.ProjectBid{}, domain.InvalidStateError{Entity: "project", State: prj.Status, Needs: domain.ProjectAbierto}
	}
	now := e.now().UTC().Format(time.RFC3339)
	b := domain.ProjectBid{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		MemberID:  p.MemberID,
		Amount:    amount,
		Message:   message,
		State:     domain.BidPendiente,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBidTx(ctx, tx, b); err != nil {
		return domain.ProjectBid{}, err
	}
	if err := e.Events.Append(ctx, tx, "bid.placed", "bid", b.ID, p.ActorID, events.EventPayload{
		"project_id": projectID,
		"member_id":  p.MemberID,
		"amount":     amount,
	}); err != nil {
		return domain.ProjectBid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectBid{}, err
	}
	return b, nil
}

// AcceptBid moves a pending bid to aceptada. A member may hold at most one
// accepted bid per project, checked inside the same transaction as the swap.
func (e Engine) AcceptBid(ctx context.Context, p authz.Principal, bidID string) (domain.ProjectBid, error) {
	b, err := e.Repo.GetBid(ctx, bidID)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	prj, err := e.Repo.GetProject(ctx, b.ProjectID)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	switch {
	case p.IsAdmin(), p.OwnsClient(prj.ClientID):
	case p.IsClient():
		return domain.ProjectBid{}, repo.ErrNotFound
	default:
		return domain.ProjectBid{}, authz.ForbiddenError{Action: "accept bid"}
	}
	if b.State != domain.BidPendiente {
		return domain.ProjectBid{}, domain.InvalidStateError{Entity: "bid", State: b.State, Needs: domain.BidPendiente}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	defer tx.Rollback()
	taken, err := e.Repo.HasAcceptedBidTx(ctx, tx, b.ProjectID, b.MemberID, b.ID)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	if taken {
		return domain.ProjectBid{}, ConflictError{Reason: "member already holds an accepted bid on this project"}
	}
	swapped, err := e.Repo.SwapBidStateTx(ctx, tx, b.ID, domain.BidPendiente, domain.BidAceptada, now)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	if !swapped {
		return domain.ProjectBid{}, ConflictError{Reason: "bid changed concurrently; retry"}
	}
	if err := e.Events.Append(ctx, tx, "bid.accepted", "bid", b.ID, p.ActorID, events.EventPayload{
		"project_id": b.ProjectID,
		"member_id":  b.MemberID,
	}); err != nil {
		return domain.ProjectBid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectBid{}, err
	}
	b.State = domain.BidAceptada
	b.UpdatedAt = now
	return b, nil
}

// ConfirmBid is the member's acknowledgment of an accepted bid. It succeeds
// at most once per bid lifetime; a repeat returns ErrAlreadyConfirmed and
// leaves the original confirmation timestamp untouched.
func (e Engine) ConfirmBid(ctx context.Context, p authz.Principal, bidID string) (domain.ProjectBid, error) {
	b, err := e.Repo.GetBid(ctx, bidID)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	switch {
	case p.OwnsMember(b.MemberID):
	case p.IsMember(), p.IsClient():
		return domain.ProjectBid{}, repo.ErrNotFound
	default:
		return domain.ProjectBid{}, authz.ForbiddenError{Action: "confirm bid"}
	}
	if b.ConfirmedByMember {
		return domain.ProjectBid{}, ErrAlreadyConfirmed
	}
	if b.State != domain.BidAceptada {
		return domain.ProjectBid{}, domain.InvalidStateError{Entity: "bid", State: b.State, Needs: domain.BidAceptada}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	defer tx.Rollback()
	landed, err := e.Repo.ConfirmBidTx(ctx, tx, b.ID, now)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	if !landed {
		cur, err := e.Repo.GetBidTx(ctx, tx, b.ID)
		if err != nil {
			return domain.ProjectBid{}, err
		}
		if cur.ConfirmedByMember {
			return domain.ProjectBid{}, ErrAlreadyConfirmed
		}
		return domain.ProjectBid{}, domain.InvalidStateError{Entity: "bid", State: cur.State, Needs: domain.BidAceptada}
	}
	if err := e.Events.Append(ctx, tx, "bid.confirmed", "bid", b.ID, p.ActorID, events.EventPayload{
		"project_id": b.ProjectID,
	}); err != nil {
		return domain.ProjectBid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectBid{}, err
	}
	b.State = domain.BidAceptada
	b.ConfirmedByMember = true
	b.ConfirmedAt = &now
	b.UpdatedAt = now
	return b, nil
}

// CancelBid rejects an accepted bid. Only the bidding member may back out,
// admins on their behalf. The move is one-way: a rejected bid cannot be
// re-accepted or confirmed afterwards.
func (e Engine) CancelBid(ctx context.Context, p authz.Principal, bidID string) (domain.ProjectBid, error) {
	b, err := e.Repo.GetBid(ctx, bidID)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	switch {
	case p.IsAdmin(), p.OwnsMember(b.MemberID):
	case p.IsClient():
		prj, err := e.Repo.GetProject(ctx, b.ProjectID)
		if err != nil {
			return domain.ProjectBid{}, err
		}
		if p.OwnsClient(prj.ClientID) {
			return domain.ProjectBid{}, authz.ForbiddenError{Action: "cancel bid"}
		}
		return domain.ProjectBid{}, repo.ErrNotFound
	case p.IsMember():
		return domain.ProjectBid{}, repo.ErrNotFound
	default:
		return domain.ProjectBid{}, authz.ForbiddenError{Action: "cancel bid"}
	}
	if b.State != domain.BidAceptada {
		return domain.ProjectBid{}, domain.InvalidStateError{Entity: "bid", State: b.State, Needs: domain.BidAceptada}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	defer tx.Rollback()
	landed, err := e.Repo.RejectBidTx(ctx, tx, b.ID, now)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	if !landed {
		return domain.ProjectBid{}, ConflictError{Reason: "bid changed concurrently; retry"}
	}
	if err := e.Events.Append(ctx, tx, "bid.canceled", "bid", b.ID, p.ActorID, events.EventPayload{
		"project_id":    b.ProjectID,
		"was_confirmed": b.ConfirmedByMember,
	}); err != nil {
		return domain.ProjectBid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectBid{}, err
	}
	b.State = domain.BidRechazada
	b.ConfirmedByMember = false
	b.UpdatedAt = now
	return b, nil
}

// GetBid loads one bid subject to visibility: the bidding member, the
// project's client and the admin may see it.
func (e Engine) GetBid(ctx context.Context, p authz.Principal, bidID string) (domain.ProjectBid, error) {
	b, err := e.Repo.GetBid(ctx, bidID)
	if err != nil {
		return domain.ProjectBid{}, err
	}
	if p.IsAdmin() || p.OwnsMember(b.MemberID) {
		return b, nil
	}
	if p.IsClient() {
		prj, err := e.Repo.GetProject(ctx, b.ProjectID)
		if err != nil {
			return domain.ProjectBid{}, err
		}
		if p.OwnsClient(prj.ClientID) {
			return b, nil
		}
	}
	return domain.ProjectBid{}, repo.ErrNotFound
}

// ListBids lists a project's bids. Members only see their own.
func (e Engine) ListBids(ctx context.Context, p authz.Principal, projectID string) ([]domain.ProjectBid, error) {
	prj, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items, err := e.Repo.ListBids(ctx, projectID)
	if err != nil {
		return nil, err
	}
	switch {
	case p.IsAdmin(), p.OwnsClient(prj.ClientID):
		return items, nil
	case p.IsMember():
		var own []domain.ProjectBid
		for _, b := range items {
			if b.MemberID == p.MemberID {
				own = append(own, b)
			}
		}
		return own, nil
	}
	return nil, repo.ErrNotFound
}

// ListProjects lists projects visible to the principal. Private projects are
// hidden from members who are not the owner.
func (e Engine) ListProjects(ctx context.Context, p authz.Principal, clientID string) ([]domain.Project, error) {
	if p.IsClient() {
		clientID = p.ClientID
	}
	items, err := e.Repo.ListProjects(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !p.IsMember() {
		return items, nil
	}
	var visible []domain.Project
	for _, prj := range items {
		if prj.Visibility == domain.VisibilityAbierto {
			visible = append(visible, prj)
		}
	}
	return visible, nil
}
