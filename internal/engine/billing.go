package engine

import (
	"context"
	"database/sql"

	"hourline/internal/domain"
	"hourline/internal/engine/authz"
	"hourline/internal/events"
)

// BillingSummary reports, per assignment of a solicitation, the allocated
// hours next to the hours members actually reported through avances. All
// lines are read inside one transaction so the view is consistent.
func (e Engine) BillingSummary(ctx context.Context, p authz.Principal, solicitationID string) ([]domain.BillingLine, error) {
	if err := authz.RequireAdmin(p, "read billing summary"); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	lines, err := e.billingLinesTx(ctx, tx, solicitationID)
	if err != nil {
		return nil, err
	}
	return lines, tx.Commit()
}

// RequestInvoice emits a billing.requested event carrying the billing lines
// of a completed solicitation. Downstream invoicing picks the event up from
// the log or a webhook; nothing is mutated here besides the event row.
func (e Engine) RequestInvoice(ctx context.Context, p authz.Principal, solicitationID string) ([]domain.BillingLine, error) {
	if err := authz.RequireAdmin(p, "request invoice"); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSolicitationTx(ctx, tx, solicitationID)
	if err != nil {
		return nil, err
	}
	if s.State != domain.SolicitationCompletado {
		return nil, domain.InvalidStateError{Entity: "solicitation", State: s.State, Needs: domain.SolicitationCompletado}
	}
	lines, err := e.billingLinesTx(ctx, tx, solicitationID)
	if err != nil {
		return nil, err
	}
	var reported float64
	for _, l := range lines {
		reported += l.HoursReported
	}
	if err := e.Events.Append(ctx, tx, "billing.requested", "solicitation", s.ID, p.ActorID, events.EventPayload{
		"client_id":      s.ClientID,
		"hours_total":    s.HoursTotal,
		"hours_reported": reported,
		"cost_per_hour":  s.CostPerHour,
		"discount":       s.Discount,
		"lines":          lines,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (e Engine) billingLinesTx(ctx context.Context, tx *sql.Tx, solicitationID string) ([]domain.BillingLine, error) {
	if _, err := e.Repo.GetSolicitationTx(ctx, tx, solicitationID); err != nil {
		return nil, err
	}
	assignments, err := e.Repo.ListAssignmentsTx(ctx, tx, solicitationID)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.BillingLine, 0, len(assignments))
	for _, a := range assignments {
		reported, err := e.Repo.ReportedHoursTx(ctx, tx, a.ID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, domain.BillingLine{
			AssignmentID:   a.ID,
			MemberID:       a.MemberID,
			State:          a.State,
			HoursAllocated: a.HoursAllocated,
			HoursReported:  reported,
		})
	}
	return lines, nil
}
