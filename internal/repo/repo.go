package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hourline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const solicitationCols = `id,client_id,tier_id,hours_total,cost_per_hour,discount,state,COALESCE(notes,'') AS notes,created_at,updated_at`

func scanSolicitation(scan func(dest ...any) error) (domain.Solicitation, error) {
	var s domain.Solicitation
	var tierID sql.NullString
	err := scan(&s.ID, &s.ClientID, &tierID, &s.HoursTotal, &s.CostPerHour, &s.Discount, &s.State, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if tierID.Valid {
		s.TierID = &tierID.String
	}
	return s, err
}

func (r Repo) InsertSolicitationTx(ctx context.Context, tx *sql.Tx, s domain.Solicitation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO paquete_solicitudes(id,client_id,tier_id,hours_total,cost_per_hour,discount,state,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ClientID, nullableStringPtr(s.TierID), s.HoursTotal, s.CostPerHour, s.Discount, s.State, nullable(s.Notes), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSolicitation(ctx context.Context, id string) (domain.Solicitation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+solicitationCols+` FROM paquete_solicitudes WHERE id=?`, id)
	return scanSolicitation(row.Scan)
}

func (r Repo) GetSolicitationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Solicitation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+solicitationCols+` FROM paquete_solicitudes WHERE id=?`, id)
	return scanSolicitation(row.Scan)
}

type SolicitationFilters struct {
	ClientID        string
	State           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListSolicitations(ctx context.Context, f SolicitationFilters) ([]domain.Solicitation, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + solicitationCols + ` FROM paquete_solicitudes ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Solicitation
	for rows.Next() {
		s, err := scanSolicitation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SwapSolicitationStateTx is the compare-and-swap a transition commits
// through: the update only lands if the row is still in the expected state.
func (r Repo) SwapSolicitationStateTx(ctx context.Context, tx *sql.Tx, id, fromState, toState, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE paquete_solicitudes SET state=?, updated_at=? WHERE id=? AND state=?`,
		toState, updatedAt, id, fromState)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const assignmentCols = `id,solicitation_id,member_id,hours_allocated,state,created_at,updated_at`

func scanAssignment(scan func(dest ...any) error) (domain.Assignment, error) {
	var a domain.Assignment
	err := scan(&a.ID, &a.SolicitationID, &a.MemberID, &a.HoursAllocated, &a.State, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO paquete_asignaciones(id,solicitation_id,member_id,hours_allocated,state,created_at,updated_at)
VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.SolicitationID, a.MemberID, a.HoursAllocated, a.State, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAssignment(ctx context.Context, id string) (domain.Assignment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM paquete_asignaciones WHERE id=?`, id)
	return scanAssignment(row.Scan)
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assignment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+assignmentCols+` FROM paquete_asignaciones WHERE id=?`, id)
	return scanAssignment(row.Scan)
}

func (r Repo) ListAssignments(ctx context.Context, solicitationID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+assignmentCols+` FROM paquete_asignaciones WHERE solicitation_id=? ORDER BY created_at ASC, id ASC`, solicitationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListAssignmentsTx(ctx context.Context, tx *sql.Tx, solicitationID string) ([]domain.Assignment, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+assignmentCols+` FROM paquete_asignaciones WHERE solicitation_id=? ORDER BY created_at ASC, id ASC`, solicitationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListAssignmentsByMember(ctx context.Context, memberID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+assignmentCols+` FROM paquete_asignaciones WHERE member_id=? ORDER BY created_at DESC, id DESC`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AllocatedHoursTx sums every non-canceled allocation for a solicitation.
// Called inside the same transaction that inserts the new allocation so the
// hour budget cannot be overrun by a concurrent insert.
func (r Repo) AllocatedHoursTx(ctx context.Context, tx *sql.Tx, solicitationID string) (float64, error) {
	var sum float64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(hours_allocated),0) FROM paquete_asignaciones WHERE solicitation_id=? AND state != 'cancelado'`,
		solicitationID).Scan(&sum)
	return sum, err
}

func (r Repo) SwapAssignmentStateTx(ctx context.Context, tx *sql.Tx, id, fromState, toState, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE paquete_asignaciones SET state=?, updated_at=? WHERE id=? AND state=?`,
		toState, updatedAt, id, fromState)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) InsertProgressTx(ctx context.Context, tx *sql.Tx, p domain.ProgressEntry) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO paquete_avances(assignment_id,author_type,author_id,content,hours_reported,created_at)
VALUES (?,?,?,?,?,?)`,
		p.AssignmentID, p.AuthorType, p.AuthorID, p.Content, p.HoursReported, p.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListProgress returns the avances for an assignment in narrative order.
// There is deliberately no update or delete counterpart.
func (r Repo) ListProgress(ctx context.Context, assignmentID string) ([]domain.ProgressEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assignment_id,author_type,author_id,content,hours_reported,created_at
FROM paquete_avances WHERE assignment_id=? ORDER BY created_at ASC, id ASC`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressEntry
	for rows.Next() {
		var p domain.ProgressEntry
		if err := rows.Scan(&p.ID, &p.AssignmentID, &p.AuthorType, &p.AuthorID, &p.Content, &p.HoursReported, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ReportedHoursTx sums member-reported hours for one assignment.
func (r Repo) ReportedHoursTx(ctx context.Context, tx *sql.Tx, assignmentID string) (float64, error) {
	var sum float64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(hours_reported),0) FROM paquete_avances WHERE assignment_id=? AND author_type='miembro'`,
		assignmentID).Scan(&sum)
	return sum, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,client_id,title,visibility,status,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.ClientID, p.Title, p.Visibility, p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,client_id,title,visibility,status,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.ClientID, &p.Title, &p.Visibility, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context, clientID string) ([]domain.Project, error) {
	query := `SELECT id,client_id,title,visibility,status,created_at FROM projects`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id=?`
		args = append(args, clientID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Title, &p.Visibility, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const bidCols = `id,project_id,member_id,amount,COALESCE(message,'') AS message,state,confirmed_by_member,confirmed_at,created_at,updated_at`

func scanBid(scan func(dest ...any) error) (domain.ProjectBid, error) {
	var b domain.ProjectBid
	var confirmed int
	var confirmedAt sql.NullString
	err := scan(&b.ID, &b.ProjectID, &b.MemberID, &b.Amount, &b.Message, &b.State, &confirmed, &confirmedAt, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	b.ConfirmedByMember = confirmed != 0
	if confirmedAt.Valid {
		b.ConfirmedAt = &confirmedAt.String
	}
	return b, err
}

func (r Repo) InsertBidTx(ctx context.Context, tx *sql.Tx, b domain.ProjectBid) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_bids(id,project_id,member_id,amount,message,state,confirmed_by_member,confirmed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.ProjectID, b.MemberID, b.Amount, nullable(b.Message), b.State, boolToInt(b.ConfirmedByMember), nullableStringPtr(b.ConfirmedAt), b.CreatedAt, b.UpdatedAt)
	return err
}

func (r Repo) GetBid(ctx context.Context, id string) (domain.ProjectBid, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+bidCols+` FROM project_bids WHERE id=?`, id)
	return scanBid(row.Scan)
}

func (r Repo) GetBidTx(ctx context.Context, tx *sql.Tx, id string) (domain.ProjectBid, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bidCols+` FROM project_bids WHERE id=?`, id)
	return scanBid(row.Scan)
}

func (r Repo) ListBids(ctx context.Context, projectID string) ([]domain.ProjectBid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+bidCols+` FROM project_bids WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectBid
	for rows.Next() {
		b, err := scanBid(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// HasAcceptedBidTx reports whether another bid for the same project and
// member already sits in aceptada. At most one may be confirmable at a time.
func (r Repo) HasAcceptedBidTx(ctx context.Context, tx *sql.Tx, projectID, memberID, excludeBidID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM project_bids WHERE project_id=? AND member_id=? AND state='aceptada' AND id != ? LIMIT 1`,
		projectID, memberID, excludeBidID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) SwapBidStateTx(ctx context.Context, tx *sql.Tx, id, fromState, toState, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE project_bids SET state=?, updated_at=? WHERE id=? AND state=?`,
		toState, updatedAt, id, fromState)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ConfirmBidTx flips confirmed_by_member exactly once: the conditional
// update only lands while the bid is aceptada and still unconfirmed.
func (r Repo) ConfirmBidTx(ctx context.Context, tx *sql.Tx, id, confirmedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE project_bids SET confirmed_by_member=1, confirmed_at=?, updated_at=?
WHERE id=? AND state='aceptada' AND confirmed_by_member=0`, confirmedAt, confirmedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RejectBidTx is the one-way cancel: state becomes rechazada and the
// confirmation flag is cleared regardless of its previous value.
func (r Repo) RejectBidTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE project_bids SET state='rechazada', confirmed_by_member=0, updated_at=?
WHERE id=? AND state='aceptada'`, updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
