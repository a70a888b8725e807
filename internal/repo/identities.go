package repo

import (
	"context"
	"database/sql"

	"hourline/internal/domain"
)

func (r Repo) InsertClient(ctx context.Context, c domain.Client) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO clients(id,name,email,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, nullable(c.Email), c.CreatedAt)
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	var c domain.Client
	var email sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &email, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if email.Valid {
		c.Email = email.String
	}
	return c, err
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(email,''),created_at FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertMember(ctx context.Context, m domain.Member) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO members(id,name,email,created_at) VALUES (?,?,?,?)`,
		m.ID, m.Name, nullable(m.Email), m.CreatedAt)
	return err
}

func (r Repo) GetMember(ctx context.Context, id string) (domain.Member, error) {
	var m domain.Member
	var email sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,created_at FROM members WHERE id=?`, id).
		Scan(&m.ID, &m.Name, &email, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if email.Valid {
		m.Email = email.String
	}
	return m, err
}

func (r Repo) ListMembers(ctx context.Context) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(email,''),created_at FROM members ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpsertTier(ctx context.Context, t domain.PackageTier) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO package_tiers(id,name,hours,cost_per_hour,discount,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, hours=excluded.hours, cost_per_hour=excluded.cost_per_hour, discount=excluded.discount`,
		t.ID, t.Name, t.Hours, t.CostPerHour, t.Discount, t.CreatedAt)
	return err
}

func (r Repo) GetTier(ctx context.Context, id string) (domain.PackageTier, error) {
	var t domain.PackageTier
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,hours,cost_per_hour,discount,created_at FROM package_tiers WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Hours, &t.CostPerHour, &t.Discount, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTiers(ctx context.Context) ([]domain.PackageTier, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,hours,cost_per_hour,discount,created_at FROM package_tiers ORDER BY hours ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PackageTier
	for rows.Next() {
		var t domain.PackageTier
		if err := rows.Scan(&t.ID, &t.Name, &t.Hours, &t.CostPerHour, &t.Discount, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
