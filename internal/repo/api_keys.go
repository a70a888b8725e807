package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"hourline/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if !domain.ValidRole(key.Role) {
		return errors.New("valid role required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id, role, client_id, member_id, name, key_hash, created_at) VALUES (?,?,?,?,?,?,?)`,
		key.ID, key.Role, nullableStringPtr(key.ClientID), nullableStringPtr(key.MemberID), nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, role, client_id, member_id, COALESCE(name,''), key_hash, created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.APIKey
	var clientID, memberID sql.NullString
	err := row.Scan(&key.ID, &key.Role, &clientID, &memberID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.APIKey{}, ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	if clientID.Valid {
		key.ClientID = &clientID.String
	}
	if memberID.Valid {
		key.MemberID = &memberID.String
	}
	return key, nil
}

// ListAPIKeys returns API keys, optionally filtered by role.
func (r Repo) ListAPIKeys(ctx context.Context, role string) ([]domain.APIKey, error) {
	query := `SELECT id, role, client_id, member_id, COALESCE(name,''), key_hash, created_at FROM api_keys`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		var clientID, memberID sql.NullString
		if err := rows.Scan(&key.ID, &key.Role, &clientID, &memberID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		if clientID.Valid {
			key.ClientID = &clientID.String
		}
		if memberID.Valid {
			key.MemberID = &memberID.String
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteAPIKey deletes an API key by ID.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	return err
}
