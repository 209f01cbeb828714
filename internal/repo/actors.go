package repo

import (
	"context"
	"database/sql"
	"errors"

	"stillpoint/internal/domain"
)

// TouchActor records an actor the first time it is seen and refreshes its
// name, role and last-seen stamp afterwards.
func (r Repo) TouchActor(ctx context.Context, tx *sql.Tx, a domain.ActorRecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO actors(id,display_name,role,created_at,last_seen_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET display_name=COALESCE(excluded.display_name, actors.display_name), role=excluded.role, last_seen_at=excluded.last_seen_at`,
		a.ID, nullable(a.DisplayName), a.Role, a.CreatedAt, a.LastSeenAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.ActorRecord, error) {
	var a domain.ActorRecord
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id, display_name, role, created_at, last_seen_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &name, &a.Role, &a.CreatedAt, &a.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	a.DisplayName = name.String
	return a, err
}

// ListActors returns known actors, optionally only those holding role.
func (r Repo) ListActors(ctx context.Context, role string) ([]domain.ActorRecord, error) {
	query := `SELECT id, display_name, role, created_at, last_seen_at FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.ActorRecord{}
	for rows.Next() {
		var a domain.ActorRecord
		var name sql.NullString
		if err := rows.Scan(&a.ID, &name, &a.Role, &a.CreatedAt, &a.LastSeenAt); err != nil {
			return nil, err
		}
		a.DisplayName = name.String
		out = append(out, a)
	}
	return out, rows.Err()
}
