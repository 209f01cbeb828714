package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"stillpoint/internal/domain"
)

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		e.Payload = payload.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventsAfter returns events with id greater than afterID in ascending order.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id, ts, type, entity_kind, entity_id, actor_id, payload_json FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEvents returns newest events first, older than beforeID when it is positive.
func (r Repo) LatestEvents(ctx context.Context, beforeID int64, entityKind string, limit int) ([]domain.Event, error) {
	query := `SELECT id, ts, type, entity_kind, entity_id, actor_id, payload_json FROM events WHERE 1=1`
	var args []any
	if beforeID > 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	if entityKind != "" {
		query += ` AND entity_kind=?`
		args = append(args, entityKind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// RelayCursor returns the last event id a relay consumer has handled.
func (r Repo) RelayCursor(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT event_id FROM relay_cursors WHERE name=?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r Repo) SetRelayCursor(ctx context.Context, name string, eventID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO relay_cursors(name,event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(name) DO UPDATE SET event_id=excluded.event_id, updated_at=excluded.updated_at`,
		name, eventID, time.Now().UTC().Format(time.RFC3339))
	return err
}

// AcquireRelayLease claims or renews the named lease for owner until now+ttl.
// It reports false while another owner holds an unexpired lease.
func (r Repo) AcquireRelayLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO relay_leases(name,owner,expires_at) VALUES (?,?,?)
ON CONFLICT(name) DO UPDATE SET owner=excluded.owner, expires_at=excluded.expires_at
WHERE relay_leases.owner=excluded.owner OR relay_leases.expires_at<=?`,
		name, owner, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseRelayLease drops the lease if owner still holds it.
func (r Repo) ReleaseRelayLease(ctx context.Context, name, owner string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM relay_leases WHERE name=? AND owner=?`, name, owner)
	return err
}
