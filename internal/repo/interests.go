package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// ReplaceUserInterests overwrites the ordered focus list of a user.
func (r Repo) ReplaceUserInterests(ctx context.Context, tx *sql.Tx, userID string, focusIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_interests WHERE user_id=?`, userID); err != nil {
		return fmt.Errorf("clear interests: %w", err)
	}
	for i, id := range focusIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_interests(user_id,focus_id,position) VALUES (?,?,?)`, userID, id, i); err != nil {
			return fmt.Errorf("insert interest: %w", err)
		}
	}
	return nil
}

func (r Repo) ListUserInterests(ctx context.Context, tx *sql.Tx, userID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT focus_id FROM user_interests WHERE user_id=? ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RemoveInterestFocus drops focusID from every user's preference list.
func (r Repo) RemoveInterestFocus(ctx context.Context, tx *sql.Tx, focusID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM user_interests WHERE focus_id=?`, focusID)
	if err != nil {
		return 0, fmt.Errorf("remove interest focus: %w", err)
	}
	return res.RowsAffected()
}
