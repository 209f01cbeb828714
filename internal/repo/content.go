package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stillpoint/internal/domain"
)

const contentColumns = `c.id,c.kind,c.display_name,c.payload_json,c.media_folder,c.media_name,c.lifecycle_status,c.is_draft,c.parent_ref,c.created_by,c.created_on,c.approved_by,c.approved_on,c.updated_on,c.deleted_on`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (domain.Content, error) {
	var c domain.Content
	var payload string
	var mediaFolder, mediaName, parentRef, approvedBy, approvedOn, deletedOn sql.NullString
	var isDraft int
	err := row.Scan(&c.ID, &c.Kind, &c.DisplayName, &payload, &mediaFolder, &mediaName, &c.LifecycleStatus, &isDraft,
		&parentRef, &c.CreatedBy, &c.CreatedOn, &approvedBy, &approvedOn, &c.UpdatedOn, &deletedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(payload), &c.Payload); err != nil {
		return c, fmt.Errorf("decode payload of %s: %w", c.ID, err)
	}
	c.MediaFolder = mediaFolder.String
	c.MediaName = mediaName.String
	c.IsDraft = isDraft != 0
	c.ParentRef = stringPtr(parentRef)
	c.ApprovedBy = stringPtr(approvedBy)
	c.ApprovedOn = stringPtr(approvedOn)
	c.DeletedOn = stringPtr(deletedOn)
	return c, nil
}

func marshalPayload(p map[string]any) (string, error) {
	if p == nil {
		p = map[string]any{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

// InsertContent writes a new entity and its tag references. is_draft starts
// true and is recomputed when the ledger record is written.
func (r Repo) InsertContent(ctx context.Context, tx *sql.Tx, c domain.Content) error {
	payload, err := marshalPayload(c.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO content(id,kind,display_name,payload_json,media_folder,media_name,lifecycle_status,is_draft,parent_ref,created_by,created_on,approved_by,approved_on,updated_on)
VALUES (?,?,?,?,?,?,?,1,?,?,?,?,?,?)`,
		c.ID, c.Kind, c.DisplayName, payload, nullable(c.MediaFolder), nullable(c.MediaName), c.LifecycleStatus,
		nullableStringPtr(c.ParentRef), c.CreatedBy, c.CreatedOn, nullableStringPtr(c.ApprovedBy), nullableStringPtr(c.ApprovedOn), c.UpdatedOn)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return r.setFocus(ctx, tx, c)
}

// GetContent returns the entity regardless of lifecycle status.
func (r Repo) GetContent(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string) (domain.Content, error) {
	q := r.q(tx)
	c, err := scanContent(q.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content c WHERE c.id=? AND c.kind=?`, id, kind))
	if err != nil {
		return c, err
	}
	focus, err := r.focusFor(ctx, q, []string{c.ID})
	if err != nil {
		return c, err
	}
	c.FocusIDs = focus[c.ID]
	return c, nil
}

// UpdateContent rewrites a live entity in place. It reports false when the
// entity is missing or already deleted.
func (r Repo) UpdateContent(ctx context.Context, tx *sql.Tx, c domain.Content) (bool, error) {
	payload, err := marshalPayload(c.Payload)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE content SET display_name=?, payload_json=?, media_folder=?, media_name=?, lifecycle_status=?, created_by=?, approved_by=?, approved_on=?, updated_on=?
WHERE id=? AND kind=? AND lifecycle_status<>'deleted'`,
		c.DisplayName, payload, nullable(c.MediaFolder), nullable(c.MediaName), c.LifecycleStatus, c.CreatedBy,
		nullableStringPtr(c.ApprovedBy), nullableStringPtr(c.ApprovedOn), c.UpdatedOn, c.ID, c.Kind)
	if err != nil {
		return false, fmt.Errorf("update content: %w", err)
	}
	ok, err := affected(res)
	if err != nil || !ok {
		return ok, err
	}
	return true, r.setFocus(ctx, tx, c)
}

// FindShadow returns the live shadow draft staged against parentID.
func (r Repo) FindShadow(ctx context.Context, tx *sql.Tx, kind domain.Kind, parentID string) (domain.Content, error) {
	q := r.q(tx)
	c, err := scanContent(q.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content c
WHERE c.kind=? AND c.parent_ref=? AND c.lifecycle_status<>'deleted'`, kind, parentID))
	if err != nil {
		return c, err
	}
	focus, err := r.focusFor(ctx, q, []string{c.ID})
	if err != nil {
		return c, err
	}
	c.FocusIDs = focus[c.ID]
	return c, nil
}

// SoftDeleteContent marks a live entity deleted. It reports false when there was nothing to delete.
func (r Repo) SoftDeleteContent(ctx context.Context, tx *sql.Tx, kind domain.Kind, id, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE content SET lifecycle_status='deleted', deleted_on=?, updated_on=? WHERE id=? AND kind=? AND lifecycle_status<>'deleted'`,
		now, now, id, kind)
	if err != nil {
		return false, fmt.Errorf("soft delete content: %w", err)
	}
	return affected(res)
}

// SoftDeleteShadows deletes every live shadow of parentID and returns their ids.
func (r Repo) SoftDeleteShadows(ctx context.Context, tx *sql.Tx, kind domain.Kind, parentID, now string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM content WHERE kind=? AND parent_ref=? AND lifecycle_status<>'deleted'`, kind, parentID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := r.SoftDeleteContent(ctx, tx, kind, id, now); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// RemoveFocusReferences drops focusID from the tag lists of the given kinds.
func (r Repo) RemoveFocusReferences(ctx context.Context, tx *sql.Tx, focusID string, kinds []domain.Kind) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}
	args := []any{focusID}
	for _, k := range kinds {
		args = append(args, k)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM content_focus WHERE focus_id=? AND kind IN (`+placeholders(len(kinds))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("remove focus references: %w", err)
	}
	return res.RowsAffected()
}

// CountFocusReferences counts entities of any kind tagged with focusID.
func (r Repo) CountFocusReferences(ctx context.Context, focusID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_focus WHERE focus_id=?`, focusID).Scan(&n)
	return n, err
}

func (r Repo) setFocus(ctx context.Context, tx *sql.Tx, c domain.Content) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_focus WHERE content_id=?`, c.ID); err != nil {
		return fmt.Errorf("clear focus: %w", err)
	}
	for i, focusID := range c.FocusIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO content_focus(content_id,kind,focus_id,position) VALUES (?,?,?,?)`,
			c.ID, c.Kind, focusID, i); err != nil {
			return fmt.Errorf("insert focus: %w", err)
		}
	}
	return nil
}

func (r Repo) focusFor(ctx context.Context, q dbtx, ids []string) (map[string][]string, error) {
	out := map[string][]string{}
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT content_id, focus_id FROM content_focus WHERE content_id IN (`+placeholders(len(ids))+`) ORDER BY content_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var contentID, focusID string
		if err := rows.Scan(&contentID, &focusID); err != nil {
			return nil, err
		}
		out[contentID] = append(out[contentID], focusID)
	}
	return out, rows.Err()
}
