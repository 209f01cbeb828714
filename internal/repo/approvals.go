package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stillpoint/internal/domain"
)

const approvalColumns = `id,content_id,content_kind,parent_ref,status,display_name,created_by,created_on,updated_by,updated_on,deleted_on`

func scanApproval(row rowScanner) (domain.ApprovalRecord, error) {
	var rec domain.ApprovalRecord
	var parentRef, updatedBy, updatedOn, deletedOn sql.NullString
	err := row.Scan(&rec.ID, &rec.ContentID, &rec.ContentKind, &parentRef, &rec.Status, &rec.DisplayName,
		&rec.CreatedBy, &rec.CreatedOn, &updatedBy, &updatedOn, &deletedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.ParentRef = stringPtr(parentRef)
	rec.UpdatedBy = stringPtr(updatedBy)
	rec.UpdatedOn = stringPtr(updatedOn)
	rec.DeletedOn = stringPtr(deletedOn)
	return rec, nil
}

// InsertApproval writes a ledger record with its initial comments and returns its id.
func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, rec domain.ApprovalRecord) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO approval_records(content_id,content_kind,parent_ref,status,display_name,created_by,created_on,updated_by,updated_on)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.ContentID, rec.ContentKind, nullableStringPtr(rec.ParentRef), rec.Status, rec.DisplayName,
		rec.CreatedBy, rec.CreatedOn, nullableStringPtr(rec.UpdatedBy), nullableStringPtr(rec.UpdatedOn))
	if err != nil {
		return 0, fmt.Errorf("insert approval record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, c := range rec.Comments {
		if err := r.AppendComment(ctx, tx, id, c); err != nil {
			return 0, err
		}
	}
	return id, r.syncDraftFlag(ctx, tx, rec.ContentKind, rec.ContentID, rec.Status)
}

// GetApproval returns the live ledger record of an entity with its comment trail.
func (r Repo) GetApproval(ctx context.Context, tx *sql.Tx, kind domain.Kind, contentID string) (domain.ApprovalRecord, error) {
	q := r.q(tx)
	rec, err := scanApproval(q.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_records
WHERE content_kind=? AND content_id=? AND deleted_on IS NULL`, kind, contentID))
	if err != nil {
		return rec, err
	}
	rec.Comments, err = r.comments(ctx, q, rec.ID)
	return rec, err
}

// GetApprovalByParent returns the live ledger record of the shadow staged against parentID.
func (r Repo) GetApprovalByParent(ctx context.Context, tx *sql.Tx, kind domain.Kind, parentID string) (domain.ApprovalRecord, error) {
	q := r.q(tx)
	rec, err := scanApproval(q.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_records
WHERE content_kind=? AND parent_ref=? AND deleted_on IS NULL`, kind, parentID))
	if err != nil {
		return rec, err
	}
	rec.Comments, err = r.comments(ctx, q, rec.ID)
	return rec, err
}

// UpdateApproval rewrites status, display name and reviewer stamps of a live record
// and refreshes the entity's draft flag.
func (r Repo) UpdateApproval(ctx context.Context, tx *sql.Tx, rec domain.ApprovalRecord) error {
	res, err := tx.ExecContext(ctx, `UPDATE approval_records SET status=?, display_name=?, created_by=?, updated_by=?, updated_on=?
WHERE id=? AND deleted_on IS NULL`,
		rec.Status, rec.DisplayName, rec.CreatedBy, nullableStringPtr(rec.UpdatedBy), nullableStringPtr(rec.UpdatedOn), rec.ID)
	if err != nil {
		return fmt.Errorf("update approval record: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return r.syncDraftFlag(ctx, tx, rec.ContentKind, rec.ContentID, rec.Status)
}

// AppendComment adds an entry to a record's trail. Entries are never edited.
func (r Repo) AppendComment(ctx context.Context, tx *sql.Tx, recordID int64, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO approval_comments(record_id,text,author_id,ts,status_at_time) VALUES (?,?,?,?,?)`,
		recordID, nullableStringPtr(c.Text), c.AuthorID, c.TS, c.StatusAtTime)
	if err != nil {
		return fmt.Errorf("append comment: %w", err)
	}
	return nil
}

// SoftDeleteApproval stamps deleted_on on the live record of an entity.
func (r Repo) SoftDeleteApproval(ctx context.Context, tx *sql.Tx, kind domain.Kind, contentID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE approval_records SET deleted_on=? WHERE content_kind=? AND content_id=? AND deleted_on IS NULL`,
		now, kind, contentID)
	if err != nil {
		return false, fmt.Errorf("soft delete approval record: %w", err)
	}
	return affected(res)
}

// is_draft is a projection of the ledger status and is only written here.
func (r Repo) syncDraftFlag(ctx context.Context, tx *sql.Tx, kind domain.Kind, contentID string, status domain.ApprovalStatus) error {
	draft := 0
	if status == domain.StatusDraft {
		draft = 1
	}
	if _, err := tx.ExecContext(ctx, `UPDATE content SET is_draft=? WHERE id=? AND kind=?`, draft, contentID, kind); err != nil {
		return fmt.Errorf("sync draft flag: %w", err)
	}
	return nil
}

func (r Repo) comments(ctx context.Context, q dbtx, recordID int64) ([]domain.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, text, author_id, ts, status_at_time FROM approval_comments WHERE record_id=? ORDER BY id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		var text sql.NullString
		if err := rows.Scan(&c.ID, &text, &c.AuthorID, &c.TS, &c.StatusAtTime); err != nil {
			return nil, err
		}
		c.Text = stringPtr(text)
		out = append(out, c)
	}
	return out, rows.Err()
}
