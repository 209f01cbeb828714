package repo

import (
	"context"
	"fmt"
	"strings"

	"stillpoint/internal/domain"
)

// ContentFilters narrows a listing. A zero Status lists everything that is
// not a draft; deleted entities and shadows are never listed.
type ContentFilters struct {
	Kind       domain.Kind
	Search     string
	CreatedBy  string
	ApprovedBy string
	FocusID    string
	Lifecycle  domain.LifecycleStatus
	Status     domain.ApprovalStatus
	Sort       string
	Order      string
	Page       int
	Limit      int
}

type ContentPage struct {
	Items []domain.Content
	Total int
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

var sortColumns = map[string]string{
	"":             "c.created_on",
	"created_on":   "c.created_on",
	"updated_on":   "c.updated_on",
	"display_name": "c.display_name",
}

// ListContent joins the ledger into the content query so status filtering and
// pagination happen in one statement.
func (r Repo) ListContent(ctx context.Context, f ContentFilters) (ContentPage, error) {
	sortCol, ok := sortColumns[f.Sort]
	if !ok {
		return ContentPage{}, fmt.Errorf("unsupported sort %q", f.Sort)
	}
	order := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		order = "ASC"
	}
	clauses := []string{"c.kind=?", "c.lifecycle_status<>'deleted'", "c.parent_ref IS NULL"}
	args := []any{f.Kind}
	if f.Status != "" {
		clauses = append(clauses, "ar.status=?")
		args = append(args, f.Status)
	} else {
		clauses = append(clauses, "ar.status<>'draft'")
	}
	if f.Lifecycle != "" {
		clauses = append(clauses, "c.lifecycle_status=?")
		args = append(args, f.Lifecycle)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		clauses = append(clauses, `c.display_name LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(s)+"%")
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "c.created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.ApprovedBy != "" {
		clauses = append(clauses, "c.approved_by=?")
		args = append(args, f.ApprovedBy)
	}
	if f.FocusID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM content_focus cf WHERE cf.content_id=c.id AND cf.focus_id=?)")
		args = append(args, f.FocusID)
	}
	from := ` FROM content c JOIN approval_records ar ON ar.content_id=c.id AND ar.content_kind=c.kind AND ar.deleted_on IS NULL
WHERE ` + strings.Join(clauses, " AND ")

	var page ContentPage
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*)`+from, args...).Scan(&page.Total); err != nil {
		return page, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := 0
	if f.Page > 1 {
		offset = (f.Page - 1) * limit
	}
	query := `SELECT ` + contentColumns + from + fmt.Sprintf(` ORDER BY %s %s, c.id %s LIMIT ? OFFSET ?`, sortCol, order, order)
	items, err := r.queryContent(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return page, err
	}
	page.Items = items
	return page, nil
}

// ListPending returns the review queue of a kind: drafts and shadows, oldest first.
func (r Repo) ListPending(ctx context.Context, kind domain.Kind, limit int) ([]domain.Content, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryContent(ctx, `SELECT `+contentColumns+` FROM content c
JOIN approval_records ar ON ar.content_id=c.id AND ar.content_kind=c.kind AND ar.deleted_on IS NULL
WHERE c.kind=? AND c.lifecycle_status<>'deleted' AND ar.status='draft'
ORDER BY c.updated_on ASC, c.id ASC LIMIT ?`, kind, limit)
}

func (r Repo) queryContent(ctx context.Context, query string, args ...any) ([]domain.Content, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	items := []domain.Content{}
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, c := range items {
		ids[i] = c.ID
	}
	focus, err := r.focusFor(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].FocusIDs = focus[items[i].ID]
	}
	return items, nil
}
