package engine

import (
	"context"
	"fmt"

	"stillpoint/internal/domain"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/events"
	"stillpoint/internal/kinds"
	"stillpoint/internal/metrics"
	"stillpoint/internal/repo"
)

type ApproveResult struct {
	Outcome  Outcome        `json:"outcome"`
	Content  domain.Content `json:"content"`
	Promoted bool           `json:"promoted"`
	ShadowID string         `json:"shadow_id,omitempty"`
}

// Approve publishes a draft. For a canonical draft the entity and its record
// are approved in place. For a shadow draft the staged revision is promoted
// onto the canonical entity, whose record is approved, and the shadow is
// retired with its record.
func (e Engine) Approve(ctx context.Context, kind, id string, reviewer auth.Actor, comment *string) (ApproveResult, error) {
	d, err := kinds.Lookup(kind)
	if err != nil {
		return ApproveResult{}, err
	}
	if err := requireActor(reviewer); err != nil {
		return ApproveResult{}, err
	}
	if err := auth.RequireReviewer(reviewer, "content.approve"); err != nil {
		return ApproveResult{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApproveResult{}, err
	}
	defer tx.Rollback()

	target, err := e.Repo.GetContent(ctx, tx, d.Kind, id)
	if err != nil {
		return ApproveResult{}, err
	}
	if target.Deleted() {
		return ApproveResult{}, repo.ErrNotFound
	}
	rec, err := e.Repo.GetApproval(ctx, tx, d.Kind, id)
	if err != nil {
		return ApproveResult{}, fmt.Errorf("approval record for %s: %w", id, err)
	}
	if rec.Status == domain.StatusApproved {
		return ApproveResult{}, ValidationError{Field: "status", Reason: "content is already approved"}
	}
	now := e.stamp()
	if err := e.touchActor(ctx, tx, reviewer, now); err != nil {
		return ApproveResult{}, err
	}

	canonical, canonicalRec := target, rec
	res := ApproveResult{Outcome: OutcomeApproved}
	newMedia := false
	if target.IsShadow() {
		canonical, err = e.Repo.GetContent(ctx, tx, d.Kind, *target.ParentRef)
		if err != nil {
			return ApproveResult{}, fmt.Errorf("parent of shadow %s: %w", id, err)
		}
		if canonical.Deleted() {
			return ApproveResult{}, repo.ErrNotFound
		}
		canonicalRec, err = e.Repo.GetApproval(ctx, tx, d.Kind, canonical.ID)
		if err != nil {
			return ApproveResult{}, fmt.Errorf("approval record for %s: %w", canonical.ID, err)
		}
		newMedia = target.MediaName != "" && target.MediaName != canonical.MediaName
		canonical.DisplayName = target.DisplayName
		canonical.Payload = target.Payload
		canonical.FocusIDs = target.FocusIDs
		canonical.MediaFolder = target.MediaFolder
		canonical.MediaName = target.MediaName
		canonical.LifecycleStatus = target.LifecycleStatus
		res.Promoted = true
		res.ShadowID = target.ID
	}
	canonical.ApprovedBy, canonical.ApprovedOn = &reviewer.ID, &now
	canonical.UpdatedOn = now
	if _, err := e.Repo.UpdateContent(ctx, tx, canonical); err != nil {
		return ApproveResult{}, err
	}
	canonicalRec.Status = domain.StatusApproved
	canonicalRec.DisplayName = canonical.DisplayName
	canonicalRec.UpdatedBy, canonicalRec.UpdatedOn = &reviewer.ID, &now
	if err := e.Repo.UpdateApproval(ctx, tx, canonicalRec); err != nil {
		return ApproveResult{}, err
	}
	if err := e.Repo.AppendComment(ctx, tx, canonicalRec.ID, domain.Comment{
		Text:         comment,
		AuthorID:     reviewer.ID,
		TS:           now,
		StatusAtTime: domain.StatusApproved,
	}); err != nil {
		return ApproveResult{}, err
	}
	if res.Promoted {
		if _, err := e.Repo.SoftDeleteContent(ctx, tx, d.Kind, target.ID, now); err != nil {
			return ApproveResult{}, err
		}
		if _, err := e.Repo.SoftDeleteApproval(ctx, tx, d.Kind, target.ID, now); err != nil {
			return ApproveResult{}, err
		}
	}
	payload := notice(reviewer, d.Kind, canonical.ID, "approved")
	payload["author_id"] = target.CreatedBy
	if res.Promoted {
		payload["promoted_from"] = target.ID
	}
	if err := e.appendEvent(ctx, tx, events.ContentApproved, d.Kind, canonical.ID, reviewer, payload); err != nil {
		return ApproveResult{}, err
	}
	if newMedia {
		if err := e.requestTranscription(ctx, tx, reviewer, canonical); err != nil {
			return ApproveResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ApproveResult{}, err
	}
	canonical.IsDraft = false
	res.Content = canonical
	metrics.ObserveContent(string(d.Kind), "approve", string(res.Outcome))
	return res, nil
}

// ListPending returns the review queue of a kind. Only reviewers see it.
func (e Engine) ListPending(ctx context.Context, kind string, actor auth.Actor, limit int) ([]domain.Content, error) {
	d, err := kinds.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireReviewer(actor, "content.review"); err != nil {
		return nil, err
	}
	return e.Repo.ListPending(ctx, d.Kind, limit)
}
