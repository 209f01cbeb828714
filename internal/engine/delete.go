package engine

import (
	"context"
	"errors"

	"stillpoint/internal/engine/auth"
	"stillpoint/internal/events"
	"stillpoint/internal/kinds"
	"stillpoint/internal/metrics"
	"stillpoint/internal/repo"
)

// FocusCascade counts the references a focus deletion removed.
type FocusCascade struct {
	ContentRefs  int64 `json:"content_refs"`
	InterestRefs int64 `json:"interest_refs"`
}

type DeleteResult struct {
	Outcome Outcome       `json:"outcome"`
	Shadows []string      `json:"shadows,omitempty"`
	Cascade *FocusCascade `json:"cascade,omitempty"`
}

// Delete soft-deletes an entity, its ledger record and any shadow drafts in
// one transaction. Deleting a previously approved focus also scrubs its id
// from every tagged kind and from user interests.
func (e Engine) Delete(ctx context.Context, kind, id string, actor auth.Actor) (DeleteResult, error) {
	d, err := kinds.Lookup(kind)
	if err != nil {
		return DeleteResult{}, err
	}
	if err := requireActor(actor); err != nil {
		return DeleteResult{}, err
	}
	if id == "" {
		return DeleteResult{}, ValidationError{Field: "id", Reason: "id is required"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DeleteResult{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetContent(ctx, tx, d.Kind, id)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && current.Deleted()) {
		metrics.ObserveContent(string(d.Kind), "delete", string(OutcomeNotFound))
		return DeleteResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return DeleteResult{}, err
	}
	now := e.stamp()
	if err := e.touchActor(ctx, tx, actor, now); err != nil {
		return DeleteResult{}, err
	}
	if _, err := e.Repo.SoftDeleteContent(ctx, tx, d.Kind, id, now); err != nil {
		return DeleteResult{}, err
	}
	if _, err := e.Repo.SoftDeleteApproval(ctx, tx, d.Kind, id, now); err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{Outcome: OutcomeDeleted}
	shadows, err := e.Repo.SoftDeleteShadows(ctx, tx, d.Kind, id, now)
	if err != nil {
		return DeleteResult{}, err
	}
	for _, sid := range shadows {
		if _, err := e.Repo.SoftDeleteApproval(ctx, tx, d.Kind, sid, now); err != nil {
			return DeleteResult{}, err
		}
	}
	res.Shadows = shadows

	if d.Taxonomy && current.ApprovedBy != nil {
		refs, err := e.Repo.RemoveFocusReferences(ctx, tx, id, kinds.TaggedKinds())
		if err != nil {
			return DeleteResult{}, err
		}
		interests, err := e.Repo.RemoveInterestFocus(ctx, tx, id)
		if err != nil {
			return DeleteResult{}, err
		}
		res.Cascade = &FocusCascade{ContentRefs: refs, InterestRefs: interests}
		if err := e.appendEvent(ctx, tx, events.FocusCascaded, d.Kind, id, actor, events.EventPayload{
			"content_refs":  refs,
			"interest_refs": interests,
		}); err != nil {
			return DeleteResult{}, err
		}
	}
	if err := e.appendEvent(ctx, tx, events.ContentDeleted, d.Kind, id, actor, events.EventPayload{
		"display_name": current.DisplayName,
		"shadows":      shadows,
	}); err != nil {
		return DeleteResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DeleteResult{}, err
	}
	metrics.ObserveContent(string(d.Kind), "delete", string(res.Outcome))
	return res, nil
}
