package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stillpoint/internal/domain"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/events"
	"stillpoint/internal/kinds"
	"stillpoint/internal/metrics"
	"stillpoint/internal/repo"
)

// EditOptions are parameters for editing an entity.
type EditOptions struct {
	Kind    string
	ID      string
	Payload map[string]any
	// Lifecycle optionally moves the entity between active and inactive.
	Lifecycle domain.LifecycleStatus
	// AssertedStatus is the status the client believes the entity has. It
	// selects the shadow path only when the stored status agrees.
	AssertedStatus domain.ApprovalStatus
	// Comment is recorded on the trail entry a reviewer's edit appends.
	Comment *string
	Actor   auth.Actor
}

type EditResult struct {
	Outcome Outcome        `json:"outcome"`
	Content domain.Content `json:"content"`
}

// Edit applies a change to an entity. A contributor revising published
// content gets a shadow draft and the canonical entity is left untouched;
// every other edit rewrites the entity in place. A missing or deleted target
// yields OutcomeNotFound with a nil error.
func (e Engine) Edit(ctx context.Context, opts EditOptions) (EditResult, error) {
	d, err := kinds.Lookup(opts.Kind)
	if err != nil {
		return EditResult{}, err
	}
	if err := requireActor(opts.Actor); err != nil {
		return EditResult{}, err
	}
	if opts.ID == "" {
		return EditResult{}, ValidationError{Field: "id", Reason: "id is required"}
	}
	switch opts.Lifecycle {
	case "", domain.LifecycleActive, domain.LifecycleInactive:
	default:
		return EditResult{}, ValidationError{Field: "lifecycle_status", Reason: "must be active or inactive"}
	}
	if opts.AssertedStatus != "" && !opts.AssertedStatus.Valid() {
		return EditResult{}, ValidationError{Field: "asserted_status", Reason: "must be draft or approved"}
	}
	dec, err := d.Decode(opts.Payload)
	if err != nil {
		return EditResult{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return EditResult{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetContent(ctx, tx, d.Kind, opts.ID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && current.Deleted()) {
		metrics.ObserveContent(string(d.Kind), "edit", string(OutcomeNotFound))
		return EditResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return EditResult{}, err
	}
	rec, err := e.Repo.GetApproval(ctx, tx, d.Kind, opts.ID)
	if err != nil {
		return EditResult{}, fmt.Errorf("approval record for %s: %w", opts.ID, err)
	}
	if opts.AssertedStatus != "" && opts.AssertedStatus != rec.Status {
		e.Log.Warn().
			Str("content_id", opts.ID).
			Str("kind", string(d.Kind)).
			Str("asserted", string(opts.AssertedStatus)).
			Str("stored", string(rec.Status)).
			Msg("client status hint disagrees with ledger")
	}
	if err := e.requireLiveFocus(ctx, tx, dec.FocusIDs); err != nil {
		return EditResult{}, err
	}
	now := e.stamp()
	if err := e.touchActor(ctx, tx, opts.Actor, now); err != nil {
		return EditResult{}, fmt.Errorf("touch actor: %w", err)
	}

	var res EditResult
	if !opts.Actor.IsReviewer() && opts.AssertedStatus == domain.StatusApproved && rec.Status == domain.StatusApproved && !current.IsShadow() {
		res, err = e.stageShadow(ctx, tx, d, current, dec, opts, now)
	} else {
		res, err = e.editInPlace(ctx, tx, d, current, rec, dec, opts, now)
	}
	if err != nil {
		return EditResult{}, err
	}
	if res.Outcome == OutcomeNotFound {
		metrics.ObserveContent(string(d.Kind), "edit", string(res.Outcome))
		return res, nil
	}
	if err := tx.Commit(); err != nil {
		return EditResult{}, err
	}
	metrics.ObserveContent(string(d.Kind), "edit", string(res.Outcome))
	return res, nil
}

// stageShadow upserts the shadow draft of a published entity, keyed by its
// parent reference, together with the shadow's own ledger record. A requested
// lifecycle change is staged on the shadow and applied on promotion.
func (e Engine) stageShadow(ctx context.Context, tx *sql.Tx, d kinds.Descriptor, parent domain.Content, dec kinds.Decoded, opts EditOptions, now string) (EditResult, error) {
	actor := opts.Actor
	shadow, err := e.Repo.FindShadow(ctx, tx, d.Kind, parent.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return EditResult{}, err
	}
	if !exists {
		parentID := parent.ID
		shadow = domain.Content{
			ID:              uuid.NewString(),
			Kind:            d.Kind,
			ParentRef:       &parentID,
			LifecycleStatus: parent.LifecycleStatus,
			CreatedOn:       now,
			MediaName:       parent.MediaName,
		}
	}
	if opts.Lifecycle != "" {
		shadow.LifecycleStatus = opts.Lifecycle
	}
	shadow.DisplayName = dec.Payload.Name()
	shadow.Payload = dec.Fields
	shadow.FocusIDs = dec.FocusIDs
	shadow.CreatedBy = actor.ID
	shadow.UpdatedOn = now
	shadow.ApprovedBy, shadow.ApprovedOn = nil, nil
	applyMedia(d, &shadow, dec.Payload.Media())

	if exists {
		if _, err := e.Repo.UpdateContent(ctx, tx, shadow); err != nil {
			return EditResult{}, err
		}
	} else if err := e.Repo.InsertContent(ctx, tx, shadow); err != nil {
		return EditResult{}, err
	}

	fresh := domain.Comment{AuthorID: actor.ID, TS: now, StatusAtTime: domain.StatusDraft}
	srec, err := e.Repo.GetApprovalByParent(ctx, tx, d.Kind, parent.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		if _, err := e.Repo.InsertApproval(ctx, tx, domain.ApprovalRecord{
			ContentID:   shadow.ID,
			ContentKind: d.Kind,
			ParentRef:   shadow.ParentRef,
			Status:      domain.StatusDraft,
			DisplayName: shadow.DisplayName,
			Comments:    []domain.Comment{fresh},
			CreatedBy:   actor.ID,
			CreatedOn:   now,
		}); err != nil {
			return EditResult{}, err
		}
	case err != nil:
		return EditResult{}, err
	default:
		srec.Status = domain.StatusDraft
		srec.DisplayName = shadow.DisplayName
		srec.CreatedBy = actor.ID
		if err := e.Repo.UpdateApproval(ctx, tx, srec); err != nil {
			return EditResult{}, err
		}
		if err := e.Repo.AppendComment(ctx, tx, srec.ID, fresh); err != nil {
			return EditResult{}, err
		}
	}

	if err := e.appendEvent(ctx, tx, events.ContentShadowed, d.Kind, shadow.ID, actor, events.EventPayload{
		"parent_ref":   parent.ID,
		"display_name": shadow.DisplayName,
	}); err != nil {
		return EditResult{}, err
	}
	update := notice(actor, d.Kind, parent.ID, "updated")
	update["shadow_id"] = shadow.ID
	if err := e.appendEvent(ctx, tx, events.ContentUpdated, d.Kind, parent.ID, actor, update); err != nil {
		return EditResult{}, err
	}
	shadow.IsDraft = true
	return EditResult{Outcome: OutcomeShadowed, Content: shadow}, nil
}

// editInPlace rewrites the entity and refreshes its ledger record. Only a
// reviewer's edit grows the comment trail.
func (e Engine) editInPlace(ctx context.Context, tx *sql.Tx, d kinds.Descriptor, current domain.Content, rec domain.ApprovalRecord, dec kinds.Decoded, opts EditOptions, now string) (EditResult, error) {
	actor := opts.Actor
	if current.IsShadow() && actor.IsReviewer() {
		return EditResult{}, ValidationError{Field: "id", Reason: "shadow drafts are published with approve"}
	}
	updated := current
	updated.DisplayName = dec.Payload.Name()
	updated.Payload = dec.Fields
	updated.FocusIDs = dec.FocusIDs
	updated.UpdatedOn = now
	if opts.Lifecycle != "" {
		updated.LifecycleStatus = opts.Lifecycle
	}
	newMedia := applyMedia(d, &updated, dec.Payload.Media())
	status := domain.StatusDraft
	if actor.IsReviewer() {
		status = domain.StatusApproved
		updated.ApprovedBy, updated.ApprovedOn = &actor.ID, &now
	}

	ok, err := e.Repo.UpdateContent(ctx, tx, updated)
	if err != nil {
		return EditResult{}, err
	}
	if !ok {
		return EditResult{Outcome: OutcomeNotFound}, nil
	}

	rec.DisplayName = updated.DisplayName
	rec.Status = status
	if actor.IsReviewer() {
		rec.UpdatedBy, rec.UpdatedOn = &actor.ID, &now
	}
	if err := e.Repo.UpdateApproval(ctx, tx, rec); err != nil {
		return EditResult{}, err
	}
	if actor.IsReviewer() {
		if err := e.Repo.AppendComment(ctx, tx, rec.ID, domain.Comment{
			Text:         opts.Comment,
			AuthorID:     actor.ID,
			TS:           now,
			StatusAtTime: domain.StatusApproved,
		}); err != nil {
			return EditResult{}, err
		}
		if err := e.appendEvent(ctx, tx, events.ContentEdited, d.Kind, updated.ID, actor, events.EventPayload{
			"status":       status,
			"display_name": updated.DisplayName,
		}); err != nil {
			return EditResult{}, err
		}
	} else if err := e.appendEvent(ctx, tx, events.ContentUpdated, d.Kind, updated.ID, actor, notice(actor, d.Kind, updated.ID, "updated")); err != nil {
		return EditResult{}, err
	}
	if newMedia {
		if err := e.requestTranscription(ctx, tx, actor, updated); err != nil {
			return EditResult{}, err
		}
	}
	updated.IsDraft = status == domain.StatusDraft
	return EditResult{Outcome: OutcomeUpdated, Content: updated}, nil
}
