package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stillpoint/internal/config"
	"stillpoint/internal/domain"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/events"
	"stillpoint/internal/kinds"
	"stillpoint/internal/metrics"
	"stillpoint/internal/repo"
	"stillpoint/internal/transcribe"
)

// ValidationError is returned before any store access for malformed input.
type ValidationError = kinds.ValidationError

// Outcome describes what a lifecycle operation did. OutcomeNotFound is a
// benign result, not an error.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeShadowed Outcome = "shadowed"
	OutcomeApproved Outcome = "approved"
	OutcomeDeleted  Outcome = "deleted"
	OutcomeNotFound Outcome = "not_found"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Log    zerolog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
		Log:    zerolog.Nop(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType string, kind domain.Kind, entityID string, actor auth.Actor, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, string(kind), entityID, actor.ID, payload)
}

func (e Engine) touchActor(ctx context.Context, tx *sql.Tx, actor auth.Actor, now string) error {
	return e.Repo.TouchActor(ctx, tx, domain.ActorRecord{
		ID:          actor.ID,
		DisplayName: actor.Name,
		Role:        string(actor.Role),
		CreatedAt:   now,
		LastSeenAt:  now,
	})
}

// requireLiveFocus rejects tag references to focus entities that are missing,
// deleted or only staged as a shadow.
func (e Engine) requireLiveFocus(ctx context.Context, tx *sql.Tx, ids []string) error {
	for _, id := range ids {
		focus, err := e.Repo.GetContent(ctx, tx, domain.KindFocus, id)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && (focus.Deleted() || focus.IsShadow())) {
			return ValidationError{Field: "focus_ids", Reason: "unknown focus " + id}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func requireActor(actor auth.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return ValidationError{Field: "actor", Reason: "actor id is required"}
	}
	if actor.Role != auth.RoleReviewer && actor.Role != auth.RoleContributor {
		return ValidationError{Field: "actor", Reason: fmt.Sprintf("unknown role %q", actor.Role)}
	}
	return nil
}

// notice is the payload the relay hands to the notification dispatcher.
func notice(actor auth.Actor, kind domain.Kind, contentID, event string) events.EventPayload {
	return events.EventPayload{
		"actor_name":   actor.DisplayName(),
		"actor_id":     actor.ID,
		"content_id":   contentID,
		"content_kind": string(kind),
		"event":        event,
	}
}

func (e Engine) requestTranscription(ctx context.Context, tx *sql.Tx, actor auth.Actor, c domain.Content) error {
	job := transcribe.NewJob(c.ID, string(c.Kind), c.MediaFolder, c.MediaName)
	return e.appendEvent(ctx, tx, events.TranscriptionRequested, c.Kind, c.ID, actor, events.EventPayload{
		"content_id":    job.ContentID,
		"content_kind":  job.ContentKind,
		"media_folder":  job.MediaFolder,
		"media_name":    job.MediaName,
		"output_folder": job.OutputFolder,
	})
}

// applyMedia copies the payload's media reference onto the entity and reports
// whether a new, non-empty reference was set.
func applyMedia(d kinds.Descriptor, c *domain.Content, media string) bool {
	if !d.HasMedia() {
		return false
	}
	changed := media != "" && media != c.MediaName
	c.MediaName = media
	c.MediaFolder = ""
	if media != "" {
		c.MediaFolder = d.MediaFolder
	}
	return changed
}

// Create inserts an entity and its ledger record together. A reviewer's
// content is approved on creation; a contributor's starts as a draft and
// reviewers are notified.
func (e Engine) Create(ctx context.Context, kind string, payload map[string]any, actor auth.Actor) (domain.Content, error) {
	d, err := kinds.Lookup(kind)
	if err != nil {
		return domain.Content{}, err
	}
	if err := requireActor(actor); err != nil {
		return domain.Content{}, err
	}
	dec, err := d.Decode(payload)
	if err != nil {
		return domain.Content{}, err
	}
	now := e.stamp()
	c := domain.Content{
		ID:              uuid.NewString(),
		Kind:            d.Kind,
		DisplayName:     dec.Payload.Name(),
		Payload:         dec.Fields,
		FocusIDs:        dec.FocusIDs,
		LifecycleStatus: domain.LifecycleActive,
		CreatedBy:       actor.ID,
		CreatedOn:       now,
		UpdatedOn:       now,
	}
	newMedia := applyMedia(d, &c, dec.Payload.Media())
	status := domain.StatusDraft
	rec := domain.ApprovalRecord{
		ContentID:   c.ID,
		ContentKind: c.Kind,
		DisplayName: c.DisplayName,
		CreatedBy:   actor.ID,
		CreatedOn:   now,
	}
	if actor.IsReviewer() {
		status = domain.StatusApproved
		c.ApprovedBy, c.ApprovedOn = &actor.ID, &now
		rec.UpdatedBy, rec.UpdatedOn = &actor.ID, &now
	}
	rec.Status = status
	rec.Comments = []domain.Comment{{AuthorID: actor.ID, TS: now, StatusAtTime: status}}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Content{}, err
	}
	defer tx.Rollback()

	if err := e.requireLiveFocus(ctx, tx, c.FocusIDs); err != nil {
		return domain.Content{}, err
	}
	if err := e.touchActor(ctx, tx, actor, now); err != nil {
		return domain.Content{}, fmt.Errorf("touch actor: %w", err)
	}
	if err := e.Repo.InsertContent(ctx, tx, c); err != nil {
		return domain.Content{}, err
	}
	if _, err := e.Repo.InsertApproval(ctx, tx, rec); err != nil {
		return domain.Content{}, err
	}
	if err := e.appendEvent(ctx, tx, events.ContentCreated, c.Kind, c.ID, actor, events.EventPayload{
		"status":       status,
		"display_name": c.DisplayName,
	}); err != nil {
		return domain.Content{}, err
	}
	if !actor.IsReviewer() {
		if err := e.appendEvent(ctx, tx, events.ContentSubmitted, c.Kind, c.ID, actor, notice(actor, c.Kind, c.ID, "new")); err != nil {
			return domain.Content{}, err
		}
	}
	if newMedia {
		if err := e.requestTranscription(ctx, tx, actor, c); err != nil {
			return domain.Content{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Content{}, err
	}
	c.IsDraft = status == domain.StatusDraft
	metrics.ObserveContent(string(c.Kind), "create", string(OutcomeCreated))
	return c, nil
}

// ContentView is an entity together with its ledger record and, for a
// canonical entity, its pending shadow draft if one exists.
type ContentView struct {
	Content  domain.Content        `json:"content"`
	Approval domain.ApprovalRecord `json:"approval"`
	Shadow   *domain.Content       `json:"shadow,omitempty"`
}

// Get returns a live entity. Deleted entities are reported as repo.ErrNotFound.
func (e Engine) Get(ctx context.Context, kind, id string) (ContentView, error) {
	d, err := kinds.Lookup(kind)
	if err != nil {
		return ContentView{}, err
	}
	c, err := e.Repo.GetContent(ctx, nil, d.Kind, id)
	if err != nil {
		return ContentView{}, err
	}
	if c.Deleted() {
		return ContentView{}, repo.ErrNotFound
	}
	rec, err := e.Repo.GetApproval(ctx, nil, d.Kind, id)
	if err != nil {
		return ContentView{}, fmt.Errorf("approval record for %s: %w", id, err)
	}
	view := ContentView{Content: c, Approval: rec}
	if !c.IsShadow() {
		shadow, err := e.Repo.FindShadow(ctx, nil, d.Kind, id)
		switch {
		case err == nil:
			view.Shadow = &shadow
		case !errors.Is(err, repo.ErrNotFound):
			return ContentView{}, err
		}
	}
	return view, nil
}

var listSorts = map[string]bool{"": true, "created_on": true, "updated_on": true, "display_name": true}

// List returns published (or status-filtered) canonical entities of a kind.
func (e Engine) List(ctx context.Context, kind string, f repo.ContentFilters) (repo.ContentPage, error) {
	d, err := kinds.Lookup(kind)
	if err != nil {
		return repo.ContentPage{}, err
	}
	f.Kind = d.Kind
	if f.Status != "" && !f.Status.Valid() {
		return repo.ContentPage{}, ValidationError{Field: "status", Reason: "must be draft or approved"}
	}
	switch f.Lifecycle {
	case "", domain.LifecycleActive, domain.LifecycleInactive:
	default:
		return repo.ContentPage{}, ValidationError{Field: "lifecycle", Reason: "must be active or inactive"}
	}
	if !listSorts[f.Sort] {
		return repo.ContentPage{}, ValidationError{Field: "sort", Reason: "must be created_on, updated_on or display_name"}
	}
	switch strings.ToLower(f.Order) {
	case "", "asc", "desc":
	default:
		return repo.ContentPage{}, ValidationError{Field: "order", Reason: "must be asc or desc"}
	}
	if f.Page < 0 || f.Limit < 0 {
		return repo.ContentPage{}, ValidationError{Field: "page", Reason: "must not be negative"}
	}
	return e.Repo.ListContent(ctx, f)
}
