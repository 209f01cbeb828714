package engine_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"stillpoint/internal/config"
	"stillpoint/internal/db"
	"stillpoint/internal/domain"
	"stillpoint/internal/engine"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/events"
	"stillpoint/internal/metrics"
	"stillpoint/internal/migrate"
	"stillpoint/internal/repo"
)

var (
	reviewer    = auth.Actor{ID: "rev-1", Name: "Rae", Role: auth.RoleReviewer}
	contributor = auth.Actor{ID: "con-1", Name: "Kit", Role: auth.RoleContributor}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) eventCount(t *testing.T, evtType string) int {
	t.Helper()
	evs, err := env.Engine.Repo.EventsAfter(env.Ctx, 0, 1000)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	n := 0
	for _, e := range evs {
		if e.Type == evtType {
			n++
		}
	}
	return n
}

func (env testEnv) get(t *testing.T, kind, id string) engine.ContentView {
	t.Helper()
	view, err := env.Engine.Get(env.Ctx, kind, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return view
}

func TestReviewerCreateIsApproved(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "I am calm"}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ApprovedBy == nil || *c.ApprovedBy != reviewer.ID || c.IsDraft {
		t.Fatalf("expected approved entity, got %+v", c)
	}
	view := env.get(t, "affirmation", c.ID)
	if view.Approval.Status != domain.StatusApproved {
		t.Fatalf("expected approved record, got %s", view.Approval.Status)
	}
	if len(view.Approval.Comments) != 1 || view.Approval.Comments[0].StatusAtTime != domain.StatusApproved || view.Approval.Comments[0].Text != nil {
		t.Fatalf("unexpected comments %+v", view.Approval.Comments)
	}
	if view.Approval.UpdatedBy == nil || *view.Approval.UpdatedBy != reviewer.ID {
		t.Fatalf("expected reviewer stamp on record")
	}
	if n := env.eventCount(t, events.ContentSubmitted); n != 0 {
		t.Fatalf("reviewer create must not notify, got %d", n)
	}
}

func TestContributorCreateIsDraftAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "gratitude", map[string]any{"text": "Morning light"}, contributor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ApprovedBy != nil || !c.IsDraft {
		t.Fatalf("expected draft entity, got %+v", c)
	}
	view := env.get(t, "gratitude", c.ID)
	if view.Approval.Status != domain.StatusDraft || view.Approval.UpdatedBy != nil {
		t.Fatalf("unexpected record %+v", view.Approval)
	}
	if !view.Content.IsDraft {
		t.Fatalf("draft flag not projected from ledger")
	}
	if n := env.eventCount(t, events.ContentSubmitted); n != 1 {
		t.Fatalf("expected one submission notice, got %d", n)
	}
}

func TestEditLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Breathe"}, contributor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := env.get(t, "affirmation", a.ID); got.Approval.Status != domain.StatusDraft || len(got.Approval.Comments) != 1 {
		t.Fatalf("unexpected initial record %+v", got.Approval)
	}

	res, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "affirmation", ID: a.ID, Payload: map[string]any{"text": "Breathe"}, Actor: reviewer})
	if err != nil || res.Outcome != engine.OutcomeUpdated {
		t.Fatalf("reviewer edit: %v %v", res.Outcome, err)
	}
	published := env.get(t, "affirmation", a.ID)
	if published.Approval.Status != domain.StatusApproved || len(published.Approval.Comments) != 2 {
		t.Fatalf("expected approved record with 2 comments, got %+v", published.Approval)
	}
	if published.Approval.Comments[1].StatusAtTime != domain.StatusApproved {
		t.Fatalf("reviewer comment should record approved status")
	}

	res, err = env.Engine.Edit(env.Ctx, engine.EditOptions{
		Kind:           "affirmation",
		ID:             a.ID,
		Payload:        map[string]any{"text": "Breathe deeply"},
		AssertedStatus: domain.StatusApproved,
		Actor:          contributor,
	})
	if err != nil || res.Outcome != engine.OutcomeShadowed {
		t.Fatalf("contributor edit: %v %v", res.Outcome, err)
	}
	after := env.get(t, "affirmation", a.ID)
	if !reflect.DeepEqual(published.Content, after.Content) || !reflect.DeepEqual(published.Approval, after.Approval) {
		t.Fatalf("canonical entity changed by divergent edit")
	}
	if after.Shadow == nil || after.Shadow.ID != res.Content.ID {
		t.Fatalf("expected shadow in view, got %+v", after.Shadow)
	}
	if after.Shadow.ParentRef == nil || *after.Shadow.ParentRef != a.ID || after.Shadow.DisplayName != "Breathe deeply" {
		t.Fatalf("unexpected shadow %+v", after.Shadow)
	}
	shadow := env.get(t, "affirmation", res.Content.ID)
	if shadow.Approval.Status != domain.StatusDraft || len(shadow.Approval.Comments) != 1 || shadow.Approval.Comments[0].StatusAtTime != domain.StatusDraft {
		t.Fatalf("unexpected shadow record %+v", shadow.Approval)
	}

	again, err := env.Engine.Edit(env.Ctx, engine.EditOptions{
		Kind:           "affirmation",
		ID:             a.ID,
		Payload:        map[string]any{"text": "Breathe slowly"},
		AssertedStatus: domain.StatusApproved,
		Actor:          contributor,
	})
	if err != nil || again.Content.ID != res.Content.ID {
		t.Fatalf("expected shadow upsert, got %v %v", again.Content.ID, err)
	}
	shadow = env.get(t, "affirmation", again.Content.ID)
	if shadow.Content.DisplayName != "Breathe slowly" || len(shadow.Approval.Comments) != 2 {
		t.Fatalf("shadow not overwritten: %+v", shadow)
	}
	if n := env.eventCount(t, events.ContentUpdated); n != 2 {
		t.Fatalf("expected two update notices, got %d", n)
	}
}

func TestContributorDirectEditAppendsNoComment(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "ritual", map[string]any{"title": "Evening wind-down", "steps": []any{"dim lights"}}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := env.Engine.Edit(env.Ctx, engine.EditOptions{
		Kind:    "ritual",
		ID:      c.ID,
		Payload: map[string]any{"title": "Evening wind down", "steps": []any{"dim lights", "stretch"}},
		Actor:   contributor,
	})
	if err != nil || res.Outcome != engine.OutcomeUpdated {
		t.Fatalf("edit: %v %v", res.Outcome, err)
	}
	view := env.get(t, "ritual", c.ID)
	if len(view.Approval.Comments) != 1 {
		t.Fatalf("contributor edit appended a comment")
	}
	if view.Approval.Status != domain.StatusDraft || view.Approval.DisplayName != "Evening wind down" {
		t.Fatalf("unexpected record %+v", view.Approval)
	}
	if !view.Content.IsDraft {
		t.Fatalf("draft flag not refreshed")
	}
	if n := env.eventCount(t, events.ContentUpdated); n != 1 {
		t.Fatalf("expected one update notice, got %d", n)
	}
}

func TestReviewerEditAppendsComment(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "idea", map[string]any{"title": "Sleep series"}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	note := "tightened title"
	for i := 0; i < 2; i++ {
		if _, err := env.Engine.Edit(env.Ctx, engine.EditOptions{
			Kind:           "idea",
			ID:             c.ID,
			Payload:        map[string]any{"title": "Sleep series"},
			AssertedStatus: domain.StatusDraft,
			Comment:        &note,
			Actor:          reviewer,
		}); err != nil {
			t.Fatalf("edit: %v", err)
		}
	}
	view := env.get(t, "idea", c.ID)
	if len(view.Approval.Comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(view.Approval.Comments))
	}
	last := view.Approval.Comments[2]
	if last.Text == nil || *last.Text != note || last.AuthorID != reviewer.ID {
		t.Fatalf("unexpected comment %+v", last)
	}
	if n := env.eventCount(t, events.ContentUpdated); n != 0 {
		t.Fatalf("reviewer edits must not notify")
	}
}

func TestStaleApprovedHintFallsBackToDirectEdit(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Rest"}, contributor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := env.Engine.Edit(env.Ctx, engine.EditOptions{
		Kind:           "affirmation",
		ID:             c.ID,
		Payload:        map[string]any{"text": "Rest well"},
		AssertedStatus: domain.StatusApproved,
		Actor:          contributor,
	})
	if err != nil || res.Outcome != engine.OutcomeUpdated {
		t.Fatalf("expected in-place edit, got %v %v", res.Outcome, err)
	}
	if view := env.get(t, "affirmation", c.ID); view.Shadow != nil || view.Content.DisplayName != "Rest well" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestSoftDeleteTreatsEntityAsAbsent(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "sound", map[string]any{"title": "Rain"}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := env.Engine.Delete(env.Ctx, "sound", c.ID, contributor)
	if err != nil || res.Outcome != engine.OutcomeDeleted {
		t.Fatalf("delete: %v %v", res.Outcome, err)
	}
	stored, err := env.Engine.Repo.GetContent(env.Ctx, nil, domain.KindSound, c.ID)
	if err != nil || stored.LifecycleStatus != domain.LifecycleDeleted || stored.DeletedOn == nil {
		t.Fatalf("expected soft-deleted row, got %+v %v", stored, err)
	}
	var deletedOn *string
	if err := env.Engine.DB.QueryRow(`SELECT deleted_on FROM approval_records WHERE content_id=?`, c.ID).Scan(&deletedOn); err != nil || deletedOn == nil {
		t.Fatalf("expected record deleted_on, got %v %v", deletedOn, err)
	}
	if _, err := env.Engine.Get(env.Ctx, "sound", c.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	before := testutil.ToFloat64(metrics.ContentOperations.WithLabelValues("sound", "edit", "not_found"))
	edit, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "sound", ID: c.ID, Payload: map[string]any{"title": "Storm"}, Actor: reviewer})
	if err != nil || edit.Outcome != engine.OutcomeNotFound {
		t.Fatalf("expected not_found outcome, got %v %v", edit.Outcome, err)
	}
	if after := testutil.ToFloat64(metrics.ContentOperations.WithLabelValues("sound", "edit", "not_found")); after != before+1 {
		t.Fatalf("not_found edit not counted")
	}
	page, err := env.Engine.List(env.Ctx, "sound", repo.ContentFilters{})
	if err != nil || page.Total != 0 {
		t.Fatalf("deleted entity listed: %+v %v", page, err)
	}
	again, err := env.Engine.Delete(env.Ctx, "sound", c.ID, reviewer)
	if err != nil || again.Outcome != engine.OutcomeNotFound {
		t.Fatalf("second delete: %v %v", again.Outcome, err)
	}
}

func TestDeleteRetiresShadows(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Steady"}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	shadow, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "affirmation", ID: c.ID, Payload: map[string]any{"text": "Steady now"}, AssertedStatus: domain.StatusApproved, Actor: contributor})
	if err != nil || shadow.Outcome != engine.OutcomeShadowed {
		t.Fatalf("shadow edit: %v %v", shadow.Outcome, err)
	}
	res, err := env.Engine.Delete(env.Ctx, "affirmation", c.ID, reviewer)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Shadows) != 1 || res.Shadows[0] != shadow.Content.ID {
		t.Fatalf("expected shadow retired, got %v", res.Shadows)
	}
	if _, err := env.Engine.Get(env.Ctx, "affirmation", shadow.Content.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("shadow still live: %v", err)
	}
	pending, err := env.Engine.ListPending(env.Ctx, "affirmation", reviewer, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected empty queue, got %v %v", pending, err)
	}
}

func TestFocusDeleteCascade(t *testing.T) {
	env := newTestEnv(t)
	calm, err := env.Engine.Create(env.Ctx, "focus", map[string]any{"name": "Calm"}, reviewer)
	if err != nil {
		t.Fatalf("create focus: %v", err)
	}
	sleep, err := env.Engine.Create(env.Ctx, "focus", map[string]any{"name": "Sleep"}, contributor)
	if err != nil {
		t.Fatalf("create focus: %v", err)
	}
	aff, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Let go", "focus_ids": []any{calm.ID, sleep.ID}}, reviewer)
	if err != nil {
		t.Fatalf("create affirmation: %v", err)
	}
	med, err := env.Engine.Create(env.Ctx, "meditation", map[string]any{"title": "Body scan", "focus_ids": []any{calm.ID}}, reviewer)
	if err != nil {
		t.Fatalf("create meditation: %v", err)
	}
	if _, err := env.Engine.SetUserInterests(env.Ctx, "user-9", []string{sleep.ID, calm.ID}, reviewer); err != nil {
		t.Fatalf("interests: %v", err)
	}

	res, err := env.Engine.Delete(env.Ctx, "focus", calm.ID, reviewer)
	if err != nil {
		t.Fatalf("delete focus: %v", err)
	}
	if res.Cascade == nil || res.Cascade.ContentRefs != 2 || res.Cascade.InterestRefs != 1 {
		t.Fatalf("unexpected cascade %+v", res.Cascade)
	}
	if got := env.get(t, "affirmation", aff.ID).Content.FocusIDs; !reflect.DeepEqual(got, []string{sleep.ID}) {
		t.Fatalf("affirmation tags %v", got)
	}
	if got := env.get(t, "meditation", med.ID).Content.FocusIDs; len(got) != 0 {
		t.Fatalf("meditation tags %v", got)
	}
	interests, err := env.Engine.UserInterests(env.Ctx, "user-9")
	if err != nil || !reflect.DeepEqual(interests.FocusIDs, []string{sleep.ID}) {
		t.Fatalf("interests %v %v", interests, err)
	}

	res, err = env.Engine.Delete(env.Ctx, "focus", sleep.ID, reviewer)
	if err != nil || res.Cascade != nil {
		t.Fatalf("unapproved focus must not cascade: %+v %v", res.Cascade, err)
	}
	if got := env.get(t, "affirmation", aff.ID).Content.FocusIDs; !reflect.DeepEqual(got, []string{sleep.ID}) {
		t.Fatalf("affirmation tags changed: %v", got)
	}
}

func TestListShowsOnlyPublishedCanonicals(t *testing.T) {
	env := newTestEnv(t)
	focus, err := env.Engine.Create(env.Ctx, "focus", map[string]any{"name": "Morning"}, reviewer)
	if err != nil {
		t.Fatalf("create focus: %v", err)
	}
	b, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Begin gently", "focus_ids": []any{focus.ID}}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Arrive"}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	draft, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Draft thought"}, contributor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "affirmation", ID: a.ID, Payload: map[string]any{"text": "Arrive here"}, AssertedStatus: domain.StatusApproved, Actor: contributor}); err != nil {
		t.Fatalf("shadow edit: %v", err)
	}

	page, err := env.Engine.List(env.Ctx, "affirmation", repo.ContentFilters{Sort: "display_name", Order: "asc"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 || page.Items[0].ID != a.ID || page.Items[1].ID != b.ID {
		t.Fatalf("unexpected page %+v", page)
	}
	for _, item := range page.Items {
		view := env.get(t, "affirmation", item.ID)
		if view.Approval.ContentID != item.ID || view.Approval.DeletedOn != nil {
			t.Fatalf("item %s lacks a live record", item.ID)
		}
	}

	drafts, err := env.Engine.List(env.Ctx, "affirmation", repo.ContentFilters{Status: domain.StatusDraft})
	if err != nil || drafts.Total != 1 || drafts.Items[0].ID != draft.ID {
		t.Fatalf("draft filter: %+v %v", drafts, err)
	}
	tagged, err := env.Engine.List(env.Ctx, "affirmation", repo.ContentFilters{FocusID: focus.ID})
	if err != nil || tagged.Total != 1 || tagged.Items[0].ID != b.ID {
		t.Fatalf("focus filter: %+v %v", tagged, err)
	}
	search, err := env.Engine.List(env.Ctx, "affirmation", repo.ContentFilters{Search: "gently"})
	if err != nil || search.Total != 1 {
		t.Fatalf("search: %+v %v", search, err)
	}
	paged, err := env.Engine.List(env.Ctx, "affirmation", repo.ContentFilters{Limit: 1, Page: 2, Order: "asc"})
	if err != nil || paged.Total != 2 || len(paged.Items) != 1 || paged.Items[0].ID != a.ID {
		t.Fatalf("paging: %+v %v", paged, err)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.List(env.Ctx, "affirmation", repo.ContentFilters{Sort: "rating"}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApprovePromotesShadow(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Breathe"}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	shadow, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "affirmation", ID: a.ID, Payload: map[string]any{"text": "Breathe deeply"}, AssertedStatus: domain.StatusApproved, Actor: contributor})
	if err != nil {
		t.Fatalf("shadow edit: %v", err)
	}
	pending, err := env.Engine.ListPending(env.Ctx, "affirmation", reviewer, 10)
	if err != nil || len(pending) != 1 || pending[0].ID != shadow.Content.ID {
		t.Fatalf("pending: %v %v", pending, err)
	}
	if _, err := env.Engine.ListPending(env.Ctx, "affirmation", contributor, 10); err == nil {
		t.Fatalf("contributor must not read the review queue")
	}

	var forbidden auth.ForbiddenError
	if _, err := env.Engine.Approve(env.Ctx, "affirmation", shadow.Content.ID, contributor, nil); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	note := "lovely"
	res, err := env.Engine.Approve(env.Ctx, "affirmation", shadow.Content.ID, reviewer, &note)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.Promoted || res.Content.ID != a.ID || res.ShadowID != shadow.Content.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	view := env.get(t, "affirmation", a.ID)
	if view.Content.DisplayName != "Breathe deeply" || view.Shadow != nil {
		t.Fatalf("canonical not promoted: %+v", view)
	}
	if n := len(view.Approval.Comments); n != 2 || view.Approval.Comments[1].Text == nil || *view.Approval.Comments[1].Text != note {
		t.Fatalf("unexpected trail %+v", view.Approval.Comments)
	}
	if _, err := env.Engine.Get(env.Ctx, "affirmation", shadow.Content.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("shadow not retired: %v", err)
	}
	if n := env.eventCount(t, events.ContentApproved); n != 1 {
		t.Fatalf("expected approval event, got %d", n)
	}
	if _, err := env.Engine.Approve(env.Ctx, "affirmation", a.ID, reviewer, nil); err == nil {
		t.Fatalf("approving published content should fail")
	}
}

func TestApproveCanonicalDraft(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "pod", map[string]any{"title": "Episode one"}, contributor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := env.Engine.Approve(env.Ctx, "pod", c.ID, reviewer, nil)
	if err != nil || res.Promoted {
		t.Fatalf("approve: %+v %v", res, err)
	}
	view := env.get(t, "pod", c.ID)
	if view.Approval.Status != domain.StatusApproved || view.Content.IsDraft || view.Content.ApprovedBy == nil {
		t.Fatalf("draft not approved: %+v", view)
	}
}

func TestTranscriptionRequestedForNewMedia(t *testing.T) {
	env := newTestEnv(t)
	med, err := env.Engine.Create(env.Ctx, "meditation", map[string]any{"title": "Scan", "audio": "scan.mp3"}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if med.MediaFolder != "meditations" || med.MediaName != "scan.mp3" {
		t.Fatalf("media not attached: %+v", med)
	}
	count := func() int { return env.eventCount(t, events.TranscriptionRequested) }
	if count() != 1 {
		t.Fatalf("expected transcription on create")
	}
	edit := func(audio string, actor auth.Actor, hint domain.ApprovalStatus) engine.EditResult {
		t.Helper()
		res, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "meditation", ID: med.ID, Payload: map[string]any{"title": "Scan", "audio": audio}, AssertedStatus: hint, Actor: actor})
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		return res
	}
	edit("scan.mp3", reviewer, "")
	if count() != 1 {
		t.Fatalf("unchanged media must not trigger transcription")
	}
	edit("scan-v2.mp3", reviewer, "")
	if count() != 2 {
		t.Fatalf("expected transcription for new media")
	}
	shadow := edit("scan-v3.mp3", contributor, domain.StatusApproved)
	if count() != 2 {
		t.Fatalf("shadow drafts must not trigger transcription")
	}
	if _, err := env.Engine.Approve(env.Ctx, "meditation", shadow.Content.ID, reviewer, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if count() != 3 {
		t.Fatalf("expected transcription on promotion")
	}
	if _, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "No media"}, reviewer); err != nil {
		t.Fatalf("create: %v", err)
	}
	if count() != 3 {
		t.Fatalf("kinds without media must not trigger transcription")
	}
}

func TestValidationHappensBeforeStore(t *testing.T) {
	env := newTestEnv(t)
	var verr engine.ValidationError
	if _, err := env.Engine.Create(env.Ctx, "podcast", map[string]any{"title": "x"}, reviewer); !errors.As(err, &verr) {
		t.Fatalf("expected kind validation error, got %v", err)
	}
	if _, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{}, reviewer); !errors.As(err, &verr) || verr.Field != "text" {
		t.Fatalf("expected text validation error, got %v", err)
	}
	if _, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "x"}, auth.Actor{Role: auth.RoleReviewer}); !errors.As(err, &verr) {
		t.Fatalf("expected actor validation error, got %v", err)
	}
	if _, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "affirmation", ID: "missing", Payload: map[string]any{"text": "x"}, Lifecycle: domain.LifecycleDeleted, Actor: reviewer}); !errors.As(err, &verr) {
		t.Fatalf("expected lifecycle validation error, got %v", err)
	}
	evs, err := env.Engine.Repo.EventsAfter(env.Ctx, 0, 10)
	if err != nil || len(evs) != 0 {
		t.Fatalf("validation failures wrote events: %v %v", evs, err)
	}
}

func TestEditMissingIsBenign(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "gratitude", ID: "nope", Payload: map[string]any{"text": "x"}, Actor: contributor})
	if err != nil || res.Outcome != engine.OutcomeNotFound {
		t.Fatalf("expected not_found, got %v %v", res.Outcome, err)
	}
}

func TestLifecycleToggle(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Create(env.Ctx, "breathwork", map[string]any{"title": "Box", "pattern": map[string]any{"inhale": 4, "exhale": 4}}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "breathwork", ID: c.ID, Payload: map[string]any{"title": "Box", "pattern": map[string]any{"inhale": 4, "exhale": 4}}, Lifecycle: domain.LifecycleInactive, Actor: reviewer}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	active, err := env.Engine.List(env.Ctx, "breathwork", repo.ContentFilters{Lifecycle: domain.LifecycleActive})
	if err != nil || active.Total != 0 {
		t.Fatalf("inactive item listed as active: %+v %v", active, err)
	}
	all, err := env.Engine.List(env.Ctx, "breathwork", repo.ContentFilters{})
	if err != nil || all.Total != 1 || all.Items[0].LifecycleStatus != domain.LifecycleInactive {
		t.Fatalf("inactive item missing: %+v %v", all, err)
	}
}

func TestUserInterests(t *testing.T) {
	env := newTestEnv(t)
	focus, err := env.Engine.Create(env.Ctx, "focus", map[string]any{"name": "Energy", "color": "#ffcc00"}, reviewer)
	if err != nil {
		t.Fatalf("create focus: %v", err)
	}
	got, err := env.Engine.SetUserInterests(env.Ctx, contributor.ID, []string{focus.ID, focus.ID}, contributor)
	if err != nil || !reflect.DeepEqual(got.FocusIDs, []string{focus.ID}) {
		t.Fatalf("set interests: %v %v", got, err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.SetUserInterests(env.Ctx, "someone-else", nil, contributor); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.SetUserInterests(env.Ctx, contributor.ID, []string{"ghost"}, contributor); !errors.As(err, &verr) {
		t.Fatalf("expected unknown focus error, got %v", err)
	}
}

func TestShadowCarriesLifecycleUntilApproved(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Soften"}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := env.Engine.Edit(env.Ctx, engine.EditOptions{
		Kind:           "affirmation",
		ID:             a.ID,
		Payload:        map[string]any{"text": "Soften the jaw"},
		Lifecycle:      domain.LifecycleInactive,
		AssertedStatus: domain.StatusApproved,
		Actor:          contributor,
	})
	if err != nil || res.Outcome != engine.OutcomeShadowed {
		t.Fatalf("contributor edit: %v %v", res.Outcome, err)
	}
	if res.Content.LifecycleStatus != domain.LifecycleInactive {
		t.Fatalf("shadow lost requested lifecycle: %s", res.Content.LifecycleStatus)
	}
	if got := env.get(t, "affirmation", a.ID).Content.LifecycleStatus; got != domain.LifecycleActive {
		t.Fatalf("canonical lifecycle changed before review: %s", got)
	}

	if _, err := env.Engine.Approve(env.Ctx, "affirmation", res.Content.ID, reviewer, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := env.get(t, "affirmation", a.ID).Content.LifecycleStatus; got != domain.LifecycleInactive {
		t.Fatalf("promotion dropped lifecycle: %s", got)
	}

	again, err := env.Engine.Edit(env.Ctx, engine.EditOptions{
		Kind:           "affirmation",
		ID:             a.ID,
		Payload:        map[string]any{"text": "Soften the shoulders"},
		AssertedStatus: domain.StatusApproved,
		Actor:          contributor,
	})
	if err != nil || again.Content.LifecycleStatus != domain.LifecycleInactive {
		t.Fatalf("new shadow should inherit parent lifecycle: %+v %v", again.Content, err)
	}
}

func TestContentFocusMustExist(t *testing.T) {
	env := newTestEnv(t)
	var verr engine.ValidationError
	if _, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Ground", "focus_ids": []any{"ghost"}}, reviewer); !errors.As(err, &verr) || verr.Field != "focus_ids" {
		t.Fatalf("expected unknown focus error on create, got %v", err)
	}

	focus, err := env.Engine.Create(env.Ctx, "focus", map[string]any{"name": "Ground"}, reviewer)
	if err != nil {
		t.Fatalf("create focus: %v", err)
	}
	a, err := env.Engine.Create(env.Ctx, "affirmation", map[string]any{"text": "Ground", "focus_ids": []any{focus.ID}}, reviewer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Delete(env.Ctx, "focus", focus.ID, reviewer); err != nil {
		t.Fatalf("delete focus: %v", err)
	}
	_, err = env.Engine.Edit(env.Ctx, engine.EditOptions{Kind: "affirmation", ID: a.ID, Payload: map[string]any{"text": "Ground", "focus_ids": []any{focus.ID}}, Actor: reviewer})
	if !errors.As(err, &verr) || verr.Field != "focus_ids" {
		t.Fatalf("expected deleted focus to be rejected on edit, got %v", err)
	}
	if n := env.eventCount(t, events.ContentUpdated); n != 0 {
		t.Fatalf("rejected edit wrote %d update notices", n)
	}
}
