package engine

import (
	"context"
	"strings"

	"stillpoint/internal/domain"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/events"
)

// SetUserInterests replaces a user's ordered focus preferences. Users manage
// their own list; reviewers may manage anyone's. Every id must name a live focus.
func (e Engine) SetUserInterests(ctx context.Context, userID string, focusIDs []string, actor auth.Actor) (domain.UserInterests, error) {
	if err := requireActor(actor); err != nil {
		return domain.UserInterests{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserInterests{}, ValidationError{Field: "user_id", Reason: "user id is required"}
	}
	if actor.ID != userID && !actor.IsReviewer() {
		return domain.UserInterests{}, auth.ForbiddenError{Permission: "interests.write"}
	}
	ids := []string{}
	seen := map[string]bool{}
	for _, id := range focusIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return domain.UserInterests{}, ValidationError{Field: "focus_ids", Reason: "must not contain empty ids"}
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserInterests{}, err
	}
	defer tx.Rollback()

	if err := e.requireLiveFocus(ctx, tx, ids); err != nil {
		return domain.UserInterests{}, err
	}
	if err := e.Repo.ReplaceUserInterests(ctx, tx, userID, ids); err != nil {
		return domain.UserInterests{}, err
	}
	if err := e.appendEvent(ctx, tx, events.InterestsUpdated, "user", userID, actor, events.EventPayload{"focus_ids": ids}); err != nil {
		return domain.UserInterests{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UserInterests{}, err
	}
	return domain.UserInterests{UserID: userID, FocusIDs: ids}, nil
}

func (e Engine) UserInterests(ctx context.Context, userID string) (domain.UserInterests, error) {
	ids, err := e.Repo.ListUserInterests(ctx, nil, userID)
	if err != nil {
		return domain.UserInterests{}, err
	}
	return domain.UserInterests{UserID: userID, FocusIDs: ids}, nil
}
