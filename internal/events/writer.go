package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the log. Types marked as outbox are consumed by the relay.
const (
	ContentCreated         = "content.created"
	ContentSubmitted       = "content.submitted" // outbox: notify reviewers "new"
	ContentUpdated         = "content.updated"   // outbox: notify reviewers "updated"
	ContentEdited          = "content.edited"
	ContentShadowed        = "content.shadowed"
	ContentApproved        = "content.approved" // outbox: notify contributor
	ContentDeleted         = "content.deleted"
	FocusCascaded          = "focus.cascaded"
	InterestsUpdated       = "user.interests.updated"
	TranscriptionRequested = "transcription.requested" // outbox: transcription queue
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside the caller's transaction so it commits or
// rolls back together with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
