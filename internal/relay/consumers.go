package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"stillpoint/internal/domain"
	"stillpoint/internal/events"
	"stillpoint/internal/notify"
	"stillpoint/internal/transcribe"
)

const (
	NotificationsConsumer  = "notifications"
	TranscriptionsConsumer = "transcriptions"
)

type noticePayload struct {
	notify.Notice
	AuthorID string `json:"author_id"`
}

// Notifications turns review events into dispatcher calls. Delivery is
// fire-and-forget.
func Notifications(d notify.Dispatcher) Consumer {
	return Consumer{
		Name:  NotificationsConsumer,
		Types: []string{events.ContentSubmitted, events.ContentUpdated, events.ContentApproved},
		Handle: func(ctx context.Context, evt domain.Event) error {
			var p noticePayload
			if err := json.Unmarshal([]byte(evt.Payload), &p); err != nil {
				return fmt.Errorf("decode notice %d: %w", evt.ID, err)
			}
			if evt.Type != events.ContentApproved {
				return d.NotifyReviewers(ctx, p.Notice)
			}
			if p.AuthorID == "" || p.AuthorID == p.ActorID {
				return nil
			}
			p.Notice.RecipientID = p.AuthorID
			return d.NotifyContributor(ctx, p.Notice)
		},
	}
}

// Transcriptions forwards transcription requests to the queue. A failed
// request is retried on the next pass.
func Transcriptions(q transcribe.Requester) Consumer {
	return Consumer{
		Name:    TranscriptionsConsumer,
		Types:   []string{events.TranscriptionRequested},
		Durable: true,
		Handle: func(ctx context.Context, evt domain.Event) error {
			var job transcribe.Job
			if err := json.Unmarshal([]byte(evt.Payload), &job); err != nil {
				return fmt.Errorf("decode job %d: %w", evt.ID, err)
			}
			return q.Request(ctx, job)
		},
	}
}
