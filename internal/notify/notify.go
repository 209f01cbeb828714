// Package notify delivers review notifications. Delivery is best effort: the
// relay logs and counts failures and never retries them.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Events carried by a Notice.
const (
	EventNew      = "new"
	EventUpdated  = "updated"
	EventApproved = "approved"
)

// Notice describes one review action. RecipientID is set only on
// contributor notices.
type Notice struct {
	ActorName   string `json:"actor_name"`
	ActorID     string `json:"actor_id"`
	ContentID   string `json:"content_id"`
	ContentKind string `json:"content_kind"`
	Event       string `json:"event"`
	RecipientID string `json:"recipient_id,omitempty"`
}

func (n Notice) Subject() string {
	switch n.Event {
	case EventNew:
		return fmt.Sprintf("New %s submitted by %s", n.ContentKind, n.ActorName)
	case EventUpdated:
		return fmt.Sprintf("%s updated %s %s", n.ActorName, n.ContentKind, n.ContentID)
	case EventApproved:
		return fmt.Sprintf("Your %s was approved by %s", n.ContentKind, n.ActorName)
	}
	return fmt.Sprintf("%s %s: %s", n.ContentKind, n.ContentID, n.Event)
}

type Dispatcher interface {
	NotifyReviewers(ctx context.Context, n Notice) error
	NotifyContributor(ctx context.Context, n Notice) error
}

// Multi fans a notice out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) NotifyReviewers(ctx context.Context, n Notice) error {
	var errs []error
	for _, d := range m {
		if err := d.NotifyReviewers(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyContributor(ctx context.Context, n Notice) error {
	var errs []error
	for _, d := range m {
		if err := d.NotifyContributor(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notices to the logger.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) NotifyReviewers(_ context.Context, n Notice) error {
	l.event(n).Msg("notify reviewers")
	return nil
}

func (l Log) NotifyContributor(_ context.Context, n Notice) error {
	l.event(n).Str("recipient_id", n.RecipientID).Msg("notify contributor")
	return nil
}

func (l Log) event(n Notice) *zerolog.Event {
	return l.Logger.Info().
		Str("actor_id", n.ActorID).
		Str("content_id", n.ContentID).
		Str("content_kind", n.ContentKind).
		Str("event", n.Event)
}
