package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes notices on a pub/sub channel for push workers to pick up.
type Redis struct {
	Client  publisher
	Channel string
}

type redisMessage struct {
	Audience string `json:"audience"`
	Notice
}

func (r Redis) NotifyReviewers(ctx context.Context, n Notice) error {
	return r.publish(ctx, "reviewers", n)
}

func (r Redis) NotifyContributor(ctx context.Context, n Notice) error {
	return r.publish(ctx, "contributor", n)
}

func (r Redis) publish(ctx context.Context, audience string, n Notice) error {
	data, err := json.Marshal(redisMessage{Audience: audience, Notice: n})
	if err != nil {
		return err
	}
	if err := r.Client.Publish(ctx, r.Channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.Channel, err)
	}
	return nil
}
