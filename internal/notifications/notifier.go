package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID string) string {
	return "notifications:user:" + userID
}

// PublishUser sends a notification payload to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, userID string, payload string) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

type envelope struct {
	Type    string     `json:"type"`
	Payload ClaimEvent `json:"payload"`
}

// Name implements Sink.
func (n *Notifier) Name() string { return "redis" }

// Deliver implements Sink by publishing {type, payload} to the addressee's
// channel.
func (n *Notifier) Deliver(ctx context.Context, event ClaimEvent) error {
	body, err := json.Marshal(envelope{Type: string(event.EventType), Payload: event})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return n.PublishUser(ctx, event.UserID, string(body))
}
