// Package notifications delivers claim lifecycle events to the outside
// world. Delivery is fire-and-forget: publishing never blocks or fails the
// operation that produced the event.
package notifications

import (
	"time"

	"waster/internal/lifecycle"
	"waster/internal/models"

	"github.com/google/uuid"
)

// ClaimEvent tells one user that a claim they are party to changed. UserID
// is the addressee; RecipientID and OwnerID are the claim's parties.
type ClaimEvent struct {
	EventType   lifecycle.EventType `json:"event_type"`
	UserID      string              `json:"user_id"`
	RecipientID string              `json:"recipient_id"`
	OwnerID     string              `json:"owner_id"`
	PostTitle   string              `json:"post_title"`
	ClaimID     uuid.UUID           `json:"claim_id"`
	PostID      uuid.UUID           `json:"post_id"`
	Status      models.ClaimStatus  `json:"status"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// NewClaimEvent builds the event for claim addressed to userID.
func NewClaimEvent(eventType lifecycle.EventType, userID string, claim *models.Claim, postTitle string) ClaimEvent {
	return ClaimEvent{
		EventType:   eventType,
		UserID:      userID,
		RecipientID: claim.RecipientID,
		OwnerID:     claim.OwnerID,
		PostTitle:   postTitle,
		ClaimID:     claim.ID,
		PostID:      claim.PostID,
		Status:      claim.Status,
		OccurredAt:  time.Now().UTC(),
	}
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(events ...ClaimEvent)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(...ClaimEvent) {}
