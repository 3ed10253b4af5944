package lifecycle

import "waster/internal/models"

// EventType names a claim event delivered to the notification channel.
type EventType string

const (
	EventClaimCreated   EventType = "claim_created"
	EventClaimApproved  EventType = "claim_approved"
	EventClaimRejected  EventType = "claim_rejected"
	EventClaimCancelled EventType = "claim_cancelled"
	EventClaimCompleted EventType = "claim_completed"
)

// EventFor maps a transition to the event it emits.
func EventFor(op Operation) EventType {
	switch op {
	case OpApprove:
		return EventClaimApproved
	case OpReject:
		return EventClaimRejected
	case OpCancel:
		return EventClaimCancelled
	case OpComplete:
		return EventClaimCompleted
	}
	return ""
}

// Addressee returns the user an event about claim should reach: the
// party that did not act.
func Addressee(op Operation, callerID string, claim *models.Claim) string {
	switch op {
	case OpApprove, OpReject:
		return claim.RecipientID
	case OpCancel:
		return claim.OwnerID
	case OpComplete:
		if callerID == claim.OwnerID {
			return claim.RecipientID
		}
		return claim.OwnerID
	}
	return ""
}
