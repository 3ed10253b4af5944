// Package lifecycle holds the claim state machine: the transition table,
// who may trigger each transition and how a post's status follows from
// the statuses of its claims. Nothing here touches storage.
package lifecycle

import (
	"fmt"

	"waster/internal/models"
)

// Operation is a claim transition requested by a user.
type Operation string

const (
	OpApprove  Operation = "approve"
	OpReject   Operation = "reject"
	OpCancel   Operation = "cancel"
	OpComplete Operation = "complete"
)

// Operations lists every transition operation.
var Operations = []Operation{OpApprove, OpReject, OpCancel, OpComplete}

type edge struct {
	from models.ClaimStatus
	op   Operation
}

var transitions = map[edge]models.ClaimStatus{
	{models.ClaimPending, OpApprove}:   models.ClaimApproved,
	{models.ClaimPending, OpReject}:    models.ClaimRejected,
	{models.ClaimPending, OpCancel}:    models.ClaimCancelled,
	{models.ClaimApproved, OpCancel}:   models.ClaimCancelled,
	{models.ClaimApproved, OpComplete}: models.ClaimCompleted,
}

// Transition returns the status a claim in from moves to under op, or a
// conflict error when the table has no such edge.
func Transition(from models.ClaimStatus, op Operation) (models.ClaimStatus, error) {
	if to, ok := transitions[edge{from, op}]; ok {
		return to, nil
	}
	return "", models.NewConflictError(conflictMessage(from, op))
}

func conflictMessage(from models.ClaimStatus, op Operation) string {
	switch {
	case op == OpComplete && from == models.ClaimCompleted:
		return "claim is already completed"
	case op == OpComplete && from == models.ClaimPending:
		return "claim must be approved before it can be completed"
	case op == OpApprove && from == models.ClaimApproved:
		return "claim is already approved"
	}
	return fmt.Sprintf("cannot %s a claim that is %s", op, from)
}

// Role is the relation of the caller to a claim.
type Role int

const (
	RoleNone Role = iota
	RoleOwner
	RoleRecipient
)

// RoleOf returns the caller's role on a claim. Owners can never be
// recipients of their own posts, so the two never overlap.
func RoleOf(callerID, ownerID, recipientID string) Role {
	switch callerID {
	case "":
		return RoleNone
	case ownerID:
		return RoleOwner
	case recipientID:
		return RoleRecipient
	}
	return RoleNone
}

// Authorize checks that the caller may run op on a claim.
func Authorize(op Operation, callerID, ownerID, recipientID string) error {
	role := RoleOf(callerID, ownerID, recipientID)
	switch op {
	case OpApprove, OpReject:
		if role != RoleOwner {
			return models.NewForbiddenError(fmt.Sprintf("only the post owner can %s a claim", op))
		}
	case OpCancel:
		if role != RoleRecipient {
			return models.NewForbiddenError("only the recipient can cancel a claim")
		}
	case OpComplete:
		if role == RoleNone {
			return models.NewForbiddenError("only the post owner or the recipient can complete a claim")
		}
	default:
		return models.NewValidationError(fmt.Sprintf("unknown operation %q", op))
	}
	return nil
}

// DerivePostStatus computes a post's status from the statuses of all of its
// claims. Pending claims leave a post Available.
func DerivePostStatus(claims []models.ClaimStatus) models.PostStatus {
	status := models.PostAvailable
	for _, c := range claims {
		switch c {
		case models.ClaimCompleted:
			return models.PostCompleted
		case models.ClaimApproved:
			status = models.PostReserved
		}
	}
	return status
}
