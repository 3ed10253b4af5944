package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "Pending"
	ClaimApproved  ClaimStatus = "Approved"
	ClaimRejected  ClaimStatus = "Rejected"
	ClaimCancelled ClaimStatus = "Cancelled"
	ClaimCompleted ClaimStatus = "Completed"
)

// AllClaimStatuses lists every claim status in lifecycle order.
var AllClaimStatuses = []ClaimStatus{
	ClaimPending, ClaimApproved, ClaimRejected, ClaimCancelled, ClaimCompleted,
}

// Valid reports whether s is one of the known claim statuses.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimPending, ClaimApproved, ClaimRejected, ClaimCancelled, ClaimCompleted:
		return true
	}
	return false
}

// Active reports whether a claim in s still holds its place on the post.
func (s ClaimStatus) Active() bool {
	return s == ClaimPending || s == ClaimApproved
}

// Terminal reports whether no further transition leaves s.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimRejected || s == ClaimCancelled || s == ClaimCompleted
}

// ParseClaimStatus parses a claim status filter value.
func ParseClaimStatus(raw string) (ClaimStatus, error) {
	s := ClaimStatus(raw)
	if !s.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown claim status %q", raw))
	}
	return s, nil
}

// Claim is a recipient's request to receive a post.
type Claim struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	PostID      uuid.UUID   `gorm:"type:uuid;not null;index" json:"post_id"`
	Post        *Post       `gorm:"foreignKey:PostID" json:"post,omitempty"`
	RecipientID string      `gorm:"size:64;not null;index" json:"recipient_id"`
	OwnerID     string      `gorm:"size:64;not null;index" json:"owner_id"`
	Status      ClaimStatus `gorm:"size:20;not null;index" json:"status"`
	// ActiveKey is set while the claim is Pending or Approved and cleared
	// once it is terminal; its unique index allows one active claim per
	// recipient and post.
	ActiveKey *string   `gorm:"size:100;uniqueIndex" json:"-"`
	Version   int64     `gorm:"not null" json:"-"`
	ClaimedAt time.Time `gorm:"not null;index" json:"claimed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveKeyFor builds the active-claim key for a recipient on a post.
func ActiveKeyFor(postID uuid.UUID, recipientID string) string {
	return postID.String() + ":" + recipientID
}

// BeforeCreate assigns the surrogate key, first version and active key.
func (c *Claim) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.ClaimedAt.IsZero() {
		c.ClaimedAt = time.Now().UTC()
	}
	if c.Status.Active() && c.ActiveKey == nil {
		key := ActiveKeyFor(c.PostID, c.RecipientID)
		c.ActiveKey = &key
	}
	return nil
}
