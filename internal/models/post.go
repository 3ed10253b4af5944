// Package models contains the persisted domain types and the error taxonomy
// shared by every layer.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostStatus is the lifecycle state of a donation post.
type PostStatus string

const (
	PostAvailable PostStatus = "Available"
	PostReserved  PostStatus = "Reserved"
	PostCompleted PostStatus = "Completed"

	// PostClaimedLegacy only exists in rows written before pending claims
	// stopped changing the post status. Migration 000002 rewrites it.
	PostClaimedLegacy PostStatus = "Claimed"
)

// Valid reports whether s is a status the engine can write.
func (s PostStatus) Valid() bool {
	switch s {
	case PostAvailable, PostReserved, PostCompleted:
		return true
	}
	return false
}

// ParsePostStatus parses a live post status.
func ParsePostStatus(raw string) (PostStatus, error) {
	s := PostStatus(raw)
	if !s.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown post status %q", raw))
	}
	return s, nil
}

// Post is a donation listing owned by a single user.
type Post struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID        string     `gorm:"size:64;not null;index" json:"owner_id"`
	Title          string     `gorm:"size:200;not null" json:"title"`
	Description    string     `gorm:"type:text" json:"description"`
	Quantity       string     `gorm:"size:32;not null" json:"quantity"`
	Unit           string     `gorm:"size:32;not null" json:"unit"`
	Category       string     `gorm:"size:64" json:"category"`
	PickupLocation string     `gorm:"size:500" json:"pickup_location"`
	ImageURL       string     `json:"image_url,omitempty"`
	Notes          string     `gorm:"type:text" json:"notes,omitempty"`
	Status         PostStatus `gorm:"size:20;not null;index" json:"status"`
	IsValid        bool       `gorm:"not null" json:"is_valid"`
	IsDeleted      bool       `gorm:"not null;index" json:"-"`
	ExpiresOn      *time.Time `json:"expires_on,omitempty"`
	Version        int64      `gorm:"not null" json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BeforeCreate assigns the surrogate key and the first row version.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return nil
}

// Expired reports whether the post expired before now.
func (p *Post) Expired(now time.Time) bool {
	return p.ExpiresOn != nil && p.ExpiresOn.Before(now)
}

// Claimable reports whether recipients can see and claim the post at all.
func (p *Post) Claimable(now time.Time) bool {
	return !p.IsDeleted && p.IsValid && !p.Expired(now)
}
