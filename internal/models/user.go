package models

import "time"

// User is the contact profile of an externally authenticated user. It is
// only read when building claim detail views.
type User struct {
	ID                string    `gorm:"primaryKey;size:64" json:"id"`
	UserName          string    `gorm:"size:100" json:"username"`
	FullName          string    `gorm:"size:200" json:"full_name"`
	Email             string    `gorm:"size:254" json:"email"`
	PhoneNumber       string    `gorm:"size:32" json:"phone_number"`
	Address           string    `gorm:"size:500" json:"address"`
	City              string    `gorm:"size:100" json:"city"`
	ProfilePictureURL string    `json:"profile_picture_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasContactDetails reports whether a recipient left enough details for a
// pickup to be arranged.
func (u *User) HasContactDetails() bool {
	return u.PhoneNumber != "" && u.Address != ""
}
