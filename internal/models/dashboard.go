package models

import "time"

// DashboardStats holds the per-user counters shown on the dashboard.
// MonthlyGoal is user-set; every other counter is maintained by the claim
// lifecycle and can be rebuilt from posts and claims.
type DashboardStats struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	UserID         string    `gorm:"size:64;not null;uniqueIndex" json:"user_id"`
	AvailablePosts int64     `gorm:"not null" json:"available_posts"`
	PendingClaims  int64     `gorm:"not null" json:"pending_claims"`
	TotalClaims    int64     `gorm:"not null" json:"total_claims"`
	TotalDonations int64     `gorm:"not null" json:"total_donations"`
	MealsServedKG  float64   `gorm:"column:meals_served_kg;not null" json:"meals_served_kg"`
	MonthlyGoal    int       `gorm:"not null;default:0" json:"monthly_goal"`
	LastUpdated    time.Time `json:"last_updated"`
}

// TableName pins the table name.
func (DashboardStats) TableName() string { return "dashboard_stats" }

// StatsDelta is a signed change to a user's lifecycle-maintained counters.
type StatsDelta struct {
	AvailablePosts int64
	PendingClaims  int64
	TotalClaims    int64
	TotalDonations int64
	MealsServedKG  float64
}

// IsZero reports whether the delta changes nothing.
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

// Add returns the sum of two deltas.
func (d StatsDelta) Add(o StatsDelta) StatsDelta {
	return StatsDelta{
		AvailablePosts: d.AvailablePosts + o.AvailablePosts,
		PendingClaims:  d.PendingClaims + o.PendingClaims,
		TotalClaims:    d.TotalClaims + o.TotalClaims,
		TotalDonations: d.TotalDonations + o.TotalDonations,
		MealsServedKG:  d.MealsServedKG + o.MealsServedKG,
	}
}
