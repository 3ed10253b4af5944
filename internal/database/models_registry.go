package database

import "waster/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Post{},
		&models.Claim{},
		&models.DashboardStats{},
	}
}

// constraintIndexes are partial unique indexes GORM tags cannot express.
// The statements are valid for both PostgreSQL and SQLite.
var constraintIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_claims_one_approved_per_post ON claims (post_id) WHERE status = 'Approved'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_claims_one_completed_per_post ON claims (post_id) WHERE status = 'Completed'`,
}
