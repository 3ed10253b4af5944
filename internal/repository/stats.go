package repository

import (
	"context"
	"time"

	"waster/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsRepository persists the per-user dashboard counters.
type StatsRepository interface {
	// Get returns gorm.ErrRecordNotFound when the user has no row yet.
	Get(ctx context.Context, userID string) (*models.DashboardStats, error)
	// GetForUpdate reads the user's row, creating it first when needed, and
	// locks it until the transaction ends.
	GetForUpdate(ctx context.Context, userID string) (*models.DashboardStats, error)
	// ApplyDelta adds delta to the user's counters in place, creating the
	// row first when needed.
	ApplyDelta(ctx context.Context, userID string, delta models.StatsDelta) error
	// SaveCounters overwrites the lifecycle counters, keeping MonthlyGoal.
	SaveCounters(ctx context.Context, stats *models.DashboardStats) error
	SetMonthlyGoal(ctx context.Context, userID string, goal int) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

type statsRepository struct {
	db *gorm.DB
}

// NewStatsRepository creates a new dashboard stats repository
func NewStatsRepository(db *gorm.DB) StatsRepository {
	return &statsRepository{db: db}
}

func (r *statsRepository) Get(ctx context.Context, userID string) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *statsRepository) GetForUpdate(ctx context.Context, userID string) (*models.DashboardStats, error) {
	if err := r.ensure(ctx, userID); err != nil {
		return nil, err
	}
	var stats models.DashboardStats
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *statsRepository) ensure(ctx context.Context, userID string) error {
	row := models.DashboardStats{UserID: userID, LastUpdated: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&row).Error
	return classify(err)
}

func (r *statsRepository) ApplyDelta(ctx context.Context, userID string, delta models.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	if err := r.ensure(ctx, userID); err != nil {
		return err
	}

	// column = column + ? keeps concurrent increments from overwriting each other
	updates := map[string]interface{}{"last_updated": time.Now().UTC()}
	if delta.AvailablePosts != 0 {
		updates["available_posts"] = gorm.Expr("available_posts + ?", delta.AvailablePosts)
	}
	if delta.PendingClaims != 0 {
		updates["pending_claims"] = gorm.Expr("pending_claims + ?", delta.PendingClaims)
	}
	if delta.TotalClaims != 0 {
		updates["total_claims"] = gorm.Expr("total_claims + ?", delta.TotalClaims)
	}
	if delta.TotalDonations != 0 {
		updates["total_donations"] = gorm.Expr("total_donations + ?", delta.TotalDonations)
	}
	if delta.MealsServedKG != 0 {
		updates["meals_served_kg"] = gorm.Expr("meals_served_kg + ?", delta.MealsServedKG)
	}

	return classify(r.db.WithContext(ctx).Model(&models.DashboardStats{}).
		Where("user_id = ?", userID).
		Updates(updates).Error)
}

func (r *statsRepository) SaveCounters(ctx context.Context, stats *models.DashboardStats) error {
	stats.LastUpdated = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"available_posts", "pending_claims", "total_claims",
				"total_donations", "meals_served_kg", "last_updated",
			}),
		}).
		Omit("id", "monthly_goal").
		Create(stats).Error
	return classify(err)
}

func (r *statsRepository) SetMonthlyGoal(ctx context.Context, userID string, goal int) error {
	row := models.DashboardStats{UserID: userID, MonthlyGoal: goal, LastUpdated: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"monthly_goal", "last_updated"}),
		}).
		Create(&row).Error
	return classify(err)
}

func (r *statsRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.DashboardStats{}).Pluck("user_id", &ids).Error
	return ids, err
}
