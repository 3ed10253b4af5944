package repository

import (
	"context"
	"time"

	"waster/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimRepository defines the interface for claim data operations
type ClaimRepository interface {
	// Create inserts a claim. A second active claim by the same recipient on
	// the same post fails with ErrDuplicate.
	Create(ctx context.Context, claim *models.Claim) error
	// GetByID loads a claim with its post.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Claim, error)
	// UpdateStatus writes a new status if the row still has claim.Version.
	UpdateStatus(ctx context.Context, claim *models.Claim, to models.ClaimStatus) error
	ListByPost(ctx context.Context, postID uuid.UUID) ([]models.Claim, error)
	FindActive(ctx context.Context, postID uuid.UUID, recipientID string) (*models.Claim, error)
	ListByRecipient(ctx context.Context, recipientID string, status *models.ClaimStatus, page Page) ([]models.Claim, error)
	// ListVisibleByPost lists a post's claims for its owner, hiding cancelled ones.
	ListVisibleByPost(ctx context.Context, postID uuid.UUID, page Page) ([]models.Claim, error)
	CountByRecipient(ctx context.Context, recipientID string, status *models.ClaimStatus) (int64, error)
	ListCompletedByRecipient(ctx context.Context, recipientID string) ([]models.Claim, error)
	ListRecipientIDs(ctx context.Context) ([]string, error)
}

type claimRepository struct {
	db   *gorm.DB
	read *gorm.DB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *gorm.DB) ClaimRepository {
	return &claimRepository{db: db, read: readDB(db)}
}

func (r *claimRepository) Create(ctx context.Context, claim *models.Claim) error {
	return classify(r.db.WithContext(ctx).Omit("Post").Create(claim).Error)
}

func (r *claimRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Claim, error) {
	var claim models.Claim
	if err := r.read.WithContext(ctx).Preload("Post").First(&claim, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepository) UpdateStatus(ctx context.Context, claim *models.Claim, to models.ClaimStatus) error {
	now := time.Now().UTC()
	var activeKey interface{}
	if to.Active() {
		activeKey = models.ActiveKeyFor(claim.PostID, claim.RecipientID)
	}

	res := r.db.WithContext(ctx).Model(&models.Claim{}).
		Where("id = ? AND version = ?", claim.ID, claim.Version).
		Updates(map[string]interface{}{
			"status":     to,
			"active_key": activeKey,
			"version":    claim.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}

	claim.Status = to
	claim.Version++
	claim.UpdatedAt = now
	if key, ok := activeKey.(string); ok {
		claim.ActiveKey = &key
	} else {
		claim.ActiveKey = nil
	}
	return nil
}

func (r *claimRepository) ListByPost(ctx context.Context, postID uuid.UUID) ([]models.Claim, error) {
	var claims []models.Claim
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("claimed_at ASC, id ASC").
		Find(&claims).Error
	return claims, err
}

func (r *claimRepository) FindActive(ctx context.Context, postID uuid.UUID, recipientID string) (*models.Claim, error) {
	var claim models.Claim
	err := r.db.WithContext(ctx).
		Where("active_key = ?", models.ActiveKeyFor(postID, recipientID)).
		First(&claim).Error
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepository) ListByRecipient(ctx context.Context, recipientID string, status *models.ClaimStatus, page Page) ([]models.Claim, error) {
	var claims []models.Claim
	q := r.read.WithContext(ctx).Preload("Post").Where("recipient_id = ?", recipientID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	err := page.apply(q.Order("claimed_at DESC, id DESC")).Find(&claims).Error
	return claims, err
}

func (r *claimRepository) ListVisibleByPost(ctx context.Context, postID uuid.UUID, page Page) ([]models.Claim, error) {
	var claims []models.Claim
	q := r.read.WithContext(ctx).Preload("Post").
		Where("post_id = ? AND status <> ?", postID, models.ClaimCancelled).
		Order("claimed_at DESC, id DESC")
	err := page.apply(q).Find(&claims).Error
	return claims, err
}

func (r *claimRepository) CountByRecipient(ctx context.Context, recipientID string, status *models.ClaimStatus) (int64, error) {
	var count int64
	q := r.read.WithContext(ctx).Model(&models.Claim{}).Where("recipient_id = ?", recipientID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	err := q.Count(&count).Error
	return count, err
}

func (r *claimRepository) ListCompletedByRecipient(ctx context.Context, recipientID string) ([]models.Claim, error) {
	var claims []models.Claim
	err := r.read.WithContext(ctx).Preload("Post").
		Where("recipient_id = ? AND status = ?", recipientID, models.ClaimCompleted).
		Find(&claims).Error
	return claims, err
}

func (r *claimRepository) ListRecipientIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.read.WithContext(ctx).Model(&models.Claim{}).Distinct().Pluck("recipient_id", &ids).Error
	return ids, err
}
