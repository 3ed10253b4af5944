package repository

import (
	"context"
	"time"

	"waster/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Post, error)
	// GetForUpdate reads the post and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Post, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Post, error)
	// UpdateStatus writes a new status if the row still has post.Version.
	UpdateStatus(ctx context.Context, post *models.Post, to models.PostStatus) error
	// UpdateFields writes editable fields if the row still has post.Version.
	UpdateFields(ctx context.Context, post *models.Post, fields map[string]interface{}) error
	SoftDelete(ctx context.Context, post *models.Post) error
	ListAvailable(ctx context.Context, now time.Time, page Page) ([]models.Post, error)
	ListByOwner(ctx context.Context, ownerID string, page Page) ([]models.Post, error)
	CountAvailableByOwner(ctx context.Context, ownerID string) (int64, error)
	ListCompletedByOwner(ctx context.Context, ownerID string) ([]models.Post, error)
	ListOwnerIDs(ctx context.Context) ([]string, error)
}

type postRepository struct {
	db   *gorm.DB
	read *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db, read: readDB(db)}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	return classify(r.db.WithContext(ctx).Create(post).Error)
}

func (r *postRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	var post models.Post
	if err := r.read.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&post, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Post, error) {
	out := make(map[uuid.UUID]*models.Post, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var posts []models.Post
	if err := r.read.WithContext(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, err
	}
	for i := range posts {
		out[posts[i].ID] = &posts[i]
	}
	return out, nil
}

func (r *postRepository) UpdateStatus(ctx context.Context, post *models.Post, to models.PostStatus) error {
	now := time.Now().UTC()
	if err := r.versionedUpdate(ctx, post, map[string]interface{}{
		"status":     to,
		"version":    post.Version + 1,
		"updated_at": now,
	}); err != nil {
		return err
	}
	post.Status = to
	post.Version++
	post.UpdatedAt = now
	return nil
}

func (r *postRepository) UpdateFields(ctx context.Context, post *models.Post, fields map[string]interface{}) error {
	now := time.Now().UTC()
	updates := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = post.Version + 1
	updates["updated_at"] = now

	if err := r.versionedUpdate(ctx, post, updates); err != nil {
		return err
	}
	post.Version++
	post.UpdatedAt = now
	return nil
}

func (r *postRepository) SoftDelete(ctx context.Context, post *models.Post) error {
	if err := r.UpdateFields(ctx, post, map[string]interface{}{"is_deleted": true}); err != nil {
		return err
	}
	post.IsDeleted = true
	return nil
}

func (r *postRepository) versionedUpdate(ctx context.Context, post *models.Post, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND version = ?", post.ID, post.Version).
		Updates(updates)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

func (r *postRepository) ListAvailable(ctx context.Context, now time.Time, page Page) ([]models.Post, error) {
	var posts []models.Post
	q := r.read.WithContext(ctx).
		Where("status = ? AND is_valid = ? AND is_deleted = ?", models.PostAvailable, true, false).
		Where("(expires_on IS NULL OR expires_on > ?)", now).
		Order("created_at DESC")
	err := page.apply(q).Find(&posts).Error
	return posts, err
}

func (r *postRepository) ListByOwner(ctx context.Context, ownerID string, page Page) ([]models.Post, error) {
	var posts []models.Post
	q := r.read.WithContext(ctx).
		Where("owner_id = ? AND is_deleted = ?", ownerID, false).
		Order("created_at DESC")
	err := page.apply(q).Find(&posts).Error
	return posts, err
}

func (r *postRepository) CountAvailableByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.read.WithContext(ctx).Model(&models.Post{}).
		Where("owner_id = ? AND status = ? AND is_deleted = ?", ownerID, models.PostAvailable, false).
		Count(&count).Error
	return count, err
}

// ListCompletedByOwner includes soft-deleted posts: a finished donation
// stays counted.
func (r *postRepository) ListCompletedByOwner(ctx context.Context, ownerID string) ([]models.Post, error) {
	var posts []models.Post
	err := r.read.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, models.PostCompleted).
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) ListOwnerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.read.WithContext(ctx).Model(&models.Post{}).Distinct().Pluck("owner_id", &ids).Error
	return ids, err
}
